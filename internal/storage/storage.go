package storage

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

const maxAddressLength = 128

var (
	// ErrEmptyAddress indicates a blank address was submitted.
	ErrEmptyAddress = errors.New("address must not be empty")
	// ErrInvalidAddress indicates the address contains characters that cannot appear in an address.
	ErrInvalidAddress = errors.New("address must be 1-128 printable ASCII characters without spaces")
	// ErrDuplicateAddress indicates the address is already tracked.
	ErrDuplicateAddress = errors.New("address is already tracked")
	// ErrAddressNotFound indicates the address is not tracked.
	ErrAddressNotFound = errors.New("address is not tracked")
)

// Storage provides access to the tracked address list.
type Storage interface {
	ListAddresses() ([]string, error)
	AddAddress(address string) error
	RemoveAddress(address string) error
}

// MemoryStorage keeps addresses in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu        sync.RWMutex
	addresses []string
}

// NewMemoryStorage initialises storage with the given addresses, dropping blanks and duplicates.
func NewMemoryStorage(initial ...string) *MemoryStorage {
	addresses, _ := dedupe(initial)
	return &MemoryStorage{addresses: addresses}
}

// ListAddresses returns a copy of the tracked addresses in insertion order.
func (s *MemoryStorage) ListAddresses() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.addresses), nil
}

// AddAddress validates and appends the address.
func (s *MemoryStorage) AddAddress(address string) error {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.addresses, normalized) {
		return ErrDuplicateAddress
	}
	s.addresses = append(s.addresses, normalized)
	return nil
}

// RemoveAddress deletes the address from the list.
func (s *MemoryStorage) RemoveAddress(address string) error {
	address = strings.TrimSpace(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.Index(s.addresses, address)
	if idx < 0 {
		return ErrAddressNotFound
	}
	s.addresses = slices.Delete(s.addresses, idx, idx+1)
	return nil
}

// NormalizeAddress trims the address and checks it against the accepted character set.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", ErrEmptyAddress
	}
	if len(address) > maxAddressLength {
		return "", ErrInvalidAddress
	}
	for i := 0; i < len(address); i++ {
		c := address[i]
		if c <= ' ' || c > '~' {
			return "", ErrInvalidAddress
		}
	}
	return address, nil
}

// droppedAddress is a stored entry that failed validation on load.
type droppedAddress struct {
	value string
	err   error
}

func dedupe(src []string) ([]string, []droppedAddress) {
	out := make([]string, 0, len(src))
	var dropped []droppedAddress
	for _, address := range src {
		normalized, err := NormalizeAddress(address)
		if err != nil {
			dropped = append(dropped, droppedAddress{value: address, err: err})
			continue
		}
		if slices.Contains(out, normalized) {
			continue
		}
		out = append(out, normalized)
	}
	return out, dropped
}
