package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

// FileOption configures OpenFileStorage.
type FileOption func(*fileOptions)

type fileOptions struct {
	logger *zap.Logger
}

// WithFileLogger reports entries dropped while loading the file.
func WithFileLogger(logger *zap.Logger) FileOption {
	return func(o *fileOptions) {
		o.logger = logger
	}
}

// FileStorage persists the address list as a JSON array.
// Every mutation rewrites the whole file atomically.
type FileStorage struct {
	path string

	mu        sync.RWMutex
	addresses []string
}

// OpenFileStorage loads addresses from path. A missing file yields an empty list.
// Entries that are not valid addresses are dropped with a warning and vanish
// from the file on the next write.
func OpenFileStorage(path string, opts ...FileOption) (*FileStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("addresses file path is empty")
	}
	o := fileOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := readAddresses(path)
	if err != nil {
		return nil, err
	}

	addresses, dropped := dedupe(raw)
	for _, d := range dropped {
		o.logger.Warn("dropping invalid address from addresses file",
			zap.String("path", path),
			zap.String("address", d.value),
			zap.Error(d.err),
		)
	}

	return &FileStorage{
		path:      path,
		addresses: addresses,
	}, nil
}

// Path returns the backing file location.
func (s *FileStorage) Path() string {
	return s.path
}

// ListAddresses returns a copy of the tracked addresses in insertion order.
func (s *FileStorage) ListAddresses() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.addresses), nil
}

// AddAddress validates the address, appends it, and saves the file.
func (s *FileStorage) AddAddress(address string) error {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.addresses, normalized) {
		return ErrDuplicateAddress
	}

	next := append(slices.Clone(s.addresses), normalized)
	if err := writeAddresses(s.path, next); err != nil {
		return err
	}
	s.addresses = next
	return nil
}

// RemoveAddress deletes the address and saves the file.
func (s *FileStorage) RemoveAddress(address string) error {
	address = strings.TrimSpace(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.Index(s.addresses, address)
	if idx < 0 {
		return ErrAddressNotFound
	}

	next := slices.Delete(slices.Clone(s.addresses), idx, idx+1)
	if err := writeAddresses(s.path, next); err != nil {
		return err
	}
	s.addresses = next
	return nil
}

func readAddresses(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read addresses file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []string{}, nil
	}

	var addresses []string
	if err := json.Unmarshal(data, &addresses); err != nil {
		return nil, fmt.Errorf("parse addresses file %s: %w", path, err)
	}
	return addresses, nil
}

func writeAddresses(path string, addresses []string) error {
	if addresses == nil {
		addresses = []string{}
	}
	data, err := json.Marshal(addresses)
	if err != nil {
		return fmt.Errorf("encode addresses: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write addresses file: %w", err)
	}
	return nil
}
