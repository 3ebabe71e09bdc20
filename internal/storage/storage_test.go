package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewMemoryStorageDropsBlankAndDuplicateAddresses(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage("bc1qa", " bc1qa ", "", "bc1qb")

	got, err := store.ListAddresses()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"bc1qa", "bc1qb"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// ensure mutation safety
	got[0] = "mutated"
	again, _ := store.ListAddresses()
	if again[0] != "bc1qa" {
		t.Fatalf("expected defensive copy, got %v", again)
	}
}

func TestAddAddressKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	for _, address := range []string{"zeta", "alpha", "  mid  "} {
		if err := store.AddAddress(address); err != nil {
			t.Fatalf("AddAddress(%q) failed: %v", address, err)
		}
	}

	got, _ := store.ListAddresses()
	if want := []string{"zeta", "alpha", "mid"}; !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAddAddressRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		address string
		wantErr error
	}{
		{"", ErrEmptyAddress},
		{"   ", ErrEmptyAddress},
		{"bc1 q", ErrInvalidAddress},
		{"bc1\tq", ErrInvalidAddress},
		{"bc1qé", ErrInvalidAddress},
		{strings.Repeat("a", maxAddressLength+1), ErrInvalidAddress},
	}

	for idx, tc := range testCases {
		t.Run(fmt.Sprintf("case_%d", idx), func(t *testing.T) {
			store := NewMemoryStorage()
			if err := store.AddAddress(tc.address); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v for %q, got %v", tc.wantErr, tc.address, err)
			}
		})
	}
}

func TestAddAddressRejectsDuplicate(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage("bc1qa")
	if err := store.AddAddress(" bc1qa"); !errors.Is(err, ErrDuplicateAddress) {
		t.Fatalf("expected ErrDuplicateAddress, got %v", err)
	}
}

func TestRemoveAddress(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage("a", "b", "c")
	if err := store.RemoveAddress("b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := store.ListAddresses()
	if want := []string{"a", "c"}; !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if err := store.RemoveAddress("b"); !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound, got %v", err)
	}
}

func TestMemoryStorageConcurrentAccess(t *testing.T) {
	store := NewMemoryStorage()
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(2)

		go func(offset int) {
			defer wg.Done()
			if err := store.AddAddress(fmt.Sprintf("addr-%d", offset)); err != nil {
				t.Errorf("AddAddress failed: %v", err)
			}
		}(i)

		go func() {
			defer wg.Done()
			if _, err := store.ListAddresses(); err != nil {
				t.Errorf("ListAddresses failed: %v", err)
			}
		}()
	}

	wg.Wait()

	got, _ := store.ListAddresses()
	if len(got) != 32 {
		t.Fatalf("expected 32 addresses, got %d", len(got))
	}
}

func TestFileStorageMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store, err := OpenFileStorage(filepath.Join(t.TempDir(), "addresses.json"))
	if err != nil {
		t.Fatalf("OpenFileStorage returned error: %v", err)
	}
	got, _ := store.ListAddresses()
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}

func TestFileStoragePersistsMutations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "addresses.json")
	store, err := OpenFileStorage(path)
	if err != nil {
		t.Fatalf("OpenFileStorage returned error: %v", err)
	}

	for _, address := range []string{"bc1qa", "bc1qb", "bc1qc"} {
		if err := store.AddAddress(address); err != nil {
			t.Fatalf("AddAddress failed: %v", err)
		}
	}
	if err := store.RemoveAddress("bc1qb"); err != nil {
		t.Fatalf("RemoveAddress failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if got, want := string(raw), `["bc1qa","bc1qc"]`; got != want {
		t.Fatalf("expected file contents %s, got %s", want, got)
	}

	reopened, err := OpenFileStorage(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, _ := reopened.ListAddresses()
	if want := []string{"bc1qa", "bc1qc"}; !slices.Equal(got, want) {
		t.Fatalf("expected %v after reopen, got %v", want, got)
	}
}

func TestFileStorageRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "addresses.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := OpenFileStorage(path); err == nil {
		t.Fatalf("expected error for malformed file")
	}
}

func TestFileStorageLogsDroppedEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "addresses.json")
	if err := os.WriteFile(path, []byte(`["bc1qa","has space","","bc1qa","bc1qb"]`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	core, logs := observer.New(zap.WarnLevel)
	store, err := OpenFileStorage(path, WithFileLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("OpenFileStorage returned error: %v", err)
	}

	got, _ := store.ListAddresses()
	if !slices.Equal(got, []string{"bc1qa", "bc1qb"}) {
		t.Fatalf("expected valid unique addresses, got %v", got)
	}

	entries := logs.FilterMessage("dropping invalid address from addresses file").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 dropped-entry warnings, got %d", len(entries))
	}
	var dropped []string
	for _, e := range entries {
		dropped = append(dropped, e.ContextMap()["address"].(string))
	}
	if !slices.Equal(dropped, []string{"has space", ""}) {
		t.Fatalf("unexpected dropped entries %q", dropped)
	}
}

func TestFileStorageFailedWriteKeepsState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "missing-dir", "addresses.json")
	store, err := OpenFileStorage(path)
	if err != nil {
		t.Fatalf("OpenFileStorage returned error: %v", err)
	}

	if err := store.AddAddress("bc1qa"); err == nil {
		t.Fatalf("expected write error for missing parent directory")
	}
	got, _ := store.ListAddresses()
	if len(got) != 0 {
		t.Fatalf("expected list to stay empty after failed write, got %v", got)
	}
}
