package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var base = time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)

func storeFactories(t *testing.T) map[string]func(limit int) Store {
	t.Helper()

	return map[string]func(limit int) Store{
		"memory": func(limit int) Store {
			return NewMemoryStore(limit)
		},
		"sqlite": func(limit int) Store {
			cfg := DefaultSQLiteConfig()
			cfg.Limit = limit
			store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"), cfg)
			if err != nil {
				t.Fatalf("OpenSQLite returned error: %v", err)
			}
			t.Cleanup(func() {
				_ = store.Close()
			})
			return store
		},
	}
}

func sample(address string, minute int, satoshis int64) Sample {
	return Sample{Address: address, At: base.Add(time.Duration(minute) * time.Minute), Satoshis: satoshis}
}

func TestStoreAppendAndSeries(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(10)

			for _, s := range []Sample{sample("a", 0, 100), sample("b", 0, 5), sample("a", 1, 150)} {
				if err := store.Append(ctx, s); err != nil {
					t.Fatalf("Append returned error: %v", err)
				}
			}

			got, err := store.Series(ctx, "a")
			if err != nil {
				t.Fatalf("Series returned error: %v", err)
			}
			want := []Sample{sample("a", 0, 100), sample("a", 1, 150)}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("series mismatch (-want +got):\n%s", diff)
			}

			empty, err := store.Series(ctx, "unknown")
			if err != nil {
				t.Fatalf("Series returned error: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("expected empty series, got %v", empty)
			}
		})
	}
}

func TestStoreTrimsToLimit(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(3)

			for i := 0; i < 5; i++ {
				if err := store.Append(ctx, sample("a", i, int64(i))); err != nil {
					t.Fatalf("Append returned error: %v", err)
				}
			}

			got, err := store.Series(ctx, "a")
			if err != nil {
				t.Fatalf("Series returned error: %v", err)
			}
			want := []Sample{sample("a", 2, 2), sample("a", 3, 3), sample("a", 4, 4)}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("series mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStoreAllAndDelete(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(10)

			for _, s := range []Sample{sample("a", 0, 1), sample("b", 0, 2), sample("b", 1, 3)} {
				if err := store.Append(ctx, s); err != nil {
					t.Fatalf("Append returned error: %v", err)
				}
			}

			all, err := store.All(ctx)
			if err != nil {
				t.Fatalf("All returned error: %v", err)
			}
			want := map[string][]Sample{
				"a": {sample("a", 0, 1)},
				"b": {sample("b", 0, 2), sample("b", 1, 3)},
			}
			if diff := cmp.Diff(want, all); diff != "" {
				t.Fatalf("all mismatch (-want +got):\n%s", diff)
			}

			if err := store.Delete(ctx, "b"); err != nil {
				t.Fatalf("Delete returned error: %v", err)
			}
			all, _ = store.All(ctx)
			if _, ok := all["b"]; ok {
				t.Fatalf("expected series b to be deleted, got %v", all)
			}
			if len(all["a"]) != 1 {
				t.Fatalf("expected series a to survive, got %v", all)
			}
		})
	}
}

func TestMemoryStoreSeriesIsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	_ = store.Append(ctx, sample("a", 0, 1))

	got, _ := store.Series(ctx, "a")
	got[0].Satoshis = 999

	again, _ := store.Series(ctx, "a")
	if again[0].Satoshis != 1 {
		t.Fatalf("expected defensive copy, got %v", again)
	}
	if store.limit != DefaultLimit {
		t.Fatalf("expected default limit for non-positive input, got %d", store.limit)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := OpenSQLite(ctx, path, DefaultSQLiteConfig())
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	if err := store.Append(ctx, sample("a", 0, 7)); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	reopened, err := OpenSQLite(ctx, path, DefaultSQLiteConfig())
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Series(ctx, "a")
	if err != nil {
		t.Fatalf("Series returned error: %v", err)
	}
	if diff := cmp.Diff([]Sample{sample("a", 0, 7)}, got); diff != "" {
		t.Fatalf("series mismatch (-want +got):\n%s", diff)
	}
}
