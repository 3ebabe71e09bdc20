package history

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is a bounded in-process Store.
type MemoryStore struct {
	limit int

	mu     sync.RWMutex
	series map[string][]Sample
}

// NewMemoryStore keeps at most limit samples per address, dropping the oldest first.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{
		limit:  limit,
		series: make(map[string][]Sample),
	}
}

func (s *MemoryStore) Append(_ context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := append(s.series[sample.Address], sample)
	if overflow := len(series) - s.limit; overflow > 0 {
		series = slices.Clone(series[overflow:])
	}
	s.series[sample.Address] = series
	return nil
}

func (s *MemoryStore) Series(_ context.Context, address string) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.series[address]), nil
}

func (s *MemoryStore) All(_ context.Context) (map[string][]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]Sample, len(s.series))
	for address, series := range s.series {
		out[address] = slices.Clone(series)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, address string) error {
	s.mu.Lock()
	delete(s.series, address)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
