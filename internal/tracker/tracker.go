package tracker

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eugenenazirov/fractal-balances/internal/explorer"
	"github.com/eugenenazirov/fractal-balances/internal/history"
	"github.com/eugenenazirov/fractal-balances/internal/metrics"
	"github.com/eugenenazirov/fractal-balances/internal/storage"
)

const (
	defaultInterval    = 30 * time.Second
	defaultConcurrency = 4
)

// Option configures Tracker behaviour.
type Option func(*Tracker)

// WithInterval sets the time between refresh rounds.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithConcurrency bounds the number of in-flight explorer calls.
func WithConcurrency(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// WithMetrics attaches a Prometheus recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(t *Tracker) {
		t.metrics = rec
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// Tracker refreshes balances of all tracked addresses.
type Tracker struct {
	addresses storage.Storage
	fetcher   explorer.Fetcher
	history   history.Store
	metrics   *metrics.Recorder
	logger    *zap.Logger

	interval    time.Duration
	concurrency int
	clock       func() time.Time

	// refreshMu serializes refresh rounds from Run and manual triggers.
	refreshMu sync.Mutex
	// commitMu is held while a round writes its results and while Forget
	// clears an address, so a removal never lands between the membership
	// check and the writes.
	commitMu sync.Mutex

	mu          sync.RWMutex
	latest      Snapshot
	hasLatest   bool
	nextRefresh time.Time
}

// New constructs a Tracker.
func New(addresses storage.Storage, fetcher explorer.Fetcher, store history.Store, opts ...Option) *Tracker {
	t := &Tracker{
		addresses:   addresses,
		fetcher:     fetcher,
		history:     store,
		logger:      zap.NewNop(),
		interval:    defaultInterval,
		concurrency: defaultConcurrency,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Interval returns the configured time between refresh rounds.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// Refresh fetches every tracked address once and stores the resulting snapshot.
func (t *Tracker) Refresh(ctx context.Context) (Snapshot, error) {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	start := time.Now()
	addresses, err := t.addresses.ListAddresses()
	if err != nil {
		return Snapshot{}, fmt.Errorf("list addresses: %w", err)
	}
	t.logger.Info("refreshing balances", zap.Int("addresses", len(addresses)))

	results := make([]explorer.Balance, len(addresses))
	ok := make([]bool, len(addresses))

	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for i, address := range addresses {
		g.Go(func() error {
			balance, err := t.fetcher.FetchBalance(ctx, address)
			if err != nil {
				t.logger.Error("balance fetch failed", zap.String("address", address), zap.Error(err))
				t.metrics.ObserveFetchError()
				return nil
			}
			results[i] = balance
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	snap, tracked, err := t.commit(ctx, addresses, results, ok)
	if err != nil {
		return Snapshot{}, err
	}

	t.metrics.ObserveRefresh(time.Since(start), tracked)
	t.logger.Info("balances refreshed",
		zap.Int("succeeded", len(snap.Balances)),
		zap.Int("failed", len(snap.Failed)),
		zap.String("total_btc", explorer.FormatBTC(snap.TotalSatoshis)),
	)

	return snap.clone(), nil
}

// commit records the fetched balances of addresses that are still tracked.
// Addresses removed while the round was in flight are dropped.
func (t *Tracker) commit(ctx context.Context, addresses []string, results []explorer.Balance, ok []bool) (Snapshot, int, error) {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	current, err := t.addresses.ListAddresses()
	if err != nil {
		return Snapshot{}, 0, fmt.Errorf("list addresses: %w", err)
	}

	snap := Snapshot{
		TakenAt:  t.clock(),
		Balances: make([]explorer.Balance, 0, len(addresses)),
		Failed:   []string{},
	}
	for i, address := range addresses {
		if !slices.Contains(current, address) {
			continue
		}
		if !ok[i] {
			snap.Failed = append(snap.Failed, address)
			continue
		}
		balance := results[i]
		snap.Balances = append(snap.Balances, balance)
		t.metrics.ObserveBalance(address, balance.BTC())

		sample := history.Sample{Address: address, At: snap.TakenAt, Satoshis: balance.Satoshis}
		if err := t.history.Append(ctx, sample); err != nil {
			t.logger.Warn("history append failed", zap.String("address", address), zap.Error(err))
		}
	}
	snap.TotalSatoshis = sumSatoshis(snap.Balances)

	t.mu.Lock()
	t.latest = snap
	t.hasLatest = true
	t.mu.Unlock()

	return snap, len(current), nil
}

// Latest returns the most recent snapshot, if any round has completed.
func (t *Tracker) Latest() (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.hasLatest {
		return Snapshot{}, false
	}
	return t.latest.clone(), true
}

// NextRefreshIn reports the time until the next scheduled round, or 0 if none is scheduled.
func (t *Tracker) NextRefreshIn() time.Duration {
	t.mu.RLock()
	next := t.nextRefresh
	t.mu.RUnlock()

	if next.IsZero() {
		return 0
	}
	if d := next.Sub(t.clock()); d > 0 {
		return d
	}
	return 0
}

// Forget drops history, metrics, and snapshot entries of an untracked address.
func (t *Tracker) Forget(ctx context.Context, address string) error {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	t.metrics.ForgetAddress(address)

	t.mu.Lock()
	if t.hasLatest {
		t.latest.Balances = slices.DeleteFunc(t.latest.Balances, func(b explorer.Balance) bool {
			return b.Address == address
		})
		t.latest.Failed = slices.DeleteFunc(t.latest.Failed, func(a string) bool {
			return a == address
		})
		t.latest.TotalSatoshis = sumSatoshis(t.latest.Balances)
	}
	t.mu.Unlock()

	if err := t.history.Delete(ctx, address); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

// Run refreshes immediately and then every interval until ctx is cancelled.
// Rounds never overlap; a slow round delays the next tick.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	defer t.setNextRefresh(time.Time{})

	t.runRound(ctx)
	for {
		t.setNextRefresh(t.clock().Add(t.interval))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runRound(ctx)
		}
	}
}

func (t *Tracker) runRound(ctx context.Context) {
	if _, err := t.Refresh(ctx); err != nil && ctx.Err() == nil {
		t.logger.Error("refresh failed", zap.Error(err))
	}
}

func (t *Tracker) setNextRefresh(at time.Time) {
	t.mu.Lock()
	t.nextRefresh = at
	t.mu.Unlock()
}
