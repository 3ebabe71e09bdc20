// Package history records balance samples per address over time.
package history

import (
	"context"
	"time"
)

// DefaultLimit keeps one day of samples at the default 30s refresh interval.
const DefaultLimit = 2880

// Sample is a single observed balance.
type Sample struct {
	Address  string    `json:"address"`
	At       time.Time `json:"at"`
	Satoshis int64     `json:"satoshis"`
}

// Store persists balance samples. Series are returned oldest first.
type Store interface {
	Append(ctx context.Context, sample Sample) error
	Series(ctx context.Context, address string) ([]Sample, error)
	All(ctx context.Context) (map[string][]Sample, error)
	Delete(ctx context.Context, address string) error
	Close() error
}
