package tracker

import (
	"time"

	"github.com/eugenenazirov/fractal-balances/internal/explorer"
)

// Snapshot is the outcome of one refresh round.
// Balances follow address book order; Failed lists addresses skipped this round.
type Snapshot struct {
	TakenAt       time.Time
	Balances      []explorer.Balance
	Failed        []string
	TotalSatoshis int64
}

// TotalBTC returns the sum of all balances in BTC.
func (s Snapshot) TotalBTC() float64 {
	return float64(s.TotalSatoshis) / explorer.SatoshisPerBTC
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Balances = append([]explorer.Balance(nil), s.Balances...)
	out.Failed = append([]string(nil), s.Failed...)
	return out
}

func sumSatoshis(balances []explorer.Balance) int64 {
	var total int64
	for _, b := range balances {
		total += b.Satoshis
	}
	return total
}
