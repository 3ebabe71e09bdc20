package explorer

import (
	"context"
	"strconv"
	"time"
)

// SatoshisPerBTC is the conversion factor between the explorer's integer balance and BTC.
const SatoshisPerBTC = 100_000_000

// Balance is the confirmed balance of one address at a point in time.
type Balance struct {
	Address   string
	Satoshis  int64
	FetchedAt time.Time
}

// BTC returns the balance converted from satoshis.
func (b Balance) BTC() float64 {
	return float64(b.Satoshis) / SatoshisPerBTC
}

// FormatBTC renders satoshis as a BTC amount with eight decimals.
func FormatBTC(satoshis int64) string {
	sign := ""
	if satoshis < 0 {
		sign = "-"
		satoshis = -satoshis
	}
	whole := satoshis / SatoshisPerBTC
	frac := satoshis % SatoshisPerBTC
	fracStr := strconv.FormatInt(frac, 10)
	for len(fracStr) < 8 {
		fracStr = "0" + fracStr
	}
	return sign + strconv.FormatInt(whole, 10) + "." + fracStr
}

// Fetcher describes the behaviour required from a balance source.
type Fetcher interface {
	FetchBalance(ctx context.Context, address string) (Balance, error)
}
