// Package tracker periodically fetches balances for every tracked address,
// records them in the history store, and keeps the latest snapshot for the
// HTTP layer. A failed address is logged and skipped for that round.
package tracker
