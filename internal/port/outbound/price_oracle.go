// Package outbound defines the outbound port interfaces: price discovery
// and payment history persistence. Adapters implement these against real
// exchanges and storage.
package outbound

import "context"

// PriceOracle is the outbound port for BTC/USD price discovery and
// unit conversion.
type PriceOracle interface {
	// BtcUsdPrice returns the current BTC price in USD, served from cache
	// when fresh. It never returns an error: when every source fails it
	// falls back to a conservative fixed price.
	BtcUsdPrice(ctx context.Context) float64

	// CachedPrice returns the last known price without any network I/O.
	// Safe to call while holding locks.
	CachedPrice() float64

	// UsdToSats converts a USD amount to whole satoshis, rounding down.
	UsdToSats(ctx context.Context, usd float64) int64

	// SatsToUsd converts satoshis to USD at the current price.
	SatsToUsd(ctx context.Context, sats int64) float64
}
