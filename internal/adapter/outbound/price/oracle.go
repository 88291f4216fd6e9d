// Package price implements BTC/USD price discovery with caching and a
// conservative fallback. Sources are tried in order; the first success
// wins and is cached.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
)

const satsPerBtc = 100_000_000

// Source is one BTC/USD price provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (float64, error)
}

// Oracle caches the BTC/USD price across sources. It implements
// outbound.PriceOracle.
type Oracle struct {
	sources  []Source
	fallback float64
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// onFetch, when set, observes each source attempt ("ok" or "error").
	onFetch func(source, outcome string)

	mu        sync.Mutex
	price     float64
	fetchedAt time.Time
}

// Option customizes an Oracle.
type Option func(*Oracle)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// WithFetchObserver registers a callback invoked per source attempt.
func WithFetchObserver(fn func(source, outcome string)) Option {
	return func(o *Oracle) { o.onFetch = fn }
}

// NewOracle builds an Oracle over the given sources. fallback is returned
// when every source fails and nothing is cached; ttl bounds cache freshness.
func NewOracle(sources []Source, fallback float64, ttl time.Duration, logger *slog.Logger, opts ...Option) *Oracle {
	o := &Oracle{
		sources:  sources,
		fallback: fallback,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		price:    fallback,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// BtcUsdPrice returns the current BTC/USD price. A fresh cached price is
// returned without network I/O; otherwise the sources are tried in order
// while holding the lock, so concurrent callers share one fetch. On total
// failure the last known price (initially the fallback) is kept.
func (o *Oracle) BtcUsdPrice(ctx context.Context) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.now().Sub(o.fetchedAt) < o.ttl && !o.fetchedAt.IsZero() {
		return o.price
	}

	for _, src := range o.sources {
		price, err := src.Fetch(ctx)
		if err != nil || price <= 0 {
			if o.onFetch != nil {
				o.onFetch(src.Name(), "error")
			}
			o.logger.Warn("price source failed", "source", src.Name(), "error", err)
			continue
		}
		if o.onFetch != nil {
			o.onFetch(src.Name(), "ok")
		}
		o.logger.Debug("price fetched", "source", src.Name(), "usd", price)
		o.price = price
		o.fetchedAt = o.now()
		return price
	}

	o.logger.Warn("all price sources failed, keeping last known price", "usd", o.price)
	return o.price
}

// CachedPrice returns the last known price without any network I/O.
func (o *Oracle) CachedPrice() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.price
}

// UsdToSats converts a USD amount to whole satoshis, rounding down.
func (o *Oracle) UsdToSats(ctx context.Context, usd float64) int64 {
	price := o.BtcUsdPrice(ctx)
	return int64(math.Floor(usd / price * satsPerBtc))
}

// SatsToUsd converts satoshis to USD at the current price.
func (o *Oracle) SatsToUsd(ctx context.Context, sats int64) float64 {
	price := o.BtcUsdPrice(ctx)
	return float64(sats) / satsPerBtc * price
}

// httpSource is shared plumbing for the JSON REST sources.
type httpSource struct {
	name   string
	url    string
	client *http.Client
	parse  func(body []byte) (float64, error)
}

func (s *httpSource) Name() string { return s.name }

func (s *httpSource) Fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s: unexpected status %d", s.name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	return s.parse(body)
}

// NewCoinGecko returns the CoinGecko simple-price source. baseURL is
// overridable for tests; pass "" for the production endpoint.
func NewCoinGecko(client *http.Client, baseURL string) Source {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}
	return &httpSource{
		name:   "coingecko",
		url:    baseURL + "/api/v3/simple/price?ids=bitcoin&vs_currencies=usd",
		client: client,
		parse: func(body []byte) (float64, error) {
			var out struct {
				Bitcoin struct {
					USD float64 `json:"usd"`
				} `json:"bitcoin"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return 0, fmt.Errorf("coingecko: %w", err)
			}
			if out.Bitcoin.USD <= 0 {
				return 0, fmt.Errorf("coingecko: missing bitcoin.usd")
			}
			return out.Bitcoin.USD, nil
		},
	}
}

// NewCoinbase returns the Coinbase spot-price source.
func NewCoinbase(client *http.Client, baseURL string) Source {
	if baseURL == "" {
		baseURL = "https://api.coinbase.com"
	}
	return &httpSource{
		name:   "coinbase",
		url:    baseURL + "/v2/prices/BTC-USD/spot",
		client: client,
		parse: func(body []byte) (float64, error) {
			var out struct {
				Data struct {
					Amount json.Number `json:"amount"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return 0, fmt.Errorf("coinbase: %w", err)
			}
			amount, err := out.Data.Amount.Float64()
			if err != nil || amount <= 0 {
				return 0, fmt.Errorf("coinbase: bad amount %q", out.Data.Amount)
			}
			return amount, nil
		},
	}
}

// tickerSource adapts a wallet backend's own ticker into a Source, so a
// configured Strike account doubles as the primary price feed.
type tickerSource struct {
	name   string
	ticker wallet.Ticker
}

// NewWalletTicker wraps a backend ticker as a price source.
func NewWalletTicker(name string, ticker wallet.Ticker) Source {
	return &tickerSource{name: name, ticker: ticker}
}

func (s *tickerSource) Name() string { return s.name }

func (s *tickerSource) Fetch(ctx context.Context) (float64, error) {
	return s.ticker.GetTicker(ctx)
}
