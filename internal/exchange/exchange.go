package exchange

import (
	"context"
	"sort"
	"time"

	"marketfetch/internal/exchange/ratelimit"
	"marketfetch/internal/httpx"
	"marketfetch/internal/market"
)

// Capability names an optional adapter feature.
type Capability string

const (
	CapTicker    Capability = "ticker"
	CapOHLCV     Capability = "ohlcv"
	CapOrderBook Capability = "orderbook"
)

// Adapter is a uniform client over one upstream exchange. Instances are
// cheap, scoped to a single fetch, and must be closed on every path.
type Adapter interface {
	Name() string
	FetchTicker(ctx context.Context, symbol string) (market.Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMs int64, limit int) ([]market.Candle, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error)
	Supports(c Capability) bool
	Close()
}

// entry wires an exchange name to its constructor and shared request gate.
type entry struct {
	caps   map[Capability]bool
	bucket *ratelimit.TokenBucket
	open   func(e *entry) Adapter
}

// registry holds one entry per supported exchange. The token buckets are
// process-wide so concurrent per-fetch adapters share one rate budget per
// upstream.
var registry = map[string]*entry{
	"binance": {
		caps:   map[Capability]bool{CapTicker: true, CapOHLCV: true, CapOrderBook: true},
		bucket: ratelimit.NewTokenBucket(10, 10),
		open:   func(e *entry) Adapter { return newBinance(e) },
	},
	"okx": {
		caps:   map[Capability]bool{CapTicker: true, CapOHLCV: true, CapOrderBook: true},
		bucket: ratelimit.NewTokenBucket(5, 5),
		open:   func(e *entry) Adapter { return newOKX(e) },
	},
}

const requestTimeout = 10 * time.Second

// Open constructs a fresh adapter for the named exchange. Unknown names fail
// with a not-found error. The caller owns the adapter and must Close it.
func Open(name string) (Adapter, error) {
	e, ok := registry[name]
	if !ok {
		return nil, market.NotFound("exchange %q not found", name)
	}
	return e.open(e), nil
}

// Names returns the sorted list of supported exchange identifiers.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func newSession() *httpx.Client {
	return httpx.New(requestTimeout)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
