// Package fetcher is the resilient fetch orchestration layer: it decides when
// to serve from cache, which upstream to call, how to retry the fallback
// provider, and how to fan out batch lookups.
package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"marketfetch/internal/cache"
	"marketfetch/internal/coinmarketcap"
	"marketfetch/internal/exchange"
	"marketfetch/internal/logger"
	"marketfetch/internal/market"
	"marketfetch/internal/retry"
)

// OpenFunc constructs a fresh adapter for one exchange. Swapped in tests.
type OpenFunc func(name string) (exchange.Adapter, error)

// DefaultTickerTTL is how long a cached ticker stays fresh.
const DefaultTickerTTL = 10 * time.Second

// Fetcher composes cache, adapters, retry, and the fallback provider. The
// cache handle is injected; its lifecycle (clear at startup, close at
// shutdown) belongs to the surrounding process.
type Fetcher struct {
	Cache     *cache.Cache
	Fallback  *coinmarketcap.Client
	Open      OpenFunc
	Retry     retry.Policy
	TickerTTL time.Duration
	Log       *logrus.Entry
}

func New(c *cache.Cache, fallback *coinmarketcap.Client) *Fetcher {
	return &Fetcher{
		Cache:     c,
		Fallback:  fallback,
		Open:      exchange.Open,
		Retry:     retry.Default,
		TickerTTL: DefaultTickerTTL,
		Log:       logrus.WithField("component", "fetcher"),
	}
}

// Exchanges lists the supported provider identifiers.
func (f *Fetcher) Exchanges() []string {
	return exchange.Names()
}

// Ticker fetches the latest ticker for (exchangeName, symbol), serving from
// cache within the TTL and populating it on a miss.
func (f *Fetcher) Ticker(ctx context.Context, exchangeName, symbol string) (market.Ticker, error) {
	key := cache.Fingerprint("ticker", exchangeName, symbol)
	var t market.Ticker
	err := f.Cache.GetOrCompute(ctx, key, f.TickerTTL, &t, func(ctx context.Context) (any, error) {
		return f.tickerUpstream(ctx, exchangeName, symbol)
	})
	if err != nil {
		return market.Ticker{}, err
	}
	return t, nil
}

// tickerUpstream is the primary-then-fallback decision sequence for one cache
// miss. The adapter is released on every path.
func (f *Fetcher) tickerUpstream(ctx context.Context, exchangeName, symbol string) (market.Ticker, error) {
	ad, err := f.Open(exchangeName)
	if err != nil {
		return market.Ticker{}, err
	}
	defer ad.Close()

	t, err := ad.FetchTicker(ctx, symbol)
	if err == nil {
		return t, nil
	}
	if market.IsNotFound(err) && f.Fallback.Configured() {
		logger.WithSymbol(exchangeName, symbol).
			Debug("primary reported not found, trying fallback")
		return f.fallbackTicker(ctx, symbol)
	}
	return market.Ticker{}, err
}

// fallbackTicker asks the secondary provider for the symbol's base/quote
// pair, retried per policy, and re-shapes the quote into a Ticker. Fields the
// secondary does not carry stay zero. The timestamp is best-effort fetch
// time; the secondary does not report an upstream one.
func (f *Fetcher) fallbackTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" {
		return market.Ticker{}, market.NotFound("symbol %q is not a base/quote pair", symbol)
	}
	var q coinmarketcap.Quote
	err := f.Retry.Do(ctx, func(ctx context.Context) error {
		var qerr error
		q, qerr = f.Fallback.QuoteLatest(ctx, base, quote)
		return qerr
	})
	if err != nil {
		return market.Ticker{}, err
	}
	return market.Ticker{
		Symbol:    symbol,
		Last:      q.Price,
		Bid:       q.Bid,
		Ask:       q.Ask,
		High:      q.High24h,
		Low:       q.Low24h,
		Volume:    q.Volume24h,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// OHLCV fetches a historical candle range. Uncached; capability-checked
// before the upstream call.
func (f *Fetcher) OHLCV(ctx context.Context, exchangeName, symbol, timeframe string, sinceMs int64, limit int) ([]market.Candle, error) {
	ad, err := f.Open(exchangeName)
	if err != nil {
		return nil, err
	}
	defer ad.Close()

	if !ad.Supports(exchange.CapOHLCV) {
		return nil, market.Unsupported("exchange %q does not support historical data", exchangeName)
	}
	return ad.FetchOHLCV(ctx, symbol, timeframe, sinceMs, limit)
}

// OrderBook fetches a depth snapshot. Uncached.
func (f *Fetcher) OrderBook(ctx context.Context, exchangeName, symbol string, depth int) (market.OrderBook, error) {
	ad, err := f.Open(exchangeName)
	if err != nil {
		return market.OrderBook{}, err
	}
	defer ad.Close()

	return ad.FetchOrderBook(ctx, symbol, depth)
}

// BatchTickers runs one Ticker call per item, all concurrently, and returns
// only the successes. Failing items are dropped silently: the batch never
// errors and callers get no per-item diagnostics. Output order does not
// follow input order.
func (f *Fetcher) BatchTickers(ctx context.Context, items []market.BatchItem) []market.Ticker {
	var (
		mu  sync.Mutex
		out = make([]market.Ticker, 0, len(items))
	)
	f.Log.WithField("items", len(items)).Debug("batch ticker fetch")
	g := new(errgroup.Group)
	for _, it := range items {
		it := it
		g.Go(func() error {
			t, err := f.Ticker(ctx, it.Exchange, it.Symbol)
			if err != nil {
				logger.WithSymbol(it.Exchange, it.Symbol).
					WithError(err).Debug("dropping failed batch item")
				return nil
			}
			mu.Lock()
			out = append(out, t)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
