package fetcher_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketfetch/internal/cache"
	"marketfetch/internal/coinmarketcap"
	"marketfetch/internal/exchange"
	"marketfetch/internal/fetcher"
	"marketfetch/internal/market"
	"marketfetch/internal/retry"
)

var fastRetry = retry.Policy{Attempts: 3, BaseWait: time.Millisecond, MaxWait: 4 * time.Millisecond}

// fakeExchange hands out per-fetch adapters over a shared symbol table and
// counts upstream calls and releases across all of them.
type fakeExchange struct {
	name    string
	caps    map[exchange.Capability]bool
	tickers map[string]market.Ticker
	candles []market.Candle
	book    market.OrderBook

	mu          sync.Mutex
	tickerCalls int
	opened      int
	closed      int
}

func newFakeExchange(name string) *fakeExchange {
	return &fakeExchange{
		name: name,
		caps: map[exchange.Capability]bool{
			exchange.CapTicker:    true,
			exchange.CapOHLCV:     true,
			exchange.CapOrderBook: true,
		},
		tickers: map[string]market.Ticker{},
	}
}

func (fx *fakeExchange) open(name string) (exchange.Adapter, error) {
	if name != fx.name {
		return nil, market.NotFound("exchange %q not found", name)
	}
	fx.mu.Lock()
	fx.opened++
	fx.mu.Unlock()
	return &fakeAdapter{fx: fx}, nil
}

func (fx *fakeExchange) counts() (tickerCalls, opened, closed int) {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.tickerCalls, fx.opened, fx.closed
}

type fakeAdapter struct {
	fx *fakeExchange
}

func (a *fakeAdapter) Name() string { return a.fx.name }

func (a *fakeAdapter) Supports(c exchange.Capability) bool { return a.fx.caps[c] }

func (a *fakeAdapter) Close() {
	a.fx.mu.Lock()
	a.fx.closed++
	a.fx.mu.Unlock()
}

func (a *fakeAdapter) FetchTicker(_ context.Context, symbol string) (market.Ticker, error) {
	a.fx.mu.Lock()
	a.fx.tickerCalls++
	a.fx.mu.Unlock()
	t, ok := a.fx.tickers[symbol]
	if !ok {
		return market.Ticker{}, market.NotFound("symbol %q not found on %s", symbol, a.fx.name)
	}
	return t, nil
}

func (a *fakeAdapter) FetchOHLCV(_ context.Context, _, _ string, _ int64, _ int) ([]market.Candle, error) {
	return a.fx.candles, nil
}

func (a *fakeAdapter) FetchOrderBook(_ context.Context, symbol string, _ int) (market.OrderBook, error) {
	b := a.fx.book
	b.Symbol = symbol
	return b, nil
}

func newTestFetcher(t *testing.T, fx *fakeExchange, fallback *coinmarketcap.Client) *fetcher.Fetcher {
	t.Helper()
	c := cache.New(cache.NewMemoryStore())
	t.Cleanup(func() { c.Close() })
	f := fetcher.New(c, fallback)
	f.Open = fx.open
	f.Retry = fastRetry
	return f
}

// cmcServer serves the quotes/latest shape for one base/quote pair.
func cmcServer(t *testing.T, base, quote string, fields map[string]float64, hits *int) *coinmarketcap.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				base: map[string]any{
					"quote": map[string]any{quote: fields},
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return coinmarketcap.NewClient("test", coinmarketcap.WithBaseURL(srv.URL))
}

func TestTicker_CacheDedup(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	fx.tickers["BTC/USDT"] = market.Ticker{Symbol: "BTC/USDT", Last: 50000.0, Bid: 49999, Ask: 50001, Timestamp: 1700000000000}
	f := newTestFetcher(t, fx, nil)

	first, err := f.Ticker(t.Context(), "demo-exchange", "BTC/USDT")
	require.NoError(t, err)
	second, err := f.Ticker(t.Context(), "demo-exchange", "BTC/USDT")
	require.NoError(t, err)

	calls, _, _ := fx.counts()
	require.Equal(t, 1, calls, "second fetch within TTL must not hit upstream")
	require.Equal(t, 50000.0, first.Last)
	// Field-for-field identical round trip through the cache.
	require.Equal(t, first, second)
}

func TestTicker_TTLExpiry(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	fx.tickers["BTC/USDT"] = market.Ticker{Symbol: "BTC/USDT", Last: 50000.0}
	f := newTestFetcher(t, fx, nil)
	f.TickerTTL = 20 * time.Millisecond

	_, err := f.Ticker(t.Context(), "demo-exchange", "BTC/USDT")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = f.Ticker(t.Context(), "demo-exchange", "BTC/USDT")
	require.NoError(t, err)

	calls, _, _ := fx.counts()
	require.Equal(t, 2, calls, "a fetch after TTL expiry must hit upstream again")
}

func TestTicker_FallbackOnNotFound(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange") // knows no symbols
	hits := 0
	fb := cmcServer(t, "XRP", "USD", map[string]float64{"price": 0.52, "volume_24h": 100}, &hits)
	f := newTestFetcher(t, fx, fb)

	got, err := f.Ticker(t.Context(), "demo-exchange", "XRP/USD")
	require.NoError(t, err)
	require.Equal(t, "XRP/USD", got.Symbol)
	require.Equal(t, 0.52, got.Last)
	require.Zero(t, got.Bid)
	require.Zero(t, got.Ask)
	require.Equal(t, float64(100), got.Volume)
	require.NotZero(t, got.Timestamp, "fallback tickers carry a best-effort fetch-time timestamp")
	require.Equal(t, 1, hits, "exactly one fallback attempt on success")

	_, opened, closed := fx.counts()
	require.Equal(t, opened, closed, "primary adapter must be released on the fallback path")
}

func TestTicker_FallbackResultIsCached(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	hits := 0
	fb := cmcServer(t, "XRP", "USD", map[string]float64{"price": 0.52, "volume_24h": 100}, &hits)
	f := newTestFetcher(t, fx, fb)

	first, err := f.Ticker(t.Context(), "demo-exchange", "XRP/USD")
	require.NoError(t, err)
	second, err := f.Ticker(t.Context(), "demo-exchange", "XRP/USD")
	require.NoError(t, err)

	require.Equal(t, 1, hits, "second fetch must come from cache")
	require.Equal(t, first, second)
}

func TestTicker_NoFallbackWithoutCredential(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	// Unconfigured client: the not-found must propagate unchanged.
	f := newTestFetcher(t, fx, coinmarketcap.NewClient(""))

	_, err := f.Ticker(t.Context(), "demo-exchange", "XRP/USD")
	require.Error(t, err)
	require.Equal(t, market.KindNotFound, market.KindOf(err))

	_, opened, closed := fx.counts()
	require.Equal(t, opened, closed)
}

func TestTicker_FallbackRetriesThreeTimes(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	fb := coinmarketcap.NewClient("test", coinmarketcap.WithBaseURL(srv.URL))
	f := newTestFetcher(t, fx, fb)

	_, err := f.Ticker(t.Context(), "demo-exchange", "XRP/USD")
	require.Error(t, err)
	require.Equal(t, market.KindUnavailable, market.KindOf(err))
	require.Equal(t, 3, attempts, "a persistently failing fallback is attempted exactly 3 times")
}

func TestTicker_UnknownExchange(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	f := newTestFetcher(t, fx, nil)

	_, err := f.Ticker(t.Context(), "no-such-exchange", "BTC/USDT")
	require.Error(t, err)
	require.Equal(t, market.KindNotFound, market.KindOf(err))
}

func TestBatchTickers_IsolatesFailures(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	fx.tickers["BTC/USDT"] = market.Ticker{Symbol: "BTC/USDT", Last: 50000}
	fx.tickers["ETH/USDT"] = market.Ticker{Symbol: "ETH/USDT", Last: 3000}
	f := newTestFetcher(t, fx, nil)

	got := f.BatchTickers(t.Context(), []market.BatchItem{
		{Exchange: "demo-exchange", Symbol: "BTC/USDT"},
		{Exchange: "demo-exchange", Symbol: "NOPE/USDT"},
		{Exchange: "demo-exchange", Symbol: "ETH/USDT"},
	})

	require.Len(t, got, 2, "the failing item is dropped, the rest survive")
	symbols := map[string]bool{}
	for _, tk := range got {
		symbols[tk.Symbol] = true
	}
	require.True(t, symbols["BTC/USDT"])
	require.True(t, symbols["ETH/USDT"])

	_, opened, closed := fx.counts()
	require.Equal(t, opened, closed)
}

func TestBatchTickers_AllFailing(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	f := newTestFetcher(t, fx, nil)

	got := f.BatchTickers(t.Context(), []market.BatchItem{
		{Exchange: "demo-exchange", Symbol: "A/USDT"},
		{Exchange: "demo-exchange", Symbol: "B/USDT"},
	})
	require.Empty(t, got)
}

func TestOHLCV_CapabilityChecked(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	fx.caps[exchange.CapOHLCV] = false
	f := newTestFetcher(t, fx, nil)

	_, err := f.OHLCV(t.Context(), "demo-exchange", "BTC/USDT", "1h", 0, 10)
	require.Error(t, err)
	require.Equal(t, market.KindUnsupported, market.KindOf(err))

	_, opened, closed := fx.counts()
	require.Equal(t, opened, closed, "adapter must be released when the capability check fails")
}

func TestOHLCV_Uncached(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	fx.candles = []market.Candle{{Timestamp: 1700000000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}
	f := newTestFetcher(t, fx, nil)

	for i := 0; i < 2; i++ {
		got, err := f.OHLCV(t.Context(), "demo-exchange", "BTC/USDT", "1h", 0, 10)
		require.NoError(t, err)
		require.Equal(t, fx.candles, got)
	}
	_, opened, _ := fx.counts()
	require.Equal(t, 2, opened, "historical fetches are never cached")
}

func TestOrderBook(t *testing.T) {
	t.Parallel()

	fx := newFakeExchange("demo-exchange")
	fx.book = market.OrderBook{
		Bids:      []market.PriceLevel{{Price: 100, Size: 1}},
		Asks:      []market.PriceLevel{{Price: 101, Size: 2}},
		Timestamp: 1700000000000,
	}
	f := newTestFetcher(t, fx, nil)

	got, err := f.OrderBook(t.Context(), "demo-exchange", "BTC/USDT", 25)
	require.NoError(t, err)
	require.Equal(t, "BTC/USDT", got.Symbol)
	require.Equal(t, fx.book.Bids, got.Bids)
}

func TestExchanges_Enumeration(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, newFakeExchange("demo-exchange"), nil)
	require.Equal(t, []string{"binance", "okx"}, f.Exchanges())
}
