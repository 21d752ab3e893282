package exchange

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"marketfetch/internal/exchange/ratelimit"
	"marketfetch/internal/market"
)

func testEntry() *entry {
	return &entry{
		caps:   map[Capability]bool{CapTicker: true, CapOHLCV: true, CapOrderBook: true},
		bucket: ratelimit.NewTokenBucket(1000, 1000),
	}
}

func testBinance(t *testing.T, handler http.HandlerFunc) *binance {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b := newBinance(testEntry())
	b.baseURL = srv.URL
	t.Cleanup(b.Close)
	return b
}

func TestOpen_UnknownExchange(t *testing.T) {
	t.Parallel()

	_, err := Open("no-such-exchange")
	require.Error(t, err)
	require.Equal(t, market.KindNotFound, market.KindOf(err))
}

func TestNames_SortedAndComplete(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"binance", "okx"}, Names())
}

func TestBinance_FetchTicker(t *testing.T) {
	t.Parallel()

	b := testBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{
			"symbol": "BTCUSDT",
			"lastPrice": "50000.00",
			"bidPrice": "49999.50",
			"askPrice": "50000.50",
			"highPrice": "51000.00",
			"lowPrice": "49000.00",
			"volume": "1234.5",
			"closeTime": 1700000000000
		}`))
	})

	got, err := b.FetchTicker(t.Context(), "BTC/USDT")
	require.NoError(t, err)
	require.Equal(t, market.Ticker{
		Symbol:    "BTC/USDT",
		Last:      50000.0,
		Bid:       49999.5,
		Ask:       50000.5,
		High:      51000.0,
		Low:       49000.0,
		Volume:    1234.5,
		Timestamp: 1700000000000,
	}, got)
}

func TestBinance_FetchTicker_UnknownSymbol(t *testing.T) {
	t.Parallel()

	b := testBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	_, err := b.FetchTicker(t.Context(), "NOPE/USDT")
	require.Error(t, err)
	require.Equal(t, market.KindNotFound, market.KindOf(err))
}

func TestBinance_FetchTicker_ServerError(t *testing.T) {
	t.Parallel()

	b := testBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := b.FetchTicker(t.Context(), "BTC/USDT")
	require.Error(t, err)
	require.Equal(t, market.KindUnavailable, market.KindOf(err))
}

func TestBinance_FetchTicker_NetworkError(t *testing.T) {
	t.Parallel()

	b := newBinance(testEntry())
	// Nothing listens here.
	b.baseURL = "http://127.0.0.1:1"
	defer b.Close()

	_, err := b.FetchTicker(t.Context(), "BTC/USDT")
	require.Error(t, err)
	require.Equal(t, market.KindUnavailable, market.KindOf(err))
}

func TestBinance_FetchOHLCV(t *testing.T) {
	t.Parallel()

	b := testBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/klines", r.URL.Path)
		require.Equal(t, "1h", r.URL.Query().Get("interval"))
		require.Equal(t, "1700000000000", r.URL.Query().Get("startTime"))
		require.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Write([]byte(`[
			[1700000000000, "100.0", "110.0", "90.0", "105.0", "12.5", 1700003599999],
			[1700003600000, "105.0", "120.0", "100.0", "115.0", "20.0", 1700007199999]
		]`))
	})

	got, err := b.FetchOHLCV(t.Context(), "BTC/USDT", "1h", 1700000000000, 2)
	require.NoError(t, err)
	require.Equal(t, []market.Candle{
		{Timestamp: 1700000000000, Open: 100, High: 110, Low: 90, Close: 105, Volume: 12.5},
		{Timestamp: 1700003600000, Open: 105, High: 120, Low: 100, Close: 115, Volume: 20},
	}, got)
}

func TestBinance_FetchOrderBook(t *testing.T) {
	t.Parallel()

	b := testBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/depth", r.URL.Path)
		w.Write([]byte(`{
			"lastUpdateId": 1,
			"bids": [["50000.0","1.5"],["49999.0","2.0"],["49998.0","0.5"]],
			"asks": [["50001.0","1.0"],["50002.0","3.0"],["50003.0","1.2"]]
		}`))
	})

	got, err := b.FetchOrderBook(t.Context(), "BTC/USDT", 2)
	require.NoError(t, err)
	require.Equal(t, "BTC/USDT", got.Symbol)
	// Depth caps each side; provider ordering is kept.
	require.Equal(t, []market.PriceLevel{{Price: 50000, Size: 1.5}, {Price: 49999, Size: 2}}, got.Bids)
	require.Equal(t, []market.PriceLevel{{Price: 50001, Size: 1}, {Price: 50002, Size: 3}}, got.Asks)
	require.NotZero(t, got.Timestamp)
}

func TestBinanceSymbol(t *testing.T) {
	t.Parallel()

	require.Equal(t, "BTCUSDT", binanceSymbol("BTC/USDT"))
	require.Equal(t, "ETHBTC", binanceSymbol("eth/btc"))
}
