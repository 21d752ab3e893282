package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"marketfetch/internal/httpx"
	"marketfetch/internal/market"
)

// binance talks to the Binance spot REST API (public market-data endpoints).
type binance struct {
	e       *entry
	client  *httpx.Client
	baseURL string
}

func newBinance(e *entry) *binance {
	return &binance{e: e, client: newSession(), baseURL: "https://api.binance.com"}
}

func (b *binance) Name() string { return "binance" }

func (b *binance) Supports(c Capability) bool { return b.e.caps[c] }

func (b *binance) Close() { b.client.Close() }

// binanceSymbol converts "BTC/USDT" to Binance's "BTCUSDT" form.
func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func (b *binance) FetchTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	if err := b.e.bucket.Wait(ctx); err != nil {
		return market.Ticker{}, market.Unavailable(err, "binance rate gate")
	}
	var raw struct {
		LastPrice string `json:"lastPrice"`
		BidPrice  string `json:"bidPrice"`
		AskPrice  string `json:"askPrice"`
		HighPrice string `json:"highPrice"`
		LowPrice  string `json:"lowPrice"`
		Volume    string `json:"volume"`
		CloseTime int64  `json:"closeTime"`
	}
	u := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", b.baseURL, url.QueryEscape(binanceSymbol(symbol)))
	if err := b.client.GetJSON(ctx, u, &raw); err != nil {
		return market.Ticker{}, b.classify(err, symbol)
	}
	t := market.Ticker{
		Symbol:    symbol,
		Last:      parseF(raw.LastPrice),
		Bid:       parseF(raw.BidPrice),
		Ask:       parseF(raw.AskPrice),
		High:      parseF(raw.HighPrice),
		Low:       parseF(raw.LowPrice),
		Volume:    parseF(raw.Volume),
		Timestamp: raw.CloseTime,
	}
	return t, nil
}

func (b *binance) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMs int64, limit int) ([]market.Candle, error) {
	if err := b.e.bucket.Wait(ctx); err != nil {
		return nil, market.Unavailable(err, "binance rate gate")
	}
	q := url.Values{}
	q.Set("symbol", binanceSymbol(symbol))
	q.Set("interval", timeframe)
	if sinceMs > 0 {
		q.Set("startTime", strconv.FormatInt(sinceMs, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	// Rows are [openTime, "open", "high", "low", "close", "volume", ...]
	// with the open time as a number and prices as strings.
	var rows [][]any
	u := fmt.Sprintf("%s/api/v3/klines?%s", b.baseURL, q.Encode())
	if err := b.client.GetJSON(ctx, u, &rows); err != nil {
		return nil, b.classify(err, symbol)
	}
	out := make([]market.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		out = append(out, market.Candle{
			Timestamp: anyMs(r[0]),
			Open:      anyF(r[1]),
			High:      anyF(r[2]),
			Low:       anyF(r[3]),
			Close:     anyF(r[4]),
			Volume:    anyF(r[5]),
		})
	}
	return out, nil
}

func (b *binance) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	if err := b.e.bucket.Wait(ctx); err != nil {
		return market.OrderBook{}, market.Unavailable(err, "binance rate gate")
	}
	if depth <= 0 || depth > 100 {
		depth = 100
	}
	var raw struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	u := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", b.baseURL, url.QueryEscape(binanceSymbol(symbol)), depth)
	if err := b.client.GetJSON(ctx, u, &raw); err != nil {
		return market.OrderBook{}, b.classify(err, symbol)
	}
	// Binance depth carries no timestamp; stamp the fetch time.
	return market.OrderBook{
		Symbol:    symbol,
		Bids:      levels(raw.Bids, depth),
		Asks:      levels(raw.Asks, depth),
		Timestamp: nowMs(),
	}, nil
}

// classify maps transport and API failures onto the shared error taxonomy.
// Binance reports an unknown symbol as 400 with code -1121.
func (b *binance) classify(err error, symbol string) error {
	var se *httpx.StatusError
	if errors.As(err, &se) {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal([]byte(se.Body), &apiErr)
		switch {
		case apiErr.Code == -1121 || se.Code == http.StatusNotFound:
			return market.NotFound("symbol %q not found on binance", symbol)
		case se.Code >= 500 || se.Code == http.StatusTooManyRequests:
			return market.Unavailable(err, "binance unavailable")
		default:
			return market.Internal(err, "binance request failed")
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return market.Unavailable(err, "binance request aborted")
	}
	var jsonErr *json.SyntaxError
	if errors.As(err, &jsonErr) {
		return market.Internal(err, "binance response malformed")
	}
	// Anything else from the transport is a network-level failure.
	return market.Unavailable(err, "network error connecting to binance")
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// anyF parses a price field that may arrive as a JSON number or string.
func anyF(v any) float64 {
	switch x := v.(type) {
	case json.Number:
		f, _ := x.Float64()
		return f
	case string:
		return parseF(x)
	case float64:
		return x
	}
	return 0
}

func anyMs(v any) int64 {
	switch x := v.(type) {
	case json.Number:
		i, _ := x.Int64()
		return i
	case float64:
		return int64(x)
	}
	return 0
}

func levels(raw [][]string, depth int) []market.PriceLevel {
	if len(raw) > depth {
		raw = raw[:depth]
	}
	out := make([]market.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			continue
		}
		out = append(out, market.PriceLevel{Price: parseF(lv[0]), Size: parseF(lv[1])})
	}
	return out
}
