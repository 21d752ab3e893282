package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"marketfetch/internal/httpx"
	"marketfetch/internal/market"
)

// okx talks to the OKX v5 public REST API.
type okx struct {
	e       *entry
	client  *httpx.Client
	baseURL string
}

func newOKX(e *entry) *okx {
	return &okx{e: e, client: newSession(), baseURL: "https://www.okx.com"}
}

func (o *okx) Name() string { return "okx" }

func (o *okx) Supports(c Capability) bool { return o.e.caps[c] }

func (o *okx) Close() { o.client.Close() }

// okxInstID converts "BTC/USDT" to OKX's "BTC-USDT" instrument id.
func okxInstID(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "-"))
}

// okxEnvelope is the common { code, msg, data } wrapper. OKX returns HTTP 200
// with a non-zero code for most application-level failures.
type okxEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

// Instrument-does-not-exist codes per the OKX error reference.
func okxNotFound(code string) bool {
	return code == "51000" || code == "51001"
}

func (o *okx) FetchTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	if err := o.e.bucket.Wait(ctx); err != nil {
		return market.Ticker{}, market.Unavailable(err, "okx rate gate")
	}
	type tick struct {
		Last   string `json:"last"`
		BidPx  string `json:"bidPx"`
		AskPx  string `json:"askPx"`
		High   string `json:"high24h"`
		Low    string `json:"low24h"`
		Vol    string `json:"vol24h"`
		TsMs   string `json:"ts"`
		InstID string `json:"instId"`
	}
	var env okxEnvelope[tick]
	u := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", o.baseURL, url.QueryEscape(okxInstID(symbol)))
	if err := o.client.GetJSON(ctx, u, &env); err != nil {
		return market.Ticker{}, o.classify(err, symbol)
	}
	if env.Code != "0" || len(env.Data) == 0 {
		if okxNotFound(env.Code) || len(env.Data) == 0 {
			return market.Ticker{}, market.NotFound("symbol %q not found on okx", symbol)
		}
		return market.Ticker{}, market.Internal(fmt.Errorf("okx code=%s msg=%q", env.Code, env.Msg), "okx request failed")
	}
	d := env.Data[0]
	ts, _ := strconv.ParseInt(d.TsMs, 10, 64)
	return market.Ticker{
		Symbol:    symbol,
		Last:      parseF(d.Last),
		Bid:       parseF(d.BidPx),
		Ask:       parseF(d.AskPx),
		High:      parseF(d.High),
		Low:       parseF(d.Low),
		Volume:    parseF(d.Vol),
		Timestamp: ts,
	}, nil
}

func (o *okx) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMs int64, limit int) ([]market.Candle, error) {
	if err := o.e.bucket.Wait(ctx); err != nil {
		return nil, market.Unavailable(err, "okx rate gate")
	}
	q := url.Values{}
	q.Set("instId", okxInstID(symbol))
	if timeframe != "" {
		q.Set("bar", okxBar(timeframe))
	}
	if sinceMs > 0 {
		// OKX pages backwards: "before" returns candles newer than ts.
		q.Set("before", strconv.FormatInt(sinceMs, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var env okxEnvelope[[]string]
	u := fmt.Sprintf("%s/api/v5/market/candles?%s", o.baseURL, q.Encode())
	if err := o.client.GetJSON(ctx, u, &env); err != nil {
		return nil, o.classify(err, symbol)
	}
	if env.Code != "0" {
		if okxNotFound(env.Code) {
			return nil, market.NotFound("symbol %q not found on okx", symbol)
		}
		return nil, market.Internal(fmt.Errorf("okx code=%s msg=%q", env.Code, env.Msg), "okx request failed")
	}
	// Rows are [ts, o, h, l, c, vol, ...] newest first; flip to ascending.
	out := make([]market.Candle, 0, len(env.Data))
	for i := len(env.Data) - 1; i >= 0; i-- {
		r := env.Data[i]
		if len(r) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(r[0], 10, 64)
		out = append(out, market.Candle{
			Timestamp: ts,
			Open:      parseF(r[1]),
			High:      parseF(r[2]),
			Low:       parseF(r[3]),
			Close:     parseF(r[4]),
			Volume:    parseF(r[5]),
		})
	}
	return out, nil
}

func (o *okx) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	if err := o.e.bucket.Wait(ctx); err != nil {
		return market.OrderBook{}, market.Unavailable(err, "okx rate gate")
	}
	if depth <= 0 || depth > 400 {
		depth = 400
	}
	type book struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		TsMs string     `json:"ts"`
	}
	var env okxEnvelope[book]
	u := fmt.Sprintf("%s/api/v5/market/books?instId=%s&sz=%d", o.baseURL, url.QueryEscape(okxInstID(symbol)), depth)
	if err := o.client.GetJSON(ctx, u, &env); err != nil {
		return market.OrderBook{}, o.classify(err, symbol)
	}
	if env.Code != "0" || len(env.Data) == 0 {
		if okxNotFound(env.Code) || len(env.Data) == 0 {
			return market.OrderBook{}, market.NotFound("symbol %q not found on okx", symbol)
		}
		return market.OrderBook{}, market.Internal(fmt.Errorf("okx code=%s msg=%q", env.Code, env.Msg), "okx request failed")
	}
	d := env.Data[0]
	ts, _ := strconv.ParseInt(d.TsMs, 10, 64)
	if ts == 0 {
		ts = nowMs()
	}
	return market.OrderBook{
		Symbol:    symbol,
		Bids:      levels(d.Bids, depth),
		Asks:      levels(d.Asks, depth),
		Timestamp: ts,
	}, nil
}

func (o *okx) classify(err error, symbol string) error {
	var se *httpx.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusNotFound:
			return market.NotFound("symbol %q not found on okx", symbol)
		case se.Code >= 500 || se.Code == http.StatusTooManyRequests:
			return market.Unavailable(err, "okx unavailable")
		default:
			return market.Internal(err, "okx request failed")
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return market.Unavailable(err, "okx request aborted")
	}
	return market.Unavailable(err, "network error connecting to okx")
}

// okxBar maps common timeframe spellings to OKX bar names. Minute bars match
// as-is; hour and day bars are upper-cased ("1h" -> "1H").
func okxBar(tf string) string {
	if strings.HasSuffix(tf, "m") || strings.HasSuffix(tf, "s") {
		return tf
	}
	return strings.ToUpper(tf)
}
