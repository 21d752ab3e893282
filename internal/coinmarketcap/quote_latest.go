package coinmarketcap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"marketfetch/internal/market"
)

// Quote is one base/quote price record from the quotes/latest endpoint.
// Price and Volume24h are always present; the rest default to zero because
// CoinMarketCap does not quote bid/ask.
type Quote struct {
	Price     float64 `json:"price"`
	Volume24h float64 `json:"volume_24h"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
}

// QuoteLatest fetches the latest quote for a base currency (e.g. "BTC")
// converted into the quote currency (e.g. "USDT"). A base or quote missing
// from the response classifies as not-found; HTTP failures keep the
// upstream's status classification.
func (c *Client) QuoteLatest(ctx context.Context, base, quote string) (Quote, error) {
	if !c.Configured() {
		return Quote{}, market.Unsupported("coinmarketcap api key not configured")
	}

	query := url.Values{}
	query.Set("symbol", base)
	query.Set("convert", quote)

	u := fmt.Sprintf("%s/v1/cryptocurrency/quotes/latest?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return Quote{}, market.Internal(err, "creating coinmarketcap request")
	}
	req.Header = c.header.Clone()
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, market.Unavailable(err, "network error connecting to coinmarketcap")
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusBadRequest:
		// CMC answers 400 for unknown symbols.
		return Quote{}, market.NotFound("coinmarketcap has no quote for %s/%s", base, quote)
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return Quote{}, market.Unavailable(fmt.Errorf("status %d", res.StatusCode), "coinmarketcap unavailable")
	default:
		return Quote{}, market.Internal(fmt.Errorf("status %d", res.StatusCode), "unexpected coinmarketcap response")
	}

	var body struct {
		Data map[string]struct {
			Quote map[string]Quote `json:"quote"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return Quote{}, market.Internal(err, "decoding coinmarketcap response")
	}

	entry, ok := body.Data[base]
	if !ok {
		return Quote{}, market.NotFound("coinmarketcap does not list %q", base)
	}
	q, ok := entry.Quote[quote]
	if !ok {
		return Quote{}, market.NotFound("coinmarketcap has no %q conversion for %q", quote, base)
	}
	return q, nil
}
