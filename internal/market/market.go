package market

// Ticker is the normalized last-trade snapshot returned by all providers.
// Timestamp is upstream-reported milliseconds since epoch, except for
// fallback-sourced tickers where it is best-effort fetch time (the fallback
// upstream does not report one).
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// Candle is one OHLCV bar. Timestamp is the interval start in milliseconds.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// PriceLevel is one (price, size) order book level.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a depth snapshot. Bids and asks keep the provider's own
// ordering (bids descending, asks ascending); nothing here re-sorts them.
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// BatchItem is one (provider, symbol) pair of a batch ticker request.
type BatchItem struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}
