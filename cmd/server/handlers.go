package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"marketfetch/internal/market"
)

// service is what the handlers need from the fetch orchestrator.
type service interface {
	Exchanges() []string
	Ticker(ctx context.Context, exchange, symbol string) (market.Ticker, error)
	BatchTickers(ctx context.Context, items []market.BatchItem) []market.Ticker
	OHLCV(ctx context.Context, exchange, symbol, timeframe string, sinceMs int64, limit int) ([]market.Candle, error)
	OrderBook(ctx context.Context, exchange, symbol string, depth int) (market.OrderBook, error)
}

const (
	maxBatchItems = 100
	maxCandles    = 1000
	maxDepth      = 100
	pollInterval  = 10 * time.Second
)

func registerRoutes(mux *http.ServeMux, svc service, timeout time.Duration) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/v1/exchanges", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Exchanges())
	})
	mux.HandleFunc("GET /api/v1/ticker/{exchange}/{symbol...}", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		t, err := svc.Ticker(ctx, r.PathValue("exchange"), r.PathValue("symbol"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	})
	mux.HandleFunc("POST /api/v1/batch", func(w http.ResponseWriter, r *http.Request) {
		handleBatch(w, r, svc, timeout)
	})
	mux.HandleFunc("GET /api/v1/historical/{exchange}/{symbol...}", func(w http.ResponseWriter, r *http.Request) {
		handleHistorical(w, r, svc, timeout)
	})
	mux.HandleFunc("GET /api/v1/orderbook/{exchange}/{symbol...}", func(w http.ResponseWriter, r *http.Request) {
		handleOrderBook(w, r, svc, timeout)
	})
	mux.HandleFunc("GET /api/v1/subscribe", func(w http.ResponseWriter, r *http.Request) {
		handleSubscribe(w, r, svc)
	})
}

type batchBody struct {
	Requests [][]string `json:"requests"`
}

func handleBatch(w http.ResponseWriter, r *http.Request, svc service, timeout time.Duration) {
	var b batchBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(b.Requests) == 0 {
		httpError(w, http.StatusBadRequest, "requests cannot be empty")
		return
	}
	if len(b.Requests) > maxBatchItems {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("too many requests (max %d)", maxBatchItems))
		return
	}
	items := make([]market.BatchItem, 0, len(b.Requests))
	for _, pair := range b.Requests {
		if len(pair) != 2 {
			httpError(w, http.StatusBadRequest, "each request must be an [exchange, symbol] pair")
			return
		}
		items = append(items, market.BatchItem{Exchange: pair[0], Symbol: pair[1]})
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	writeJSON(w, http.StatusOK, svc.BatchTickers(ctx, items))
}

func handleHistorical(w http.ResponseWriter, r *http.Request, svc service, timeout time.Duration) {
	q := r.URL.Query()
	timeframe := q.Get("timeframe")
	if timeframe == "" {
		timeframe = "1h"
	}
	var sinceMs int64
	if from := q.Get("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid from date, want RFC 3339")
			return
		}
		sinceMs = ts.UnixMilli()
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxCandles {
			httpError(w, http.StatusBadRequest, fmt.Sprintf("limit must be 1..%d", maxCandles))
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	candles, err := svc.OHLCV(ctx, r.PathValue("exchange"), r.PathValue("symbol"), timeframe, sinceMs, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func handleOrderBook(w http.ResponseWriter, r *http.Request, svc service, timeout time.Duration) {
	depth := 25
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxDepth {
			httpError(w, http.StatusBadRequest, fmt.Sprintf("depth must be 1..%d", maxDepth))
			return
		}
		depth = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	book, err := svc.OrderBook(ctx, r.PathValue("exchange"), r.PathValue("symbol"), depth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// handleSubscribe streams ticker updates as server-sent events by polling the
// core on a fixed interval. Fetch failures are skipped, not fatal; the next
// tick tries again.
func handleSubscribe(w http.ResponseWriter, r *http.Request, svc service) {
	exchange := r.URL.Query().Get("exchange")
	symbol := r.URL.Query().Get("symbol")
	if exchange == "" || symbol == "" {
		httpError(w, http.StatusBadRequest, "missing exchange or symbol query param")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func() {
		t, err := svc.Ticker(r.Context(), exchange, symbol)
		if err != nil {
			return
		}
		b, _ := json.Marshal(t)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	send()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			send()
		}
	}
}

type errorBody struct {
	Detail string `json:"detail"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch market.KindOf(err) {
	case market.KindNotFound:
		status = http.StatusNotFound
	case market.KindUnavailable:
		status = http.StatusServiceUnavailable
	case market.KindUnsupported:
		status = http.StatusNotImplemented
	}
	writeJSON(w, status, errorBody{Detail: err.Error()})
}

func httpError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
