package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"marketfetch/internal/cache"
	"marketfetch/internal/coinmarketcap"
	"marketfetch/internal/config"
	"marketfetch/internal/fetcher"
	"marketfetch/internal/market"
)

// One-shot CLI fetch for inspection and smoke testing:
//
//	go run ./cmd/fetch -exchange binance -symbols "BTC/USDT,ETH/USDT"
func main() {
	var exchangeName string
	var symbolsCSV string
	var timeout int
	var configPath string

	flag.StringVar(&exchangeName, "exchange", getenv("EXCHANGE", "binance"), "exchange id")
	flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "BTC/USDT"), "comma-separated symbols")
	flag.IntVar(&timeout, "timeout", 15, "request timeout seconds")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		log.Fatal("no symbols provided")
	}

	c := cache.New(cache.NewMemoryStore())
	defer c.Close()
	f := fetcher.New(c, coinmarketcap.NewClient(cfg.CoinMarketCap.APIKey))

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	items := make([]market.BatchItem, 0, len(symbols))
	for _, s := range symbols {
		items = append(items, market.BatchItem{Exchange: exchangeName, Symbol: s})
	}
	tickers := f.BatchTickers(ctx, items)
	if len(tickers) == 0 {
		log.Fatal("no tickers received")
	}
	log.Printf("%s: %d of %d tickers", exchangeName, len(tickers), len(items))

	out := struct {
		Tickers []market.Ticker `json:"tickers"`
	}{Tickers: tickers}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
