package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"marketfetch/internal/cache"
	"marketfetch/internal/coinmarketcap"
	"marketfetch/internal/config"
	"marketfetch/internal/fetcher"
	"marketfetch/internal/logger"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger.Init(cfg.Logging)

	// Cache backend: Redis when configured, otherwise in-process.
	var store cache.Store
	if cfg.Redis.Addr != "" {
		store, err = cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logrus.Fatalf("redis: %v", err)
		}
	} else {
		logrus.Info("redis not configured, using in-memory cache")
		store = cache.NewMemoryStore()
	}
	c := cache.New(store)

	// Drop anything a persistent backend kept from a previous run.
	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := c.Clear(startupCtx); err != nil {
		logrus.WithError(err).Warn("failed to clear cache at startup")
	}
	cancel()

	if cfg.CoinMarketCap.APIKey == "" {
		logrus.Info("coinmarketcap api key not set; ticker fallback disabled")
	}
	fallback := coinmarketcap.NewClient(cfg.CoinMarketCap.APIKey)

	f := fetcher.New(c, fallback)
	if cfg.Cache.TickerTTLSec > 0 {
		f.TickerTTL = time.Duration(cfg.Cache.TickerTTLSec) * time.Second
	}

	mux := http.NewServeMux()
	registerRoutes(mux, f, time.Duration(cfg.Server.RequestTimeoutSec)*time.Second)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // SSE subscriptions hold the response open
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logrus.Infof("server listening on :%d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("server: %v", err)
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := c.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close cache")
	}
}
