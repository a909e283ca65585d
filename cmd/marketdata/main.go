// Сервис рыночных данных: опрашивает биржи и раскладывает
// тикеры, стаканы и статусы подключений в Redis.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cryptoarb/internal/api"
	"cryptoarb/internal/cache"
	"cryptoarb/internal/config"
	"cryptoarb/internal/exchange"
	"cryptoarb/internal/marketdata"
	"cryptoarb/internal/websocket"
	"cryptoarb/pkg/utils"
)

func main() {
	cfg, err := config.Load("MARKETDATA_PORT", 8081)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := cache.Connect(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()
	store := cache.New(rdb, cfg.MarketData.CacheTTL)

	venues, err := exchange.NewManagerFromConfig(cfg.Exchanges)
	if err != nil {
		logger.Fatal("failed to initialize exchanges", zap.Error(err))
	}
	defer venues.CloseAll()

	logger.Info("market data service starting",
		zap.Strings("exchanges", venues.Names()),
		zap.Int("pairs", len(cfg.Trading.Pairs)))

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	fanout := marketdata.NewFanout(cfg, venues, store, logger)
	go fanout.Run(ctx)

	monitor := marketdata.NewMonitor(fanout)
	go monitor.Run(ctx)

	router := api.SetupRoutes(&api.Dependencies{
		Venues:        venues,
		VenueStatuses: store,
		Recycler:      fanout,
		Hub:           hub,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shut down", zap.Error(err))
	}
}
