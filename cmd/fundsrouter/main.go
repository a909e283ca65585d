// Сервис маршрутизации средств: межбиржевые переводы под
// распределённой блокировкой и мониторинг их подтверждения.
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
	"cryptoarb/internal/approval"
	"cryptoarb/internal/cache"
	"cryptoarb/internal/config"
	"cryptoarb/internal/exchange"
	"cryptoarb/internal/funds"
	"cryptoarb/internal/repository"
	"cryptoarb/pkg/utils"
)

func main() {
	cfg, err := config.Load("FUNDS_PORT", 8083)
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

	db, err := repository.Connect(cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	transferRepo := repository.NewTransferRepository(db)

	venues, err := exchange.NewManagerFromConfig(cfg.Exchanges)
	if err != nil {
		logger.Fatal("failed to initialize exchanges", zap.Error(err))
	}
	defer venues.CloseAll()

	router := funds.NewRouter(cfg, funds.CacheLocker{Cache: store}, venues, transferRepo, logger)
	if cfg.Telegram.BotToken != "" && cfg.Telegram.AdminChatID != 0 {
		tg, err := approval.NewTelegram(cfg.Telegram, logger)
		if err != nil {
			logger.Warn("telegram notifier unavailable", zap.Error(err))
		} else {
			router.SetNotifier(tg)
		}
	}
	go router.Run(ctx)

	logger.Info("funds router starting",
		zap.Strings("exchanges", venues.Names()),
		zap.Duration("lock_ttl", cfg.Funds.LockTTL))

	mux := api.SetupRoutes(&api.Dependencies{
		Transfers:     transferRepo,
		FundsRouter:   router,
		Venues:        venues,
		VenueStatuses: store,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
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
