// Сервис исполнения: проводит многоногие циклы по биржам,
// ревалидирует цены, пишет сделки и откатывает частичные исполнения.
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
	"cryptoarb/internal/executor"
	"cryptoarb/internal/repository"
	"cryptoarb/internal/websocket"
	"cryptoarb/pkg/utils"
)

func main() {
	cfg, err := config.Load("EXECUTOR_PORT", 8082)
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
	oppRepo := repository.NewOpportunityRepository(db)
	tradeRepo := repository.NewTradeRepository(db)

	venues, err := exchange.NewManagerFromConfig(cfg.Exchanges)
	if err != nil {
		logger.Fatal("failed to initialize exchanges", zap.Error(err))
	}
	defer venues.CloseAll()

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	coordinator := executor.NewCoordinator(cfg, store, oppRepo, tradeRepo, venues, logger)

	// Без настроенного Telegram крупные сделки подтверждать некому:
	// остаётся авто-подтверждение в пределах AutoApproveCapital
	if cfg.Telegram.BotToken != "" && cfg.Telegram.AdminChatID != 0 {
		approver, err := approval.NewTelegram(cfg.Telegram, logger)
		if err != nil {
			logger.Fatal("failed to connect telegram approver", zap.Error(err))
		}
		approver.Start()
		defer approver.Stop()
		coordinator.SetApprover(approver)
	}

	// Возможности, пережившие свой TTL в статусе DETECTED, отменяются
	go expireLoop(ctx, cfg, oppRepo, logger)

	logger.Info("execution service starting",
		zap.Strings("exchanges", venues.Names()),
		zap.Float64("auto_approve_capital", cfg.Execution.AutoApproveCapital))

	router := api.SetupRoutes(&api.Dependencies{
		Opportunities: oppRepo,
		Details:       store,
		Executor:      coordinator,
		Trades:        tradeRepo,
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

// expireLoop периодически отменяет протухшие возможности
func expireLoop(ctx context.Context, cfg *config.Config, repo *repository.OpportunityRepository, logger *utils.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			canceled, err := repo.CancelExpired(time.Now().Add(-cfg.Trading.OpportunityTTL))
			if err != nil {
				logger.Warn("failed to cancel expired opportunities", zap.Error(err))
				continue
			}
			if canceled > 0 {
				logger.Info("canceled expired opportunities", zap.Int64("count", canceled))
			}
		}
	}
}
