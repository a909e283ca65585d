// Сервис детектора: ищет отрицательные циклы на графе курсов,
// публикует найденные возможности в БД и Redis.
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
	"cryptoarb/internal/detector"
	"cryptoarb/internal/exchange"
	"cryptoarb/internal/models"
	"cryptoarb/internal/repository"
	"cryptoarb/internal/websocket"
	"cryptoarb/pkg/utils"
)

// managerBalances отдаёт сканеру свободные балансы бирж
type managerBalances struct {
	venues *exchange.Manager
}

func (b managerBalances) FreeBalance(ctx context.Context, name, currency string) (float64, error) {
	venue, err := b.venues.Get(name)
	if err != nil {
		return 0, err
	}
	balances, err := venue.FetchBalances(ctx)
	if err != nil {
		return 0, err
	}
	return balances[currency].Free, nil
}

func main() {
	cfg, err := config.Load("DETECTOR_PORT", 8080)
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
	metricRepo := repository.NewMetricRepository(db)

	venues, err := exchange.NewManagerFromConfig(cfg.Exchanges)
	if err != nil {
		logger.Fatal("failed to initialize exchanges", zap.Error(err))
	}
	defer venues.CloseAll()

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	scanner := detector.NewScanner(cfg, store, oppRepo, logger)
	scanner.SetBalanceSource(managerBalances{venues: venues})
	scanner.SetNotifier(hub)
	go scanner.Run(ctx)

	go metricsJanitor(ctx, metricRepo, logger)

	logger.Info("detector service starting",
		zap.Strings("exchanges", venues.Names()),
		zap.Int("pairs", len(cfg.Trading.Pairs)),
		zap.Float64("min_profit_margin", cfg.Trading.MinProfitMargin))

	router := api.SetupRoutes(&api.Dependencies{
		Opportunities: oppRepo,
		Details:       store,
		Stats:         oppRepo,
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

// metricRetention - горизонт хранения строк system_metrics
const metricRetention = 30 * 24 * time.Hour

// metricsJanitor раз в час пишет heartbeat сервиса в system_metrics
// и удаляет записи старше горизонта хранения
func metricsJanitor(ctx context.Context, repo *repository.MetricRepository, logger *utils.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := repo.Create(&models.SystemMetric{
				Timestamp:   time.Now(),
				Service:     "arb_engine",
				MetricName:  "heartbeat",
				MetricValue: 1,
			})
			if err != nil {
				logger.Warn("failed to record heartbeat metric", zap.Error(err))
			}

			deleted, err := repo.DeleteOlderThan(time.Now().Add(-metricRetention))
			if err != nil {
				logger.Warn("failed to prune old metrics", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Info("pruned old metrics", zap.Int64("deleted", deleted))
			}
		}
	}
}
