package marketdata

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Monitor следит за живостью биржевых подключений: биржа без единого
// успешного опроса дольше StaleAfter принудительно пересоздаётся
type Monitor struct {
	fanout *Fanout
}

// NewMonitor создает монитор подключений
func NewMonitor(fanout *Fanout) *Monitor {
	return &Monitor{fanout: fanout}
}

// Run запускает цикл проверок до отмены контекста
func (m *Monitor) Run(ctx context.Context) {
	cfg := m.fanout.cfg.MarketData
	m.fanout.logger.Info("connection monitor started",
		zap.Duration("interval", cfg.MonitorInterval),
		zap.Duration("stale_after", cfg.StaleAfter))

	ticker := time.NewTicker(cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.fanout.logger.Info("connection monitor stopped")
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce пересоздаёт адаптеры бирж, молчащих дольше StaleAfter
func (m *Monitor) CheckOnce(ctx context.Context) {
	staleAfter := m.fanout.cfg.MarketData.StaleAfter
	now := time.Now()

	for _, name := range m.fanout.venues.Names() {
		last := m.fanout.LastSuccess(name)
		if now.Sub(last) <= staleAfter {
			continue
		}
		m.fanout.logger.Warn("venue went silent",
			zap.String("venue", name),
			zap.Duration("silent_for", now.Sub(last)))
		m.fanout.Recycle(ctx, name, "no successful polls within stale bound")
	}
}
