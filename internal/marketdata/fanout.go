// Package marketdata - сбор рыночных данных: опрос тикеров и стаканов
// всех бирж в кэш Redis, учёт бюджета ошибок и пересоздание
// деградировавших подключений.
package marketdata

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"cryptoarb/internal/config"
	"cryptoarb/internal/exchange"
	"cryptoarb/internal/models"
	"cryptoarb/pkg/utils"
)

// marketSink - запись рыночных данных в кэш
type marketSink interface {
	SetTicker(ctx context.Context, t *models.TickerSnapshot) error
	SetOrderBook(ctx context.Context, ob *models.OrderBookSnapshot) error
	SetVenueStatus(ctx context.Context, st *models.VenueStatus) error
	PushMetric(ctx context.Context, service, name string, value float64) error
}

// venueRegistry - реестр адаптеров с поддержкой замены
type venueRegistry interface {
	Get(name string) (exchange.Exchange, error)
	Replace(ex exchange.Exchange)
	Names() []string
}

// venueState - счётчик подряд идущих ошибок и отметка последнего успеха
type venueState struct {
	mu          sync.Mutex
	consecutive int
	lastSuccess time.Time
	lastError   string
	statusKnown bool
	recycling   bool
}

// Fanout опрашивает биржи с целевым периодом и складывает снимки в кэш.
// На каждую комбинацию (биржа, пара) работают два цикла: тикеры ~100ms
// и стаканы ~1s. Следующий опрос стартует через max(0, период - затрачено).
type Fanout struct {
	cfg    *config.Config
	venues venueRegistry
	sink   marketSink
	logger *utils.Logger

	// rebuild пересоздаёт адаптер биржи; подменяется в тестах
	rebuild func(name string) (exchange.Exchange, error)

	mu     sync.Mutex
	states map[string]*venueState
}

// NewFanout создает сборщик рыночных данных
func NewFanout(cfg *config.Config, venues venueRegistry, sink marketSink, logger *utils.Logger) *Fanout {
	f := &Fanout{
		cfg:    cfg,
		venues: venues,
		sink:   sink,
		logger: logger.WithComponent("fanout"),
		states: make(map[string]*venueState),
	}
	f.rebuild = func(name string) (exchange.Exchange, error) {
		return exchange.New(name, cfg.Exchanges[name])
	}
	return f
}

// Run запускает циклы опроса всех бирж и пар до отмены контекста
func (f *Fanout) Run(ctx context.Context) {
	names := f.venues.Names()
	f.logger.Info("fanout started",
		zap.Strings("venues", names),
		zap.Int("pairs", len(f.cfg.Trading.Pairs)),
		zap.Duration("ticker_interval", f.cfg.MarketData.TickerInterval),
		zap.Duration("book_interval", f.cfg.MarketData.BookInterval))

	var wg sync.WaitGroup
	for _, name := range names {
		for _, pair := range f.cfg.Trading.Pairs {
			wg.Add(2)
			go func(name, pair string) {
				defer wg.Done()
				f.pollLoop(ctx, name, pair, "ticker", f.cfg.MarketData.TickerInterval)
			}(name, pair)
			go func(name, pair string) {
				defer wg.Done()
				f.pollLoop(ctx, name, pair, "book", f.cfg.MarketData.BookInterval)
			}(name, pair)
		}
	}
	wg.Wait()
	f.logger.Info("fanout stopped")
}

// pollLoop выдерживает целевой период: опрос, затем пауза на остаток периода
func (f *Fanout) pollLoop(ctx context.Context, name, pair, kind string, interval time.Duration) {
	for {
		start := time.Now()

		switch kind {
		case "ticker":
			f.PollTicker(ctx, name, pair)
		case "book":
			f.PollOrderBook(ctx, name, pair)
		}

		remainder := interval - time.Since(start)
		if remainder < 0 {
			remainder = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(remainder):
		}
	}
}

// PollTicker выполняет один опрос тикера и кладёт снимок в кэш
func (f *Fanout) PollTicker(ctx context.Context, name, pair string) {
	venue, err := f.venues.Get(name)
	if err != nil {
		f.failure(ctx, name, "ticker", err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.MarketData.RequestTimeout)
	defer cancel()

	start := time.Now()
	t, err := venue.FetchTicker(reqCtx, pair)
	pollLatency.WithLabelValues(name, "ticker").Observe(time.Since(start).Seconds())
	if err != nil {
		f.failure(ctx, name, "ticker", err)
		return
	}

	if err := f.sink.SetTicker(ctx, t); err != nil {
		f.logger.Warn("failed to cache ticker",
			zap.String("venue", name), zap.String("pair", pair), zap.Error(err))
		return
	}
	_ = f.sink.PushMetric(ctx, "market_data", "ticker_latency_ms:"+name, float64(time.Since(start).Milliseconds()))
	f.success(ctx, name, "ticker")
}

// PollOrderBook выполняет один опрос стакана и кладёт снимок в кэш
func (f *Fanout) PollOrderBook(ctx context.Context, name, pair string) {
	venue, err := f.venues.Get(name)
	if err != nil {
		f.failure(ctx, name, "book", err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.MarketData.RequestTimeout)
	defer cancel()

	start := time.Now()
	ob, err := venue.FetchOrderBook(reqCtx, pair, f.cfg.MarketData.BookDepth)
	pollLatency.WithLabelValues(name, "book").Observe(time.Since(start).Seconds())
	if err != nil {
		f.failure(ctx, name, "book", err)
		return
	}

	if err := f.sink.SetOrderBook(ctx, ob); err != nil {
		f.logger.Warn("failed to cache order book",
			zap.String("venue", name), zap.String("pair", pair), zap.Error(err))
		return
	}
	_ = f.sink.PushMetric(ctx, "market_data", "book_latency_ms:"+name, float64(time.Since(start).Milliseconds()))
	f.success(ctx, name, "book")
}

func (f *Fanout) state(name string) *venueState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[name]
	if !ok {
		st = &venueState{lastSuccess: time.Now()}
		f.states[name] = st
	}
	return st
}

// ConsecutiveErrors возвращает текущий счётчик подряд идущих ошибок биржи
func (f *Fanout) ConsecutiveErrors(name string) int {
	st := f.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.consecutive
}

// LastSuccess возвращает отметку последнего успешного опроса биржи
func (f *Fanout) LastSuccess(name string) time.Time {
	st := f.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSuccess
}

func (f *Fanout) success(ctx context.Context, name, kind string) {
	pollsTotal.WithLabelValues(name, kind, "ok").Inc()

	st := f.state(name)
	st.mu.Lock()
	writeConnected := st.consecutive > 0 || !st.statusKnown
	st.consecutive = 0
	st.lastSuccess = time.Now()
	st.lastError = ""
	st.statusKnown = true
	st.mu.Unlock()

	consecutiveErrors.WithLabelValues(name).Set(0)

	// Статус пишется на переходах и при первом успехе, чтобы биржа
	// без единой ошибки не читалась из кэша как unknown
	if writeConnected {
		f.setStatus(ctx, name, models.VenueConnected, 0, "")
	}
}

func (f *Fanout) failure(ctx context.Context, name, kind string, err error) {
	pollsTotal.WithLabelValues(name, kind, "error").Inc()

	st := f.state(name)
	st.mu.Lock()
	st.consecutive++
	st.lastError = err.Error()
	st.statusKnown = true
	count := st.consecutive
	st.mu.Unlock()

	consecutiveErrors.WithLabelValues(name).Set(float64(count))

	f.logger.Warn("poll failed",
		zap.String("venue", name),
		zap.String("kind", kind),
		zap.Int("consecutive", count),
		zap.Error(err))

	if count >= f.cfg.MarketData.MaxConsecutiveErrors {
		f.Recycle(ctx, name, err.Error())
		return
	}
	if count == 1 {
		f.setStatus(ctx, name, models.VenueDegraded, count, err.Error())
	}
}

// Recycle пересоздаёт адаптер биржи и сбрасывает бюджет ошибок.
// Конкурентные вызовы для одной биржи схлопываются в один.
func (f *Fanout) Recycle(ctx context.Context, name, cause string) {
	st := f.state(name)
	st.mu.Lock()
	if st.recycling {
		st.mu.Unlock()
		return
	}
	st.recycling = true
	count := st.consecutive
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		st.recycling = false
		st.mu.Unlock()
	}()

	f.setStatus(ctx, name, models.VenueError, count, cause)
	f.logger.Warn("recycling exchange adapter",
		zap.String("venue", name), zap.String("cause", cause))

	ex, err := f.rebuild(name)
	if err != nil {
		f.logger.Error("failed to rebuild exchange adapter",
			zap.String("venue", name), zap.Error(err))
		return
	}
	f.venues.Replace(ex)
	recyclesTotal.WithLabelValues(name).Inc()

	st.mu.Lock()
	st.consecutive = 0
	st.lastSuccess = time.Now()
	st.lastError = ""
	st.statusKnown = true
	st.mu.Unlock()
	consecutiveErrors.WithLabelValues(name).Set(0)

	f.setStatus(ctx, name, models.VenueConnected, 0, "")
}

func (f *Fanout) setStatus(ctx context.Context, name, status string, errCount int, lastErr string) {
	err := f.sink.SetVenueStatus(ctx, &models.VenueStatus{
		Exchange:          name,
		Status:            status,
		LastUpdate:        time.Now(),
		ConsecutiveErrors: errCount,
		LastError:         lastErr,
	})
	if err != nil {
		f.logger.Warn("failed to write venue status",
			zap.String("venue", name), zap.Error(err))
	}
}
