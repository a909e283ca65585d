package detector

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"cryptoarb/internal/config"
	"cryptoarb/internal/graph"
	"cryptoarb/internal/models"
	"cryptoarb/pkg/utils"
)

var (
	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "detector",
		Name:      "scan_duration_seconds",
		Help:      "Duration of a full market scan",
		Buckets:   prometheus.DefBuckets,
	})
	cyclesFound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "detector",
		Name:      "cycles_found_total",
		Help:      "Raw negative cycles found before filtering",
	})
	cyclesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "detector",
		Name:      "cycles_rejected_total",
		Help:      "Cycles rejected by filters",
	}, []string{"reason"})
	opportunitiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "detector",
		Name:      "opportunities_total",
		Help:      "Opportunities persisted",
	})
)

// marketSource - чтение рыночных данных и публикация возможностей
type marketSource interface {
	GetAllTickers(ctx context.Context, exchanges []string, pair string) (map[string]*models.TickerSnapshot, error)
	GetOrderBook(ctx context.Context, exchange, pair string) (*models.OrderBookSnapshot, error)
	GetVenueStatus(ctx context.Context, exchange string) (*models.VenueStatus, error)
	CacheOpportunity(ctx context.Context, d *models.OpportunityDetail, ttl time.Duration) error
}

// opportunityStore - персистентное хранилище возможностей
type opportunityStore interface {
	Create(opp *models.Opportunity) error
}

// BalanceSource отдает свободный баланс валюты на бирже.
// Используется для расчёта объёма сделки.
type BalanceSource interface {
	FreeBalance(ctx context.Context, exchange, currency string) (float64, error)
}

// Notifier получает уведомления о новых возможностях
type Notifier interface {
	NotifyOpportunity(d *models.OpportunityDetail)
}

// Scanner периодически сканирует кэш рыночных данных и публикует
// найденные возможности
type Scanner struct {
	cfg      *config.Config
	market   marketSource
	store    opportunityStore
	balances BalanceSource // опционально
	notifier Notifier      // опционально
	history  *PriceHistory
	filter   *Filter
	logger   *utils.Logger

	// Подавление повторных публикаций одного цикла
	mu     sync.Mutex
	recent map[string]time.Time
}

// NewScanner создает сканер
func NewScanner(cfg *config.Config, market marketSource, store opportunityStore, logger *utils.Logger) *Scanner {
	history := NewPriceHistory(cfg.Trading.VolatilityWindow)
	return &Scanner{
		cfg:     cfg,
		market:  market,
		store:   store,
		history: history,
		filter: NewFilter(FilterConfig{
			MinProfitMargin:     cfg.Trading.MinProfitMargin,
			VolatilityThreshold: cfg.Trading.VolatilityThreshold,
			Pairs:               cfg.Trading.Pairs,
		}, history),
		logger: logger.WithComponent("scanner"),
		recent: make(map[string]time.Time),
	}
}

// SetBalanceSource подключает источник балансов для расчёта объёма
func (s *Scanner) SetBalanceSource(b BalanceSource) { s.balances = b }

// SetNotifier подключает получателя уведомлений
func (s *Scanner) SetNotifier(n Notifier) { s.notifier = n }

// Run запускает цикл сканирования до отмены контекста
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Info("scanner started",
		zap.Duration("interval", s.cfg.Trading.ScanInterval),
		zap.Int("pairs", len(s.cfg.Trading.Pairs)))

	ticker := time.NewTicker(s.cfg.Trading.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return
		case <-ticker.C:
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce выполняет одно сканирование рынка
func (s *Scanner) ScanOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		scanDuration.Observe(time.Since(start).Seconds())
	}()

	exchanges := s.connectedExchanges(ctx)
	if len(exchanges) == 0 {
		return
	}
	var tickers []*models.TickerSnapshot

	for _, pair := range s.cfg.Trading.Pairs {
		byExchange, err := s.market.GetAllTickers(ctx, exchanges, pair)
		if err != nil {
			s.logger.Warn("failed to read tickers", zap.String("pair", pair), zap.Error(err))
			continue
		}
		var midSum float64
		var midCount int
		for _, t := range byExchange {
			tickers = append(tickers, t)
			if mid := utils.MidPrice(t.Bid, t.Ask); mid > 0 {
				midSum += mid
				midCount++
			}
		}
		// В историю пишется средняя по биржам цена пары: скачок
		// на одной площадке без движения рынка - это и есть
		// арбитражная ситуация, а не волатильность
		if midCount > 0 {
			s.history.Record(pair, midSum/float64(midCount), time.Now())
		}
	}

	if len(tickers) == 0 {
		return
	}

	g := graph.Build(tickers, s.buildParams(), time.Now())
	cycles := graph.FindCycles(g)
	cyclesFound.Add(float64(len(cycles)))

	for _, c := range cycles {
		s.processCycle(ctx, c)
	}
}

// connectedExchanges возвращает биржи с живым подключением.
// Котировки отключённой биржи заведомо устарели: цикл через неё
// непроверяем и неисполним, такие биржи в граф не попадают.
func (s *Scanner) connectedExchanges(ctx context.Context) []string {
	names := make([]string, 0, len(s.cfg.Exchanges))
	for name := range s.cfg.Exchanges {
		st, err := s.market.GetVenueStatus(ctx, name)
		if err != nil {
			s.logger.Warn("failed to read venue status", zap.String("exchange", name), zap.Error(err))
			continue
		}
		if st.Status != models.VenueConnected {
			s.logger.Debug("skipping disconnected venue",
				zap.String("exchange", name),
				zap.String("status", st.Status))
			continue
		}
		names = append(names, name)
	}
	return names
}

func (s *Scanner) buildParams() graph.BuildParams {
	fees := make(map[string]graph.Fees, len(s.cfg.Exchanges))
	for name, ex := range s.cfg.Exchanges {
		fees[name] = graph.Fees{Taker: ex.TakerFee, Maker: ex.MakerFee}
	}
	return graph.BuildParams{
		Slippage:  s.cfg.Trading.Slippage,
		MaxSpread: s.cfg.Trading.MaxBidAskSpread,
		Staleness: s.cfg.Trading.StalenessBound,
		Fees:      fees,
	}
}

func (s *Scanner) processCycle(ctx context.Context, c *graph.Cycle) {
	key := cycleID(c)
	if s.recentlyPublished(key) {
		return
	}

	if reason := s.filter.Check(c); reason != RejectNone {
		cyclesRejected.WithLabelValues(reason).Inc()
		return
	}

	volume := s.tradeVolume(ctx, c)

	if !s.checkLiquidity(ctx, c, volume) {
		cyclesRejected.WithLabelValues(RejectLiquidity).Inc()
		return
	}

	opp := s.toOpportunity(c, volume)
	if err := s.store.Create(opp); err != nil {
		s.logger.Error("failed to persist opportunity", zap.Error(err))
		return
	}

	detail := s.toDetail(opp.ID, c, volume)
	if err := s.market.CacheOpportunity(ctx, detail, s.cfg.Trading.OpportunityTTL); err != nil {
		s.logger.Error("failed to cache opportunity", zap.Int64("opportunity_id", opp.ID), zap.Error(err))
	}

	s.markPublished(key)
	opportunitiesTotal.Inc()

	s.logger.Info("opportunity detected",
		zap.Int64("opportunity_id", opp.ID),
		zap.String("pair", opp.Pair),
		zap.String("buy_exchange", opp.BuyExchange),
		zap.String("sell_exchange", opp.SellExchange),
		zap.Float64("profit_margin", opp.ProfitMargin),
		zap.Float64("volume", opp.Volume))

	if s.notifier != nil {
		s.notifier.NotifyOpportunity(detail)
	}
}

// tradeVolume рассчитывает объём сделки в котируемой валюте.
// При наличии источника балансов берётся доля свободного баланса
// стартовой валюты, иначе объём по умолчанию.
func (s *Scanner) tradeVolume(ctx context.Context, c *graph.Cycle) float64 {
	volume := s.cfg.Trading.DefaultTradeVolume
	if s.balances == nil || len(c.Edges) == 0 {
		return volume
	}

	exchange, currency := fundingLeg(c)
	free, err := s.balances.FreeBalance(ctx, exchange, currency)
	if err != nil || free <= 0 {
		return volume
	}

	sized := free * s.cfg.Trading.MaxCapitalPerTrade
	if sized > 0 {
		return sized
	}
	return volume
}

// fundingLeg возвращает биржу и валюту начала исполнения цикла:
// котируемую валюту первой ноги покупки. Канонический поворот цикла
// не гарантирует, что обход начинается со стартовой валюты.
func fundingLeg(c *graph.Cycle) (exchange, currency string) {
	for i, e := range c.Edges {
		if e.Side == models.SideBuy {
			return e.Exchange, c.Currencies[i]
		}
	}
	return c.Edges[0].Exchange, c.Currencies[0]
}

// checkLiquidity проверяет, что стаканы всех ног покрывают объём сделки
func (s *Scanner) checkLiquidity(ctx context.Context, c *graph.Cycle, volume float64) bool {
	for _, e := range c.Edges {
		ob, err := s.market.GetOrderBook(ctx, e.Exchange, e.Pair)
		if err != nil {
			// Нет стакана - нет уверенности в ликвидности
			return false
		}
		if !SufficientDepth(ob, e.Side, volume) {
			return false
		}
	}
	return true
}

func (s *Scanner) toOpportunity(c *graph.Cycle, volume float64) *models.Opportunity {
	opp := &models.Opportunity{
		Timestamp:    time.Now(),
		Pair:         MainPair(c),
		Volume:       volume,
		ProfitMargin: c.ProfitMargin,
		Status:       models.OppDetected,
	}
	for _, e := range c.Edges {
		switch e.Side {
		case models.SideBuy:
			if opp.BuyExchange == "" {
				opp.BuyExchange = e.Exchange
				opp.BuyPrice = e.Price
			}
		case models.SideSell:
			if opp.SellExchange == "" {
				opp.SellExchange = e.Exchange
				opp.SellPrice = e.Price
			}
		}
	}
	return opp
}

func (s *Scanner) toDetail(id int64, c *graph.Cycle, volume float64) *models.OpportunityDetail {
	k := len(c.Currencies)
	legs := make([]models.Leg, 0, k)
	exchangeSet := make(map[string]bool)
	pairSet := make(map[string]bool)
	var exchanges, pairs []string

	for i, e := range c.Edges {
		legs = append(legs, models.Leg{
			From:           c.Currencies[i],
			To:             c.Currencies[(i+1)%k],
			Exchange:       e.Exchange,
			Pair:           e.Pair,
			Side:           e.Side,
			Price:          e.Price,
			EffectivePrice: e.EffectivePrice,
		})
		if !exchangeSet[e.Exchange] {
			exchangeSet[e.Exchange] = true
			exchanges = append(exchanges, e.Exchange)
		}
		if !pairSet[e.Pair] {
			pairSet[e.Pair] = true
			pairs = append(pairs, e.Pair)
		}
	}

	cycle := make([]string, 0, k+1)
	cycle = append(cycle, c.Currencies...)
	cycle = append(cycle, c.Currencies[0])

	return &models.OpportunityDetail{
		ID:           id,
		Cycle:        cycle,
		Legs:         legs,
		Exchanges:    exchanges,
		Pairs:        pairs,
		MainPair:     MainPair(c),
		ProfitMargin: c.ProfitMargin,
		Volume:       volume,
		CreatedAt:    time.Now(),
	}
}

func cycleID(c *graph.Cycle) string {
	key := ""
	for i, e := range c.Edges {
		if i > 0 {
			key += "|"
		}
		key += e.Exchange + ":" + e.Pair + ":" + e.Side
	}
	return key
}

func (s *Scanner) recentlyPublished(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, t := range s.recent {
		if now.Sub(t) > s.cfg.Trading.OpportunityTTL {
			delete(s.recent, k)
		}
	}

	_, ok := s.recent[key]
	return ok
}

func (s *Scanner) markPublished(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent[key] = time.Now()
}
