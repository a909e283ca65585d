package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"cryptoarb/internal/config"
	"cryptoarb/internal/exchange"
	"cryptoarb/internal/models"
	"cryptoarb/pkg/utils"
)

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "executor",
		Name:      "executions_total",
		Help:      "Execution attempts by outcome",
	}, []string{"outcome"})
	abortedWithFills = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "executor",
		Name:      "aborted_with_fills_total",
		Help:      "Aborted executions that left filled legs behind",
	})
	executionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "executor",
		Name:      "execution_duration_seconds",
		Help:      "Wall time of a full cycle execution",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// orderAmountStep - шаг округления количества ордера вниз.
// Биржи отклоняют количества с избыточной точностью.
const orderAmountStep = 1e-8

// Ошибки координатора
var (
	ErrAlreadyExecuting   = errors.New("opportunity is already executing")
	ErrOpportunityExpired = errors.New("opportunity details expired from cache")
	ErrNotExecutable      = errors.New("opportunity is not in an executable state")
	ErrApprovalRejected   = errors.New("opportunity rejected by operator")
	ErrPriceDrifted       = errors.New("price drifted beyond tolerance")
)

// opportunityCache - чтение деталей цикла и актуальных котировок
type opportunityCache interface {
	GetOpportunity(ctx context.Context, id int64) (*models.OpportunityDetail, error)
	GetTicker(ctx context.Context, exchange, pair string) (*models.TickerSnapshot, error)
	DeleteOpportunity(ctx context.Context, id int64) error
}

// opportunityStore - статусы возможностей в базе
type opportunityStore interface {
	GetByID(id int64) (*models.Opportunity, error)
	UpdateStatus(id int64, from, to string) error
}

// tradeStore - журнал сделок
type tradeStore interface {
	Create(t *models.Trade) error
	UpdateStatus(id int64, status string, price, fee float64) error
}

// venueSource отдает адаптер биржи по имени
type venueSource interface {
	Get(name string) (exchange.Exchange, error)
}

// Coordinator исполняет арбитражные циклы: нога за ногой, с проверкой
// актуальности цен перед каждой ногой. Сбой посреди цикла не разворачивает
// уже исполненные ноги: они фиксируются в журнале, дисбаланс выравнивает
// перевод средств между биржами
type Coordinator struct {
	cfg      *config.Config
	cache    opportunityCache
	opps     opportunityStore
	trades   tradeStore
	venues   venueSource
	approver Approver
	logger   *utils.Logger

	mu     sync.Mutex
	active map[int64]bool // исполняемые сейчас возможности
}

// NewCoordinator создает координатор исполнения
func NewCoordinator(cfg *config.Config, cache opportunityCache, opps opportunityStore, trades tradeStore, venues venueSource, logger *utils.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		cache:    cache,
		opps:     opps,
		trades:   trades,
		venues:   venues,
		approver: AutoApprover{},
		logger:   logger.WithComponent("executor"),
		active:   make(map[int64]bool),
	}
}

// SetApprover заменяет канал подтверждений (по умолчанию автоподтверждение)
func (c *Coordinator) SetApprover(a Approver) { c.approver = a }

// Active возвращает ID исполняемых сейчас возможностей
func (c *Coordinator) Active() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Coordinator) acquire(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[id] {
		return false
	}
	c.active[id] = true
	return true
}

func (c *Coordinator) release(id int64) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

// Execute исполняет возможность по ID: подтверждение, ревалидация,
// последовательные ноги. Повторный вызов для той же возможности во
// время исполнения отклоняется.
func (c *Coordinator) Execute(ctx context.Context, id int64) error {
	if !c.acquire(id) {
		return ErrAlreadyExecuting
	}
	defer c.release(id)

	start := time.Now()
	defer func() {
		executionDuration.Observe(time.Since(start).Seconds())
	}()

	logger := c.logger.WithOpportunityID(id)

	opp, err := c.opps.GetByID(id)
	if err != nil {
		return err
	}
	if opp.Status != models.OppDetected {
		return fmt.Errorf("%w: status %s", ErrNotExecutable, opp.Status)
	}

	detail, err := c.cache.GetOpportunity(ctx, id)
	if err != nil {
		// Детали истекли из кэша - возможность уже не актуальна
		if stErr := c.opps.UpdateStatus(id, models.OppDetected, models.OppCanceled); stErr != nil {
			logger.Warn("failed to cancel expired opportunity", zap.Error(stErr))
		}
		executionsTotal.WithLabelValues("expired").Inc()
		return fmt.Errorf("%w: %v", ErrOpportunityExpired, err)
	}

	from := models.OppDetected
	if detail.Volume > c.cfg.Execution.AutoApproveCapital {
		approved, err := c.requestApproval(ctx, id, detail)
		if err != nil || !approved {
			if stErr := c.opps.UpdateStatus(id, models.OppPendingApproval, models.OppCanceled); stErr != nil {
				logger.Warn("failed to cancel rejected opportunity", zap.Error(stErr))
			}
			executionsTotal.WithLabelValues("rejected").Inc()
			if err != nil {
				return err
			}
			return ErrApprovalRejected
		}
		from = models.OppPendingApproval
	}

	if err := c.opps.UpdateStatus(id, from, models.OppExecuting); err != nil {
		return err
	}

	logger.Info("execution started",
		zap.Strings("cycle", detail.Cycle),
		zap.Float64("volume", detail.Volume),
		zap.Float64("expected_margin", detail.ProfitMargin))

	finalAmount, execErr := c.executeLegs(ctx, logger, detail)
	if execErr != nil {
		if stErr := c.opps.UpdateStatus(id, models.OppExecuting, models.OppFailed); stErr != nil {
			logger.Error("failed to mark opportunity failed", zap.Error(stErr))
		}
		_ = c.cache.DeleteOpportunity(ctx, id)
		executionsTotal.WithLabelValues("failed").Inc()
		logger.Error("execution failed", zap.Error(execErr))
		return execErr
	}

	if err := c.opps.UpdateStatus(id, models.OppExecuting, models.OppCompleted); err != nil {
		logger.Error("failed to mark opportunity completed", zap.Error(err))
	}
	_ = c.cache.DeleteOpportunity(ctx, id)
	executionsTotal.WithLabelValues("completed").Inc()

	realized := 0.0
	if detail.Volume > 0 {
		realized = finalAmount/detail.Volume - 1
	}
	logger.Info("execution completed",
		zap.Float64("final_amount", finalAmount),
		zap.Float64("realized_margin", realized))
	return nil
}

// requestApproval переводит возможность в PENDING_APPROVAL и ждёт
// решения оператора не дольше ApprovalTTL
func (c *Coordinator) requestApproval(ctx context.Context, id int64, detail *models.OpportunityDetail) (bool, error) {
	if err := c.opps.UpdateStatus(id, models.OppDetected, models.OppPendingApproval); err != nil {
		return false, err
	}

	approveCtx := ctx
	if c.cfg.Execution.ApprovalTTL > 0 {
		var cancel context.CancelFunc
		approveCtx, cancel = context.WithTimeout(ctx, c.cfg.Execution.ApprovalTTL)
		defer cancel()
	}

	approved, err := c.approver.Approve(approveCtx, detail)
	if err != nil {
		return false, fmt.Errorf("approval: %w", err)
	}
	return approved, nil
}

// filledLeg - уже исполненная нога цикла
type filledLeg struct {
	leg      models.Leg
	acquired float64 // количество полученной валюты To
}

// executeLegs исполняет ноги цикла последовательно, неся сумму сквозь
// конвертации. Возвращает итоговую сумму в стартовой валюте.
func (c *Coordinator) executeLegs(ctx context.Context, logger *utils.Logger, detail *models.OpportunityDetail) (float64, error) {
	carry := detail.Volume
	var filled []filledLeg

	for i, leg := range detail.Legs {
		acquired, err := c.executeLeg(ctx, logger, detail.ID, leg, carry)
		if err != nil {
			logger.Warn("leg failed, aborting cycle",
				zap.Int("leg", i),
				zap.String("exchange", leg.Exchange),
				zap.String("pair", leg.Pair),
				zap.Error(err))
			c.reportFills(logger, filled)
			return 0, fmt.Errorf("leg %d (%s %s on %s): %w", i, leg.Side, leg.Pair, leg.Exchange, err)
		}
		filled = append(filled, filledLeg{leg: leg, acquired: acquired})
		carry = acquired
	}

	return carry, nil
}

// executeLeg исполняет одну ногу: ревалидация цены, лимитный ордер по
// актуальной цене, ожидание исполнения. Возвращает количество полученной
// валюты.
func (c *Coordinator) executeLeg(ctx context.Context, logger *utils.Logger, oppID int64, leg models.Leg, carry float64) (float64, error) {
	venue, err := c.venues.Get(leg.Exchange)
	if err != nil {
		return 0, err
	}

	price, err := c.revalidate(ctx, leg)
	if err != nil {
		return 0, err
	}

	// amount всегда в базовой валюте пары
	amount := carry
	if leg.Side == models.SideBuy {
		amount = carry / price
	}
	amount = utils.RoundToLotSize(amount, orderAmountStep)

	order, err := venue.PlaceOrder(ctx, leg.Pair, leg.Side, exchange.OrderTypeLimit, amount, price)
	if err != nil {
		return 0, err
	}

	trade := &models.Trade{
		OpportunityID: oppID,
		Exchange:      leg.Exchange,
		Pair:          leg.Pair,
		Side:          leg.Side,
		Price:         price,
		Amount:        amount,
		OrderID:       order.ID,
		Status:        models.TradeOpen,
	}
	if err := c.trades.Create(trade); err != nil {
		logger.Error("failed to persist trade", zap.Error(err))
	}

	order, err = c.awaitFill(ctx, venue, leg.Pair, order)
	if err != nil {
		c.recordTradeOutcome(logger, trade, order)
		return 0, err
	}

	c.recordTradeOutcome(logger, trade, order)

	if order.Status != exchange.OrderStatusFilled {
		return 0, fmt.Errorf("order %s finished as %s", order.ID, order.Status)
	}

	return acquiredAmount(leg.Side, order), nil
}

// revalidate сверяет актуальную цену ноги с ценой на момент обнаружения.
// Уход цены за пределы допуска отменяет исполнение до размещения ордера.
func (c *Coordinator) revalidate(ctx context.Context, leg models.Leg) (float64, error) {
	t, err := c.cache.GetTicker(ctx, leg.Exchange, leg.Pair)
	if err != nil {
		return 0, fmt.Errorf("revalidation: %w", err)
	}
	if t.StaleAt(time.Now(), c.cfg.Trading.StalenessBound) {
		return 0, fmt.Errorf("revalidation: %w: quote is stale", ErrPriceDrifted)
	}

	current := t.Ask
	if leg.Side == models.SideSell {
		current = t.Bid
	}
	if current <= 0 {
		return 0, fmt.Errorf("revalidation: %w: empty quote", ErrPriceDrifted)
	}

	// Сдвиг считается только в невыгодную сторону: подорожание при
	// покупке, подешевение при продаже. Выгодный сдвиг не блокирует.
	drift := (current - leg.Price) / leg.Price
	if leg.Side == models.SideSell {
		drift = -drift
	}
	if drift > c.cfg.Execution.PriceDriftTolerance {
		return 0, fmt.Errorf("%w: %s %s moved %.4f%% against the plan (limit %.4f%%)",
			ErrPriceDrifted, leg.Exchange, leg.Pair,
			drift*100, c.cfg.Execution.PriceDriftTolerance*100)
	}

	return current, nil
}

// awaitFill опрашивает ордер до терминального статуса либо дедлайна.
// По дедлайну ордер отменяется и возвращается его финальное состояние.
func (c *Coordinator) awaitFill(ctx context.Context, venue exchange.Exchange, pair string, order *Order) (*Order, error) {
	if order.Terminal() {
		return order, nil
	}

	deadline := time.Now().Add(c.cfg.Execution.OrderTimeout)
	ticker := time.NewTicker(c.cfg.Execution.FillPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-ticker.C:
		}

		refreshed, err := venue.FetchOrder(ctx, pair, order.ID)
		if err != nil {
			if exchange.IsTransient(err) {
				continue
			}
			return order, err
		}
		order = refreshed

		if order.Terminal() {
			return order, nil
		}

		if time.Now().After(deadline) {
			if err := venue.CancelOrder(ctx, pair, order.ID); err != nil {
				return order, fmt.Errorf("order timed out, cancel failed: %w", err)
			}
			refreshed, err := venue.FetchOrder(ctx, pair, order.ID)
			if err == nil {
				order = refreshed
			}
			return order, nil
		}
	}
}

// recordTradeOutcome записывает финальный статус сделки в журнал
func (c *Coordinator) recordTradeOutcome(logger *utils.Logger, trade *models.Trade, order *Order) {
	if trade.ID == 0 || order == nil {
		return
	}

	status := models.TradeFailed
	switch order.Status {
	case exchange.OrderStatusFilled:
		status = models.TradeFilled
	case exchange.OrderStatusCanceled:
		status = models.TradeCanceled
		if order.Filled > 0 {
			status = models.TradePartiallyFilled
		}
	case exchange.OrderStatusPartial:
		status = models.TradePartiallyFilled
	}

	if err := c.trades.UpdateStatus(trade.ID, status, order.AvgFillPrice, order.Fee); err != nil {
		logger.Error("failed to update trade status", zap.Int64("trade_id", trade.ID), zap.Error(err))
	}
}

// reportFills фиксирует уже исполненные ноги прерванного цикла.
// Встречные ордера не размещаются: образовавшийся перекос балансов
// выравнивается переводом средств между биржами.
func (c *Coordinator) reportFills(logger *utils.Logger, filled []filledLeg) {
	if len(filled) == 0 {
		return
	}
	abortedWithFills.Inc()

	for _, f := range filled {
		logger.Warn("filled leg left after aborted cycle: rebalance required",
			zap.String("exchange", f.leg.Exchange),
			zap.String("pair", f.leg.Pair),
			zap.String("side", f.leg.Side),
			zap.Float64("acquired", f.acquired))
	}
}

// acquiredAmount возвращает количество валюты, полученной исполненным ордером
func acquiredAmount(side string, order *Order) float64 {
	if side == models.SideBuy {
		// Получена базовая валюта; комиссия покупки удерживается в базе
		acquired := order.Filled
		base, _, _ := models.SplitPair(order.Pair)
		if order.FeeCurrency == "" || order.FeeCurrency == base {
			acquired -= order.Fee
		}
		if acquired < 0 {
			return 0
		}
		return acquired
	}

	// Получена котируемая валюта за вычетом комиссии
	acquired := order.Filled*order.AvgFillPrice - order.Fee
	if acquired < 0 {
		return 0
	}
	return acquired
}

// Order - алиас для краткости сигнатур координатора
type Order = exchange.Order
