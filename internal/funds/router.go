package funds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"cryptoarb/internal/cache"
	"cryptoarb/internal/config"
	"cryptoarb/internal/exchange"
	"cryptoarb/internal/models"
	"cryptoarb/pkg/utils"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "funds",
		Name:      "transfers_total",
		Help:      "Transfer attempts by outcome",
	}, []string{"outcome"})
	transfersPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "funds",
		Name:      "transfers_pending",
		Help:      "Transfers awaiting a terminal withdrawal status",
	})
)

// Ошибки роутера переводов
var (
	ErrTransferInFlight  = errors.New("transfer for this exchange and currency is already in flight")
	ErrNoNetwork         = errors.New("no withdrawal network configured for currency")
	ErrInsufficientFunds = errors.New("insufficient free balance for transfer")
)

// Lease - захваченная распределённая блокировка
type Lease interface {
	Refresh(ctx context.Context) (bool, error)
	Release(ctx context.Context) (bool, error)
}

// locker - распределённые блокировки переводов
type locker interface {
	AcquireTransferLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error)
}

// CacheLocker адаптирует Redis-кэш к интерфейсу блокировок роутера
type CacheLocker struct {
	Cache *cache.Cache
}

func (c CacheLocker) AcquireTransferLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	lock, ok, err := c.Cache.AcquireLock(ctx, name, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return lock, true, nil
}

// venueSource отдает адаптер биржи по имени
type venueSource interface {
	Get(name string) (exchange.Exchange, error)
}

// transferStore - журнал переводов
type transferStore interface {
	Create(t *models.Transfer) error
	GetPending() ([]*models.Transfer, error)
	UpdateStatus(id int64, from, to string) error
	SetTransactionID(id int64, txID string) error
}

// Notifier уведомляет оператора о переводах, требующих внимания
type Notifier interface {
	NotifyTransfer(t *models.Transfer)
}

// Router переводит средства между биржами. Параллельные переводы
// одной валюты с одной биржи исключаются распределённой блокировкой:
// двойной вывод при гонке двух инстансов роутера невозможен.
type Router struct {
	cfg       *config.Config
	locks     locker
	venues    venueSource
	transfers transferStore
	notifier  Notifier
	logger    *utils.Logger
}

// NewRouter создает роутер переводов
func NewRouter(cfg *config.Config, locks locker, venues venueSource, transfers transferStore, logger *utils.Logger) *Router {
	return &Router{
		cfg:       cfg,
		locks:     locks,
		venues:    venues,
		transfers: transfers,
		logger:    logger.WithComponent("funds"),
	}
}

// SetNotifier подключает канал уведомлений оператора
func (r *Router) SetNotifier(n Notifier) { r.notifier = n }

// Transfer выводит amount валюты с биржи from на депозитный адрес
// биржи to. Пустая network означает сеть по умолчанию для валюты.
// Возвращает перевод в статусе PENDING; терминальный статус
// проставляет монитор.
func (r *Router) Transfer(ctx context.Context, from, to, currency string, amount float64, network string) (*models.Transfer, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %v", amount)
	}

	lockName := fmt.Sprintf("transfer:%s:%s", from, currency)
	lock, ok, err := r.locks.AcquireTransferLock(ctx, lockName, r.cfg.Funds.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		transfersTotal.WithLabelValues("locked").Inc()
		return nil, fmt.Errorf("%w: %s", ErrTransferInFlight, lockName)
	}
	defer func() {
		if _, err := lock.Release(ctx); err != nil {
			r.logger.Warn("failed to release transfer lock", zap.String("lock", lockName), zap.Error(err))
		}
	}()

	src, err := r.venues.Get(from)
	if err != nil {
		return nil, err
	}
	dst, err := r.venues.Get(to)
	if err != nil {
		return nil, err
	}

	network, fee, err := r.resolveNetwork(ctx, src, currency, network)
	if err != nil {
		return nil, err
	}

	balances, err := src.FetchBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s balances: %w", from, err)
	}
	if free := balances[currency].Free; free < amount+fee {
		transfersTotal.WithLabelValues("insufficient").Inc()
		return nil, fmt.Errorf("%w: need %v %s on %s, have %v",
			ErrInsufficientFunds, amount+fee, currency, from, free)
	}

	addr, err := dst.DepositAddress(ctx, currency, network)
	if err != nil {
		return nil, fmt.Errorf("deposit address on %s: %w", to, err)
	}

	// Блокировка могла истечь за время сетевых вызовов: продлеваем
	// перед самим выводом, иначе single-flight не гарантирован
	if ok, err := lock.Refresh(ctx); err != nil || !ok {
		transfersTotal.WithLabelValues("lock_lost").Inc()
		return nil, fmt.Errorf("%w: lock expired before withdrawal", ErrTransferInFlight)
	}

	w, err := src.Withdraw(ctx, &exchange.WithdrawRequest{
		Currency: currency,
		Amount:   amount,
		Address:  addr.Address,
		Tag:      addr.Tag,
		Network:  network,
		Fee:      fee,
	})
	if err != nil {
		transfersTotal.WithLabelValues("withdraw_failed").Inc()
		return nil, fmt.Errorf("withdraw from %s: %w", from, err)
	}

	transfer := &models.Transfer{
		Timestamp:    time.Now(),
		FromExchange: from,
		ToExchange:   to,
		Currency:     currency,
		Amount:       amount,
		Fee:          w.Fee,
		Status:       models.TransferPending,
	}
	if err := r.transfers.Create(transfer); err != nil {
		// Вывод уже ушёл: запись обязана попасть в журнал
		r.logger.Error("withdrawal sent but not persisted",
			zap.String("withdrawal_id", w.ID), zap.Error(err))
		return nil, err
	}
	if err := r.transfers.SetTransactionID(transfer.ID, w.ID); err != nil {
		r.logger.Error("failed to store withdrawal id",
			zap.Int64("transfer_id", transfer.ID), zap.Error(err))
	}
	transfer.TransactionID = w.ID

	transfersTotal.WithLabelValues("started").Inc()
	r.logger.Info("transfer started",
		zap.Int64("transfer_id", transfer.ID),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("currency", currency),
		zap.Float64("amount", amount),
		zap.String("network", network),
		zap.String("withdrawal_id", w.ID))

	return transfer, nil
}

// resolveNetwork выбирает сеть вывода и комиссию. Сеть по умолчанию
// берётся из справочника валют; комиссию сначала сообщает сама биржа,
// затем таблица типовых комиссий, затем самая дешёвая известная сеть.
func (r *Router) resolveNetwork(ctx context.Context, src exchange.Exchange, currency, network string) (string, float64, error) {
	if network == "" {
		network = PreferredNetwork(currency)
	}
	if network == "" {
		return "", 0, fmt.Errorf("%w: %s", ErrNoNetwork, currency)
	}

	if fee, err := src.WithdrawalFee(ctx, currency, network); err == nil {
		return network, fee, nil
	}
	if fee, ok := NetworkFee(currency, network); ok {
		return network, fee, nil
	}
	if cheapest, fee, ok := CheapestNetwork(currency); ok {
		r.logger.Warn("no known fee for requested network, falling back to cheapest",
			zap.String("currency", currency),
			zap.String("requested", network),
			zap.String("network", cheapest))
		return cheapest, fee, nil
	}
	return "", 0, fmt.Errorf("%w: %s", ErrNoNetwork, currency)
}

// Run запускает монитор переводов до отмены контекста
func (r *Router) Run(ctx context.Context) {
	r.logger.Info("transfer monitor started",
		zap.Duration("interval", r.cfg.Funds.MonitorInterval))

	ticker := time.NewTicker(r.cfg.Funds.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("transfer monitor stopped")
			return
		case <-ticker.C:
			r.CheckPending(ctx)
		}
	}
}

// CheckPending опрашивает статусы всех незавершённых переводов.
// Переводы без терминального статуса в пределах MaxTransferTime
// помечаются UNKNOWN и остаются оператору.
func (r *Router) CheckPending(ctx context.Context) {
	pending, err := r.transfers.GetPending()
	if err != nil {
		r.logger.Error("failed to list pending transfers", zap.Error(err))
		return
	}
	transfersPending.Set(float64(len(pending)))

	for _, t := range pending {
		r.checkTransfer(ctx, t)
	}
}

func (r *Router) checkTransfer(ctx context.Context, t *models.Transfer) {
	logger := r.logger.With(zap.Int64("transfer_id", t.ID))

	if t.TransactionID == "" {
		// Вывод ушёл, но его ID не сохранился: исход неизвестен
		r.resolve(logger, t, models.TransferUnknown, "unknown")
		return
	}

	venue, err := r.venues.Get(t.FromExchange)
	if err != nil {
		logger.Error("source exchange unavailable", zap.Error(err))
		return
	}

	// Статус ищется по списку выводов источника, а не точечным запросом:
	// так находится и вывод, сменивший ID на стороне биржи
	list, err := venue.FetchWithdrawals(ctx, t.Currency, t.Timestamp.Add(-time.Minute))
	if err != nil {
		if exchange.IsTransient(err) {
			return
		}
		logger.Warn("failed to fetch withdrawal history", zap.Error(err))
		r.timeoutCheck(logger, t)
		return
	}

	var w *exchange.Withdrawal
	for _, cand := range list {
		if cand.ID == t.TransactionID {
			w = cand
			break
		}
	}
	if w == nil {
		logger.Warn("withdrawal missing from source history",
			zap.String("withdrawal_id", t.TransactionID))
		r.timeoutCheck(logger, t)
		return
	}

	switch w.Status {
	case exchange.WithdrawalCompleted:
		r.resolve(logger, t, models.TransferCompleted, "completed")
	case exchange.WithdrawalFailed:
		r.resolve(logger, t, models.TransferFailed, "failed")
	default:
		r.timeoutCheck(logger, t)
	}
}

// timeoutCheck помечает перевод UNKNOWN после MaxTransferTime
func (r *Router) timeoutCheck(logger *utils.Logger, t *models.Transfer) {
	if time.Since(t.Timestamp) <= r.cfg.Funds.MaxTransferTime {
		return
	}
	logger.Warn("transfer exceeded max transfer time",
		zap.Duration("age", time.Since(t.Timestamp)))
	r.resolve(logger, t, models.TransferUnknown, "unknown")
}

func (r *Router) resolve(logger *utils.Logger, t *models.Transfer, status, outcome string) {
	if err := r.transfers.UpdateStatus(t.ID, t.Status, status); err != nil {
		logger.Error("failed to update transfer status",
			zap.String("to", status), zap.Error(err))
		return
	}
	t.Status = status
	transfersTotal.WithLabelValues(outcome).Inc()
	logger.Info("transfer resolved", zap.String("status", status))

	// Неуспешные исходы требуют вмешательства оператора
	if r.notifier != nil && (status == models.TransferFailed || status == models.TransferUnknown) {
		r.notifier.NotifyTransfer(t)
	}
}
