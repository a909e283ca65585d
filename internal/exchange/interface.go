package exchange

import (
	"context"
	"time"

	"cryptoarb/internal/models"
)

// Exchange определяет унифицированный интерфейс спотовой биржи.
// Все блокирующие операции принимают context; реализации обязаны
// уважать его отмену и дедлайны.
type Exchange interface {
	// Name возвращает имя биржи
	Name() string

	// FetchTicker получает лучшие bid/ask по паре
	FetchTicker(ctx context.Context, pair string) (*models.TickerSnapshot, error)

	// FetchOrderBook получает стакан с заданной глубиной
	FetchOrderBook(ctx context.Context, pair string, depth int) (*models.OrderBookSnapshot, error)

	// FetchBalances получает балансы спотового аккаунта по всем валютам
	FetchBalances(ctx context.Context) (map[string]models.Balance, error)

	// PlaceOrder размещает ордер. amount в базовой валюте;
	// price используется только лимитными ордерами.
	PlaceOrder(ctx context.Context, pair, side, orderType string, amount, price float64) (*Order, error)

	// FetchOrder получает текущее состояние ордера
	FetchOrder(ctx context.Context, pair, orderID string) (*Order, error)

	// CancelOrder отменяет ордер. Отмена уже исполненного ордера - не ошибка.
	CancelOrder(ctx context.Context, pair, orderID string) error

	// Withdraw выводит средства на внешний адрес
	Withdraw(ctx context.Context, req *WithdrawRequest) (*Withdrawal, error)

	// WithdrawalFee возвращает комиссию вывода валюты в сети по данным биржи
	WithdrawalFee(ctx context.Context, currency, network string) (float64, error)

	// DepositAddress получает адрес депозита валюты в заданной сети
	DepositAddress(ctx context.Context, currency, network string) (*DepositAddress, error)

	// FetchWithdrawals возвращает выводы валюты, созданные начиная с since
	FetchWithdrawals(ctx context.Context, currency string, since time.Time) ([]*Withdrawal, error)

	// TakerFee и MakerFee - комиссии биржи в долях (0.001 = 0.1%)
	TakerFee() float64
	MakerFee() float64

	// Close закрывает соединения с биржей
	Close() error
}

// Типы ордеров
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Состояния ордера в терминах биржи
const (
	OrderStatusOpen     = "open"
	OrderStatusPartial  = "partial"
	OrderStatusFilled   = "filled"
	OrderStatusCanceled = "canceled"
	OrderStatusRejected = "rejected"
)

// Order представляет ордер на бирже
type Order struct {
	ID           string    `json:"id"`
	Pair         string    `json:"pair"`
	Side         string    `json:"side"` // buy | sell
	Type         string    `json:"type"` // market | limit
	Price        float64   `json:"price,omitempty"` // лимитная цена
	Amount       float64   `json:"amount"`
	Filled       float64   `json:"filled"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Fee          float64   `json:"fee"`
	FeeCurrency  string    `json:"fee_currency"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Terminal сообщает, завершён ли жизненный цикл ордера
func (o *Order) Terminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusCanceled || o.Status == OrderStatusRejected
}

// WithdrawRequest - параметры вывода средств.
// Fee обязателен для бирж, требующих явную комиссию сети (OKX).
type WithdrawRequest struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Address  string  `json:"address"`
	Tag      string  `json:"tag,omitempty"`
	Network  string  `json:"network"`
	Fee      float64 `json:"fee,omitempty"`
}

// Состояния вывода средств
const (
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
	WithdrawalFailed    = "failed"
)

// Withdrawal представляет вывод средств с биржи
type Withdrawal struct {
	ID        string    `json:"id"`
	Currency  string    `json:"currency"`
	Amount    float64   `json:"amount"`
	Fee       float64   `json:"fee"`
	Network   string    `json:"network"`
	Address   string    `json:"address"`
	TxID      string    `json:"tx_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// DepositAddress - адрес депозита валюты в конкретной сети
type DepositAddress struct {
	Currency string `json:"currency"`
	Network  string `json:"network"`
	Address  string `json:"address"`
	Tag      string `json:"tag,omitempty"`
}
