package models

import "time"

// Состояния сделки (одной ноги исполняемого цикла)
const (
	TradeOpen            = "OPEN"
	TradeFilled          = "FILLED"
	TradePartiallyFilled = "PARTIALLY_FILLED"
	TradeCanceled        = "CANCELED"
	TradeFailed          = "FAILED"
)

// Стороны сделки
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

var tradeTransitions = map[string][]string{
	TradeOpen:            {TradeFilled, TradePartiallyFilled, TradeCanceled, TradeFailed},
	TradePartiallyFilled: {TradeFilled, TradeCanceled, TradeFailed},
	TradeFilled:          {},
	TradeCanceled:        {},
	TradeFailed:          {},
}

// CanTransitionTrade проверяет допустимость перехода состояния сделки
func CanTransitionTrade(from, to string) bool {
	allowed, ok := tradeTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalTrade сообщает, терминально ли состояние сделки
func IsTerminalTrade(state string) bool {
	return state == TradeFilled || state == TradeCanceled || state == TradeFailed
}

// Trade - строка таблицы trades. Создаётся только координатором исполнения
// и принадлежит своей возможности.
type Trade struct {
	ID            int64     `json:"id"`
	OpportunityID int64     `json:"opportunity_id"`
	Timestamp     time.Time `json:"timestamp"`
	Exchange      string    `json:"exchange"`
	Pair          string    `json:"pair"`
	Side          string    `json:"side"`
	Price         float64   `json:"price"`
	Amount        float64   `json:"amount"`
	Fee           float64   `json:"fee"`
	OrderID       string    `json:"order_id"` // внешний ID ордера на бирже
	Status        string    `json:"status"`
}
