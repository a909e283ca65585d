package models

import "time"

// Состояния межбиржевого перевода.
// UNKNOWN присваивается, когда терминальный статус вывода не наблюдался
// в пределах MAX_TRANSFER_TIME; запись сохраняется для оператора.
const (
	TransferPending   = "PENDING"
	TransferCompleted = "COMPLETED"
	TransferFailed    = "FAILED"
	TransferUnknown   = "UNKNOWN"
)

var transferTransitions = map[string][]string{
	TransferPending: {TransferCompleted, TransferFailed, TransferUnknown},
	// Поздняя развязка UNKNOWN допустима: оператор может подтвердить исход вручную
	TransferUnknown:   {TransferCompleted, TransferFailed},
	TransferCompleted: {},
	TransferFailed:    {},
}

// CanTransitionTransfer проверяет допустимость перехода состояния перевода
func CanTransitionTransfer(from, to string) bool {
	allowed, ok := transferTransitions[from]
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

// Transfer - строка таблицы fund_transfers
type Transfer struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	FromExchange  string    `json:"from_exchange"`
	ToExchange    string    `json:"to_exchange"`
	Currency      string    `json:"currency"`
	Amount        float64   `json:"amount"`
	Fee           float64   `json:"fee"`
	TransactionID string    `json:"transaction_id,omitempty"` // внешний ID вывода
	Status        string    `json:"status"`
}

// SystemMetric - строка таблицы system_metrics
type SystemMetric struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	MetricName  string    `json:"metric_name"`
	MetricValue float64   `json:"metric_value"`
}
