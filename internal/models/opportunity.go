package models

import "time"

// Состояния арбитражной возможности.
// Жизненный цикл движется только вперёд; COMPLETED, FAILED и CANCELED терминальны.
const (
	OppDetected        = "DETECTED"
	OppPendingApproval = "PENDING_APPROVAL"
	OppExecuting       = "EXECUTING"
	OppCompleted       = "COMPLETED"
	OppFailed          = "FAILED"
	OppCanceled        = "CANCELED"
)

// oppTransitions - допустимые переходы состояний возможности
var oppTransitions = map[string][]string{
	OppDetected:        {OppPendingApproval, OppExecuting, OppCanceled},
	OppPendingApproval: {OppExecuting, OppCanceled},
	OppExecuting:       {OppCompleted, OppFailed},
	OppCompleted:       {},
	OppFailed:          {},
	OppCanceled:        {},
}

// CanTransitionOpportunity проверяет допустимость перехода состояния возможности
func CanTransitionOpportunity(from, to string) bool {
	allowed, ok := oppTransitions[from]
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

// IsTerminalOpportunity сообщает, терминально ли состояние
func IsTerminalOpportunity(state string) bool {
	return state == OppCompleted || state == OppFailed || state == OppCanceled
}

// Opportunity - строка таблицы arbitrage_opportunities.
// Для оператора возможность сводится к main pair и паре бирж входа/выхода;
// полная цепочка ног хранится в кэше как OpportunityDetail.
type Opportunity struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Pair         string    `json:"pair"`
	BuyExchange  string    `json:"buy_exchange"`
	SellExchange string    `json:"sell_exchange"`
	BuyPrice     float64   `json:"buy_price"`
	SellPrice    float64   `json:"sell_price"`
	Volume       float64   `json:"volume"`
	ProfitMargin float64   `json:"profit_margin"`
	Status       string    `json:"status"`
}

// Leg - один шаг цикла: конвертация валюты From в To на бирже Exchange
type Leg struct {
	From           string  `json:"from"`
	To             string  `json:"to"`
	Exchange       string  `json:"exchange"`
	Pair           string  `json:"pair"`
	Side           string  `json:"side"` // buy | sell
	Price          float64 `json:"price"`
	EffectivePrice float64 `json:"effective_price"`
}

// OpportunityDetail - полное описание цикла, кэшируется в Redis
// под ключом arbitrage:opportunity:{id} (TTL 300s) для исполнителя
type OpportunityDetail struct {
	ID           int64     `json:"id"`
	Cycle        []string  `json:"cycle"`
	Legs         []Leg     `json:"legs"`
	Exchanges    []string  `json:"exchanges"`
	Pairs        []string  `json:"pairs"`
	MainPair     string    `json:"main_pair"`
	ProfitMargin float64   `json:"profit_margin"`
	Volume       float64   `json:"volume"`
	CreatedAt    time.Time `json:"created_at"`
}
