package models

import (
	"strings"
	"time"
)

// Состояния подключения биржи
const (
	VenueConnected = "connected"
	VenueDegraded  = "degraded"
	VenueError     = "error"
	VenueUnknown   = "unknown"
)

// TickerSnapshot - лучшие цены (venue, pair) на момент Timestamp
type TickerSnapshot struct {
	Exchange  string    `json:"exchange"`
	Pair      string    `json:"pair"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid проверяет инварианты котировки: ask >= bid > 0
func (t *TickerSnapshot) Valid() bool {
	return t.Bid > 0 && t.Ask >= t.Bid
}

// StaleAt сообщает, устарел ли снимок к моменту now при границе bound
func (t *TickerSnapshot) StaleAt(now time.Time, bound time.Duration) bool {
	return now.Sub(t.Timestamp) > bound
}

// PriceLevel - один уровень стакана
type PriceLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBookSnapshot - стакан (venue, pair) с ограниченной глубиной
type OrderBookSnapshot struct {
	Exchange  string       `json:"exchange"`
	Pair      string       `json:"pair"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// VenueStatus - запись о живости биржевого подключения
type VenueStatus struct {
	Exchange          string    `json:"exchange"`
	Status            string    `json:"status"`
	LastUpdate        time.Time `json:"last_update"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
}

// Balance - баланс валюты на бирже
type Balance struct {
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

// SplitPair разбирает пару "BASE/QUOTE" на составляющие.
// Вторым значением false для строк без разделителя.
func SplitPair(pair string) (base, quote string, ok bool) {
	i := strings.IndexByte(pair, '/')
	if i <= 0 || i == len(pair)-1 {
		return "", "", false
	}
	return pair[:i], pair[i+1:], true
}

// IsUSDQuote сообщает, является ли quote-валюта пары долларовой.
// Такие пары предпочитаются как main pair в сообщениях оператору.
func IsUSDQuote(pair string) bool {
	_, quote, ok := SplitPair(pair)
	if !ok {
		return false
	}
	return strings.Contains(quote, "USD")
}
