package detector

import (
	"cryptoarb/internal/graph"
	"cryptoarb/internal/models"
)

// FilterConfig - пороги отбора циклов
type FilterConfig struct {
	MinProfitMargin     float64
	VolatilityThreshold float64
	Pairs               []string // торгуемые пары, по ним проверяется волатильность
}

// Причины отклонения цикла, попадают в метрики и логи
const (
	RejectNone       = ""
	RejectProfit     = "profit_below_threshold"
	RejectVolatility = "volatility_above_threshold"
	RejectLiquidity  = "insufficient_liquidity"
)

// Filter отбирает циклы по прибыли и волатильности затронутых валют
type Filter struct {
	cfg     FilterConfig
	history *PriceHistory
}

// NewFilter создает фильтр циклов
func NewFilter(cfg FilterConfig, history *PriceHistory) *Filter {
	return &Filter{cfg: cfg, history: history}
}

// Check возвращает причину отклонения цикла либо RejectNone.
// Волатильность проверяется по всем торгуемым парам, содержащим
// любую валюту цикла: скачок BTC/USDT дисквалифицирует и циклы,
// которые торгуют BTC через другую пару.
func (f *Filter) Check(c *graph.Cycle) string {
	if c.ProfitMargin < f.cfg.MinProfitMargin {
		return RejectProfit
	}

	for _, cur := range c.Currencies {
		for _, pair := range f.cfg.Pairs {
			base, quote, ok := models.SplitPair(pair)
			if !ok || (base != cur && quote != cur) {
				continue
			}
			if f.history.Volatility(pair) > f.cfg.VolatilityThreshold {
				return RejectVolatility
			}
		}
	}

	return RejectNone
}

// MainPair выбирает пару для показа оператору: предпочитается пара
// с долларовой котировкой, иначе первая пара цикла
func MainPair(c *graph.Cycle) string {
	for _, e := range c.Edges {
		if models.IsUSDQuote(e.Pair) {
			return e.Pair
		}
	}
	if len(c.Edges) > 0 {
		return c.Edges[0].Pair
	}
	return ""
}

// SufficientDepth проверяет, покрывает ли нужная сторона стакана
// объём сделки quoteVolume (в котируемой валюте)
func SufficientDepth(ob *models.OrderBookSnapshot, side string, quoteVolume float64) bool {
	if ob == nil {
		return false
	}
	levels := ob.Asks
	if side == models.SideSell {
		levels = ob.Bids
	}

	covered := 0.0
	for _, lvl := range levels {
		covered += lvl.Price * lvl.Amount
		if covered >= quoteVolume {
			return true
		}
	}
	return false
}
