package graph

import (
	"time"

	"cryptoarb/internal/models"
	"cryptoarb/pkg/utils"
)

// Fees - комиссии биржи в долях
type Fees struct {
	Taker float64
	Maker float64
}

// BuildParams - параметры построения графа
type BuildParams struct {
	Slippage  float64                  // ожидаемое проскальзывание на ногу
	MaxSpread float64                  // максимальный bid-ask спред пары
	Staleness time.Duration            // предельный возраст снимка
	Fees      map[string]Fees          // комиссии по биржам
}

// Build строит валютный граф из снимков тикеров.
// Отбрасываются устаревшие снимки, некорректные котировки и пары
// со спредом шире MaxSpread: широкий спред означает тонкий рынок,
// где эффективные цены недостоверны.
//
// На каждую пригодную пару добавляются два ребра:
//   - покупка: quote -> base по ask*(1+taker+slippage)
//   - продажа: base -> quote по bid*(1-maker-slippage)
func Build(tickers []*models.TickerSnapshot, params BuildParams, now time.Time) *Graph {
	g := New()

	for _, t := range tickers {
		if t == nil || !t.Valid() {
			continue
		}
		if t.StaleAt(now, params.Staleness) {
			continue
		}
		if utils.Spread(t.Bid, t.Ask) > params.MaxSpread {
			continue
		}

		base, quote, ok := models.SplitPair(t.Pair)
		if !ok {
			continue
		}

		fees := params.Fees[t.Exchange]

		baseV := g.Vertex(base)
		quoteV := g.Vertex(quote)

		buyPrice := t.Ask * (1 + fees.Taker + params.Slippage)
		g.AddConversion(Edge{
			From:           quoteV,
			To:             baseV,
			Exchange:       t.Exchange,
			Pair:           t.Pair,
			Side:           models.SideBuy,
			Price:          t.Ask,
			EffectivePrice: buyPrice,
			Gain:           1 / buyPrice,
		})

		sellPrice := t.Bid * (1 - fees.Maker - params.Slippage)
		if sellPrice > 0 {
			g.AddConversion(Edge{
				From:           baseV,
				To:             quoteV,
				Exchange:       t.Exchange,
				Pair:           t.Pair,
				Side:           models.SideSell,
				Price:          t.Bid,
				EffectivePrice: sellPrice,
				Gain:           sellPrice,
			})
		}
	}

	return g
}
