package graph

import (
	"math"
	"testing"
	"time"

	"cryptoarb/internal/models"
)

func snapshot(exchange, pair string, bid, ask float64, age time.Duration) *models.TickerSnapshot {
	return &models.TickerSnapshot{
		Exchange:  exchange,
		Pair:      pair,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.Now().Add(-age),
	}
}

func defaultParams() BuildParams {
	return BuildParams{
		Slippage:  0.0005,
		MaxSpread: 0.004,
		Staleness: 30 * time.Second,
		Fees: map[string]Fees{
			"okx":   {Taker: 0.001, Maker: 0.001},
			"bybit": {Taker: 0.001, Maker: 0.001},
		},
	}
}

func TestBuildEdges(t *testing.T) {
	tickers := []*models.TickerSnapshot{
		snapshot("okx", "BTC/USDT", 29990, 30000, 0),
		snapshot("bybit", "BTC/USDT", 30200, 30210, 0),
	}

	g := Build(tickers, defaultParams(), time.Now())

	if g.VertexCount() != 2 {
		t.Errorf("expected 2 vertices, got %d", g.VertexCount())
	}
	// Каждая пара дает ребро покупки и ребро продажи
	if g.EdgeCount() != 4 {
		t.Errorf("expected 4 edges, got %d", g.EdgeCount())
	}

	for _, e := range g.Edges() {
		if e.Gain <= 0 {
			t.Errorf("edge gain must be positive, got %v", e.Gain)
		}
		if math.Abs(e.Weight - -math.Log(e.Gain)) > 1e-12 {
			t.Errorf("weight must equal -ln(gain)")
		}
	}
}

func TestBuildGates(t *testing.T) {
	params := defaultParams()
	now := time.Now()

	tests := []struct {
		name   string
		ticker *models.TickerSnapshot
		edges  int
	}{
		{"fresh valid quote", snapshot("okx", "BTC/USDT", 29990, 30000, 0), 2},
		{"stale quote excluded", snapshot("okx", "BTC/USDT", 29990, 30000, time.Minute), 0},
		{"crossed book excluded", snapshot("okx", "BTC/USDT", 30010, 30000, 0), 0},
		{"wide spread excluded", snapshot("okx", "BTC/USDT", 29000, 30000, 0), 0},
		{"bad pair excluded", snapshot("okx", "BTCUSDT", 29990, 30000, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Build([]*models.TickerSnapshot{tt.ticker}, params, now)
			if g.EdgeCount() != tt.edges {
				t.Errorf("expected %d edges, got %d", tt.edges, g.EdgeCount())
			}
		})
	}
}

func TestEffectivePrices(t *testing.T) {
	tickers := []*models.TickerSnapshot{
		snapshot("okx", "BTC/USDT", 29990, 30000, 0),
	}

	g := Build(tickers, defaultParams(), time.Now())

	var buy, sell *Edge
	for i := range g.Edges() {
		e := &g.Edges()[i]
		switch e.Side {
		case models.SideBuy:
			buy = e
		case models.SideSell:
			sell = e
		}
	}
	if buy == nil || sell == nil {
		t.Fatal("expected both buy and sell edges")
	}

	// Покупка дороже ask на комиссию и проскальзывание
	wantBuy := 30000 * (1 + 0.001 + 0.0005)
	if math.Abs(buy.EffectivePrice-wantBuy) > 1e-9 {
		t.Errorf("buy effective price = %v, want %v", buy.EffectivePrice, wantBuy)
	}
	if math.Abs(buy.Gain-1/wantBuy) > 1e-15 {
		t.Errorf("buy gain = %v, want %v", buy.Gain, 1/wantBuy)
	}

	// Продажа дешевле bid на комиссию и проскальзывание
	wantSell := 29990 * (1 - 0.001 - 0.0005)
	if math.Abs(sell.EffectivePrice-wantSell) > 1e-9 {
		t.Errorf("sell effective price = %v, want %v", sell.EffectivePrice, wantSell)
	}
}

func TestFindCyclesCrossExchange(t *testing.T) {
	// Разница цен между биржами перекрывает комиссии:
	// покупка на okx по ~30055, продажа на bybit по ~30155
	tickers := []*models.TickerSnapshot{
		snapshot("okx", "BTC/USDT", 30000, 30010, 0),
		snapshot("bybit", "BTC/USDT", 30200, 30210, 0),
	}

	g := Build(tickers, defaultParams(), time.Now())
	cycles := FindCycles(g)

	if len(cycles) == 0 {
		t.Fatal("expected at least one cycle")
	}

	c := cycles[0]
	if len(c.Currencies) != 2 || len(c.Edges) != 2 {
		t.Fatalf("expected 2-leg cycle, got %d legs", len(c.Edges))
	}

	wantGain := (30200 * (1 - 0.0015)) / (30010 * (1 + 0.0015))
	if math.Abs(c.Gain-wantGain) > 1e-9 {
		t.Errorf("cycle gain = %v, want %v", c.Gain, wantGain)
	}
	if c.ProfitMargin <= 0.003 {
		t.Errorf("expected margin above 0.3%%, got %v", c.ProfitMargin)
	}

	// Нога покупки на okx, нога продажи на bybit
	var buyEx, sellEx string
	for _, e := range c.Edges {
		switch e.Side {
		case models.SideBuy:
			buyEx = e.Exchange
		case models.SideSell:
			sellEx = e.Exchange
		}
	}
	if buyEx != "okx" || sellEx != "bybit" {
		t.Errorf("expected buy on okx and sell on bybit, got buy=%s sell=%s", buyEx, sellEx)
	}
}

func TestFindCyclesNoArbitrage(t *testing.T) {
	// Одинаковые цены: комиссии съедают любую разницу
	tickers := []*models.TickerSnapshot{
		snapshot("okx", "BTC/USDT", 29990, 30000, 0),
		snapshot("bybit", "BTC/USDT", 29990, 30000, 0),
	}

	g := Build(tickers, defaultParams(), time.Now())
	cycles := FindCycles(g)

	if len(cycles) != 0 {
		t.Errorf("expected no cycles, got %d", len(cycles))
	}
}

func TestFindCyclesTriangular(t *testing.T) {
	// Треугольник на одной бирже: USDT -> BTC -> ETH -> USDT
	// (1/30000) * (1/0.05) * 1550 = 1.0333
	params := BuildParams{
		Slippage:  0,
		MaxSpread: 0.05,
		Staleness: time.Minute,
		Fees:      map[string]Fees{},
	}
	tickers := []*models.TickerSnapshot{
		snapshot("okx", "BTC/USDT", 29990, 30000, 0),
		snapshot("okx", "ETH/BTC", 0.0499, 0.05, 0),
		snapshot("okx", "ETH/USDT", 1550, 1551, 0),
	}

	g := Build(tickers, params, time.Now())
	cycles := FindCycles(g)

	if len(cycles) == 0 {
		t.Fatal("expected triangular cycle")
	}

	c := cycles[0]
	if len(c.Edges) != 3 {
		t.Fatalf("expected 3-leg cycle, got %d legs", len(c.Edges))
	}

	wantGain := (1.0 / 30000) * (1.0 / 0.05) * 1550
	if math.Abs(c.Gain-wantGain) > 1e-9 {
		t.Errorf("cycle gain = %v, want %v", c.Gain, wantGain)
	}
}

func TestFindCyclesDeduplicates(t *testing.T) {
	// Запуск от каждой вершины находит один и тот же цикл;
	// поворот к минимальной вершине должен схлопнуть дубликаты
	tickers := []*models.TickerSnapshot{
		snapshot("okx", "BTC/USDT", 30000, 30010, 0),
		snapshot("bybit", "BTC/USDT", 30200, 30210, 0),
	}

	g := Build(tickers, defaultParams(), time.Now())
	cycles := FindCycles(g)

	if len(cycles) != 1 {
		t.Errorf("expected exactly 1 deduplicated cycle, got %d", len(cycles))
	}
}

func TestFindCyclesEmptyGraph(t *testing.T) {
	if cycles := FindCycles(New()); cycles != nil {
		t.Errorf("expected nil for empty graph, got %v", cycles)
	}
}

func TestBestEdge(t *testing.T) {
	// Две биржи продают одну пару: BestEdge выбирает больший gain
	tickers := []*models.TickerSnapshot{
		snapshot("okx", "BTC/USDT", 29990, 30000, 0),
		snapshot("bybit", "BTC/USDT", 30100, 30110, 0),
	}

	g := Build(tickers, defaultParams(), time.Now())

	btc, _ := g.Lookup("BTC")
	usdt, _ := g.Lookup("USDT")

	// Продажа BTC выгоднее на bybit (выше bid)
	e, ok := g.BestEdge(btc, usdt)
	if !ok {
		t.Fatal("expected edge BTC->USDT")
	}
	if e.Exchange != "bybit" {
		t.Errorf("best sell should be bybit, got %s", e.Exchange)
	}

	// Покупка BTC выгоднее на okx (ниже ask)
	e, ok = g.BestEdge(usdt, btc)
	if !ok {
		t.Fatal("expected edge USDT->BTC")
	}
	if e.Exchange != "okx" {
		t.Errorf("best buy should be okx, got %s", e.Exchange)
	}
}
