package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cryptoarb/internal/models"
)

// Paper - биржа в памяти для dry-run и тестов.
// Рыночные и пересекающие рынок лимитные ордера исполняются мгновенно
// по текущему bid/ask; непересекающие лимитные остаются открытыми до
// отмены. Выводы завершаются вызовом SettleWithdrawal.
type Paper struct {
	name     string
	takerFee float64
	makerFee float64

	mu           sync.Mutex
	tickers      map[string]*models.TickerSnapshot
	books        map[string]*models.OrderBookSnapshot
	balances     map[string]models.Balance
	orders       map[string]*Order
	withdrawals  map[string]*Withdrawal
	addresses    map[string]*DepositAddress
	withdrawFees map[string]float64
	nextID       int64

	// Инъекция ошибок для тестов отказов
	failNext error
}

// NewPaper создает бумажную биржу с заданными балансами
func NewPaper(name string, takerFee, makerFee float64, balances map[string]models.Balance) *Paper {
	if balances == nil {
		balances = make(map[string]models.Balance)
	}
	return &Paper{
		name:         name,
		takerFee:     takerFee,
		makerFee:     makerFee,
		tickers:      make(map[string]*models.TickerSnapshot),
		books:        make(map[string]*models.OrderBookSnapshot),
		balances:     balances,
		orders:       make(map[string]*Order),
		withdrawals:  make(map[string]*Withdrawal),
		addresses:    make(map[string]*DepositAddress),
		withdrawFees: make(map[string]float64),
		nextID:       1,
	}
}

func (p *Paper) Name() string { return p.name }

func (p *Paper) TakerFee() float64 { return p.takerFee }
func (p *Paper) MakerFee() float64 { return p.makerFee }

// SetTicker задает текущие цены пары
func (p *Paper) SetTicker(pair string, bid, ask float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickers[pair] = &models.TickerSnapshot{
		Exchange:  p.name,
		Pair:      pair,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.Now(),
	}
}

// SetOrderBook задает стакан пары
func (p *Paper) SetOrderBook(ob *models.OrderBookSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.books[ob.Pair] = ob
}

// SetBalance задает баланс валюты
func (p *Paper) SetBalance(currency string, free float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[currency] = models.Balance{Free: free, Total: free}
}

// SetDepositAddress задает адрес депозита
func (p *Paper) SetDepositAddress(currency, network, address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addresses[currency+":"+network] = &DepositAddress{
		Currency: currency,
		Network:  network,
		Address:  address,
	}
}

// SetWithdrawalFee задает комиссию вывода валюты в сети
func (p *Paper) SetWithdrawalFee(currency, network string, fee float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawFees[currency+":"+network] = fee
}

// FailNext заставляет следующую операцию вернуть err
func (p *Paper) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

func (p *Paper) takeFailure() error {
	err := p.failNext
	p.failNext = nil
	return err
}

func (p *Paper) FetchTicker(ctx context.Context, pair string) (*models.TickerSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	t, ok := p.tickers[pair]
	if !ok {
		return nil, &Error{Venue: p.name, Kind: KindInvalidArgument, Message: fmt.Sprintf("ticker not found for %s", pair)}
	}
	snapshot := *t
	snapshot.Timestamp = time.Now()
	return &snapshot, nil
}

func (p *Paper) FetchOrderBook(ctx context.Context, pair string, depth int) (*models.OrderBookSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	ob, ok := p.books[pair]
	if !ok {
		return nil, &Error{Venue: p.name, Kind: KindInvalidArgument, Message: fmt.Sprintf("orderbook not found for %s", pair)}
	}
	return ob, nil
}

func (p *Paper) FetchBalances(ctx context.Context) (map[string]models.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	out := make(map[string]models.Balance, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, pair, side, orderType string, amount, price float64) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	t, ok := p.tickers[pair]
	if !ok {
		return nil, &Error{Venue: p.name, Kind: KindInvalidArgument, Message: fmt.Sprintf("ticker not found for %s", pair)}
	}
	base, quote, ok := models.SplitPair(pair)
	if !ok {
		return nil, &Error{Venue: p.name, Kind: KindInvalidArgument, Message: "bad pair: " + pair}
	}

	fillPrice := t.Ask
	if side == models.SideSell {
		fillPrice = t.Bid
	}

	if orderType == OrderTypeLimit {
		crosses := (side == models.SideBuy && price >= t.Ask) ||
			(side == models.SideSell && price <= t.Bid)
		if !crosses {
			// Лимитный ордер вне рынка висит открытым до отмены
			id := strconv.FormatInt(p.nextID, 10)
			p.nextID++
			order := &Order{
				ID:        id,
				Pair:      pair,
				Side:      side,
				Type:      OrderTypeLimit,
				Price:     price,
				Amount:    amount,
				Status:    OrderStatusOpen,
				CreatedAt: time.Now(),
			}
			p.orders[id] = order
			return order, nil
		}
	}
	cost := amount * fillPrice

	baseBal := p.balances[base]
	quoteBal := p.balances[quote]
	if side == models.SideBuy {
		if quoteBal.Free < cost {
			return nil, &Error{Venue: p.name, Kind: KindInsufficient, Message: fmt.Sprintf("insufficient %s: need %.8f have %.8f", quote, cost, quoteBal.Free)}
		}
		quoteBal.Free -= cost
		baseBal.Free += amount * (1 - p.takerFee)
	} else {
		if baseBal.Free < amount {
			return nil, &Error{Venue: p.name, Kind: KindInsufficient, Message: fmt.Sprintf("insufficient %s: need %.8f have %.8f", base, amount, baseBal.Free)}
		}
		baseBal.Free -= amount
		quoteBal.Free += cost * (1 - p.takerFee)
	}
	baseBal.Total = baseBal.Free + baseBal.Used
	quoteBal.Total = quoteBal.Free + quoteBal.Used
	p.balances[base] = baseBal
	p.balances[quote] = quoteBal

	id := strconv.FormatInt(p.nextID, 10)
	p.nextID++

	order := &Order{
		ID:           id,
		Pair:         pair,
		Side:         side,
		Type:         orderType,
		Price:        price,
		Amount:       amount,
		Filled:       amount,
		AvgFillPrice: fillPrice,
		Fee:          cost * p.takerFee,
		FeeCurrency:  quote,
		Status:       OrderStatusFilled,
		CreatedAt:    time.Now(),
	}
	p.orders[id] = order
	return order, nil
}

func (p *Paper) FetchOrder(ctx context.Context, pair, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	order, ok := p.orders[orderID]
	if !ok {
		return nil, &Error{Venue: p.name, Kind: KindInvalidArgument, Message: "order not found: " + orderID}
	}
	return order, nil
}

func (p *Paper) CancelOrder(ctx context.Context, pair, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return err
	}
	order, ok := p.orders[orderID]
	if !ok {
		return &Error{Venue: p.name, Kind: KindInvalidArgument, Message: "order not found: " + orderID}
	}
	if !order.Terminal() {
		order.Status = OrderStatusCanceled
	}
	return nil
}

func (p *Paper) Withdraw(ctx context.Context, req *WithdrawRequest) (*Withdrawal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	bal := p.balances[req.Currency]
	total := req.Amount + req.Fee
	if bal.Free < total {
		return nil, &Error{Venue: p.name, Kind: KindInsufficient, Message: fmt.Sprintf("insufficient %s: need %.8f have %.8f", req.Currency, total, bal.Free)}
	}
	bal.Free -= total
	bal.Total = bal.Free + bal.Used
	p.balances[req.Currency] = bal

	id := strconv.FormatInt(p.nextID, 10)
	p.nextID++

	w := &Withdrawal{
		ID:        id,
		Currency:  req.Currency,
		Amount:    req.Amount,
		Fee:       req.Fee,
		Network:   req.Network,
		Address:   req.Address,
		Status:    WithdrawalPending,
		CreatedAt: time.Now(),
	}
	p.withdrawals[id] = w
	return w, nil
}

// SettleWithdrawal переводит вывод в заданный терминальный статус
func (p *Paper) SettleWithdrawal(id, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.withdrawals[id]; ok {
		w.Status = status
		if status == WithdrawalCompleted {
			w.TxID = "paper-tx-" + id
		}
	}
}

func (p *Paper) DepositAddress(ctx context.Context, currency, network string) (*DepositAddress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	addr, ok := p.addresses[currency+":"+network]
	if !ok {
		return nil, &Error{Venue: p.name, Kind: KindNotSupported, Message: fmt.Sprintf("no deposit address for %s on %s", currency, network)}
	}
	return addr, nil
}

func (p *Paper) WithdrawalFee(ctx context.Context, currency, network string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return 0, err
	}
	fee, ok := p.withdrawFees[currency+":"+network]
	if !ok {
		return 0, &Error{Venue: p.name, Kind: KindNotSupported, Message: fmt.Sprintf("no fee schedule for %s on %s", currency, network)}
	}
	return fee, nil
}

func (p *Paper) FetchWithdrawals(ctx context.Context, currency string, since time.Time) ([]*Withdrawal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	var out []*Withdrawal
	for _, w := range p.withdrawals {
		if w.Currency != currency || w.CreatedAt.Before(since) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (p *Paper) Close() error {
	return nil
}
