package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"cryptoarb/internal/models"
)

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"
)

// Bybit реализует интерфейс Exchange для спотового рынка Bybit (API v5)
type Bybit struct {
	apiKey    string
	secretKey string
	takerFee  float64
	makerFee  float64

	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewBybit создает адаптер Bybit.
// Использует глобальный HTTP клиент с connection pooling.
func NewBybit(apiKey, secret string, takerFee, makerFee float64) *Bybit {
	return &Bybit{
		apiKey:     apiKey,
		secretKey:  secret,
		takerFee:   takerFee,
		makerFee:   makerFee,
		baseURL:    bybitBaseURL,
		httpClient: GetGlobalHTTPClient().GetClient(),
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
	}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) TakerFee() float64 { return b.takerFee }
func (b *Bybit) MakerFee() float64 { return b.makerFee }

// bybitSymbol конвертирует "BTC/USDT" в формат Bybit "BTCUSDT"
func bybitSymbol(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

// sign создает подпись запроса к Bybit API v5
func (b *Bybit) sign(timestamp, payload string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + payload
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// classifyBybit переводит retCode в класс ошибки
func classifyBybit(code int) string {
	switch code {
	case 10002, 10003, 10004, 10005, 33004:
		return KindAuth
	case 10006, 10018:
		return KindRateLimited
	case 110007, 170131, 170033:
		return KindInsufficient
	case 10001:
		return KindInvalidArgument
	default:
		return KindUnknown
	}
}

// doRequest выполняет HTTP запрос к Bybit API
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		reqURL = b.baseURL + endpoint
		if reqBody != "" {
			reqURL += "?" + reqBody
		}
	} else {
		reqURL = b.baseURL + endpoint
		if len(params) > 0 {
			jsonBytes, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			reqBody = string(jsonBytes)
		}
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = strings.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature := b.sign(timestamp, reqBody)
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", signature)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, transientErr("bybit", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr("bybit", err)
	}

	if resp.StatusCode >= 500 {
		return nil, &Error{Venue: "bybit", Kind: KindTransient, Code: strconv.Itoa(resp.StatusCode), Message: "server error"}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Venue: "bybit", Kind: KindRateLimited, Code: "429", Message: "rate limited"}
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, transientErr("bybit", err)
	}
	if baseResp.RetCode != 0 {
		return nil, &Error{
			Venue:   "bybit",
			Kind:    classifyBybit(baseResp.RetCode),
			Code:    strconv.Itoa(baseResp.RetCode),
			Message: baseResp.RetMsg,
		}
	}

	return body, nil
}

func (b *Bybit) FetchTicker(ctx context.Context, pair string) (*models.TickerSnapshot, error) {
	params := map[string]string{
		"category": "spot",
		"symbol":   bybitSymbol(pair),
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol    string `json:"symbol"`
				Bid1Price string `json:"bid1Price"`
				Ask1Price string `json:"ask1Price"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("bybit", err)
	}
	if len(resp.Result.List) == 0 {
		return nil, &Error{Venue: "bybit", Kind: KindInvalidArgument, Message: fmt.Sprintf("ticker not found for %s", pair)}
	}

	t := resp.Result.List[0]
	bid, _ := strconv.ParseFloat(t.Bid1Price, 64)
	ask, _ := strconv.ParseFloat(t.Ask1Price, 64)

	return &models.TickerSnapshot{
		Exchange:  "bybit",
		Pair:      pair,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.Now(),
	}, nil
}

func (b *Bybit) FetchOrderBook(ctx context.Context, pair string, depth int) (*models.OrderBookSnapshot, error) {
	if depth > 200 {
		depth = 200
	}

	params := map[string]string{
		"category": "spot",
		"symbol":   bybitSymbol(pair),
		"limit":    strconv.Itoa(depth),
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/orderbook", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Bids [][]string `json:"b"`
			Asks [][]string `json:"a"`
			Ts   int64      `json:"ts"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("bybit", err)
	}

	ob := &models.OrderBookSnapshot{
		Exchange:  "bybit",
		Pair:      pair,
		Bids:      make([]models.PriceLevel, len(resp.Result.Bids)),
		Asks:      make([]models.PriceLevel, len(resp.Result.Asks)),
		Timestamp: time.UnixMilli(resp.Result.Ts),
	}
	for i, lvl := range resp.Result.Bids {
		price, _ := strconv.ParseFloat(lvl[0], 64)
		amount, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Bids[i] = models.PriceLevel{Price: price, Amount: amount}
	}
	for i, lvl := range resp.Result.Asks {
		price, _ := strconv.ParseFloat(lvl[0], 64)
		amount, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Asks[i] = models.PriceLevel{Price: price, Amount: amount}
	}

	// bids по убыванию, asks по возрастанию
	sort.Slice(ob.Bids, func(i, j int) bool { return ob.Bids[i].Price > ob.Bids[j].Price })
	sort.Slice(ob.Asks, func(i, j int) bool { return ob.Asks[i].Price < ob.Asks[j].Price })

	return ob, nil
}

func (b *Bybit) FetchBalances(ctx context.Context) (map[string]models.Balance, error) {
	params := map[string]string{"accountType": "UNIFIED"}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin          string `json:"coin"`
					WalletBalance string `json:"walletBalance"`
					Locked        string `json:"locked"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("bybit", err)
	}

	balances := make(map[string]models.Balance)
	if len(resp.Result.List) > 0 {
		for _, c := range resp.Result.List[0].Coin {
			total, _ := strconv.ParseFloat(c.WalletBalance, 64)
			used, _ := strconv.ParseFloat(c.Locked, 64)
			balances[c.Coin] = models.Balance{
				Free:  total - used,
				Used:  used,
				Total: total,
			}
		}
	}
	return balances, nil
}

func (b *Bybit) PlaceOrder(ctx context.Context, pair, side, orderType string, amount, price float64) (*Order, error) {
	bybitSide := "Buy"
	if side == models.SideSell {
		bybitSide = "Sell"
	}

	params := map[string]string{
		"category": "spot",
		"symbol":   bybitSymbol(pair),
		"side":     bybitSide,
		"qty":      strconv.FormatFloat(amount, 'f', -1, 64),
	}
	if orderType == OrderTypeLimit {
		params["orderType"] = "Limit"
		params["price"] = strconv.FormatFloat(price, 'f', -1, 64)
		params["timeInForce"] = "GTC"
	} else {
		params["orderType"] = "Market"
		params["marketUnit"] = "baseCoin" // qty в базовой валюте для обеих сторон
		params["timeInForce"] = "IOC"
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderId string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("bybit", err)
	}

	order := &Order{
		ID:        resp.Result.OrderId,
		Pair:      pair,
		Side:      side,
		Type:      orderType,
		Price:     price,
		Amount:    amount,
		Status:    OrderStatusOpen,
		CreatedAt: time.Now(),
	}

	// Уточняем исполнение сразу: рыночный IOC обычно заполняется мгновенно
	if refreshed, err := b.FetchOrder(ctx, pair, order.ID); err == nil {
		return refreshed, nil
	}
	return order, nil
}

// bybitOrderStatus переводит статус Bybit в унифицированный
func bybitOrderStatus(s string) string {
	switch s {
	case "Filled":
		return OrderStatusFilled
	case "PartiallyFilled", "PartiallyFilledCanceled":
		return OrderStatusPartial
	case "Cancelled", "Deactivated":
		return OrderStatusCanceled
	case "Rejected":
		return OrderStatusRejected
	default:
		return OrderStatusOpen
	}
}

func (b *Bybit) FetchOrder(ctx context.Context, pair, orderID string) (*Order, error) {
	params := map[string]string{
		"category": "spot",
		"symbol":   bybitSymbol(pair),
		"orderId":  orderID,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderId     string `json:"orderId"`
				Side        string `json:"side"`
				OrderType   string `json:"orderType"`
				Price       string `json:"price"`
				Qty         string `json:"qty"`
				CumExecQty  string `json:"cumExecQty"`
				AvgPrice    string `json:"avgPrice"`
				CumExecFee  string `json:"cumExecFee"`
				OrderStatus string `json:"orderStatus"`
				CreatedTime string `json:"createdTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("bybit", err)
	}
	if len(resp.Result.List) == 0 {
		return nil, &Error{Venue: "bybit", Kind: KindInvalidArgument, Message: "order not found: " + orderID}
	}

	o := resp.Result.List[0]
	limitPrice, _ := strconv.ParseFloat(o.Price, 64)
	amount, _ := strconv.ParseFloat(o.Qty, 64)
	filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
	avgPrice, _ := strconv.ParseFloat(o.AvgPrice, 64)
	fee, _ := strconv.ParseFloat(o.CumExecFee, 64)
	createdMs, _ := strconv.ParseInt(o.CreatedTime, 10, 64)

	side := models.SideBuy
	if o.Side == "Sell" {
		side = models.SideSell
	}
	orderType := OrderTypeMarket
	if o.OrderType == "Limit" {
		orderType = OrderTypeLimit
	}

	return &Order{
		ID:           o.OrderId,
		Pair:         pair,
		Side:         side,
		Type:         orderType,
		Price:        limitPrice,
		Amount:       amount,
		Filled:       filled,
		AvgFillPrice: avgPrice,
		Fee:          fee,
		Status:       bybitOrderStatus(o.OrderStatus),
		CreatedAt:    time.UnixMilli(createdMs),
	}, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, pair, orderID string) error {
	params := map[string]string{
		"category": "spot",
		"symbol":   bybitSymbol(pair),
		"orderId":  orderID,
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params, true)
	if err != nil {
		// Ордер успел исполниться - отменять нечего
		var ee *Error
		if errors.As(err, &ee) && (ee.Code == "110001" || ee.Code == "170213") {
			return nil
		}
		return err
	}
	return nil
}

func (b *Bybit) Withdraw(ctx context.Context, req *WithdrawRequest) (*Withdrawal, error) {
	params := map[string]string{
		"coin":      req.Currency,
		"chain":     req.Network,
		"address":   req.Address,
		"amount":    strconv.FormatFloat(req.Amount, 'f', -1, 64),
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if req.Tag != "" {
		params["tag"] = req.Tag
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/asset/withdraw/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("bybit", err)
	}

	return &Withdrawal{
		ID:        resp.Result.ID,
		Currency:  req.Currency,
		Amount:    req.Amount,
		Network:   req.Network,
		Address:   req.Address,
		Status:    WithdrawalPending,
		CreatedAt: time.Now(),
	}, nil
}

func (b *Bybit) WithdrawalFee(ctx context.Context, currency, network string) (float64, error) {
	params := map[string]string{"coin": currency}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/asset/coin/query-info", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			Rows []struct {
				Coin   string `json:"coin"`
				Chains []struct {
					Chain       string `json:"chain"`
					WithdrawFee string `json:"withdrawFee"`
				} `json:"chains"`
			} `json:"rows"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, transientErr("bybit", err)
	}

	for _, row := range resp.Result.Rows {
		if row.Coin != currency {
			continue
		}
		for _, ch := range row.Chains {
			if ch.Chain != network {
				continue
			}
			fee, err := strconv.ParseFloat(ch.WithdrawFee, 64)
			if err != nil {
				return 0, transientErr("bybit", err)
			}
			return fee, nil
		}
	}
	return 0, &Error{Venue: "bybit", Kind: KindNotSupported, Message: fmt.Sprintf("no fee schedule for %s on %s", currency, network)}
}

func (b *Bybit) DepositAddress(ctx context.Context, currency, network string) (*DepositAddress, error) {
	params := map[string]string{
		"coin":      currency,
		"chainType": network,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/asset/deposit/query-address", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Chains []struct {
				Chain          string `json:"chain"`
				AddressDeposit string `json:"addressDeposit"`
				TagDeposit     string `json:"tagDeposit"`
			} `json:"chains"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("bybit", err)
	}
	if len(resp.Result.Chains) == 0 {
		return nil, &Error{Venue: "bybit", Kind: KindNotSupported, Message: fmt.Sprintf("no deposit address for %s on %s", currency, network)}
	}

	ch := resp.Result.Chains[0]
	return &DepositAddress{
		Currency: currency,
		Network:  ch.Chain,
		Address:  ch.AddressDeposit,
		Tag:      ch.TagDeposit,
	}, nil
}

// bybitWithdrawStatus переводит статус вывода Bybit в унифицированный
func bybitWithdrawStatus(s string) string {
	switch s {
	case "success":
		return WithdrawalCompleted
	case "CancelByUser", "Reject", "Fail", "MoreInformationRequired":
		return WithdrawalFailed
	default:
		return WithdrawalPending
	}
}

func (b *Bybit) FetchWithdrawals(ctx context.Context, currency string, since time.Time) ([]*Withdrawal, error) {
	params := map[string]string{
		"coin":      currency,
		"startTime": strconv.FormatInt(since.UnixMilli(), 10),
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/asset/withdraw/query-record", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Rows []struct {
				WithdrawId  string `json:"withdrawId"`
				Coin        string `json:"coin"`
				Chain       string `json:"chain"`
				Amount      string `json:"amount"`
				WithdrawFee string `json:"withdrawFee"`
				TxID        string `json:"txID"`
				Status      string `json:"status"`
				ToAddress   string `json:"toAddress"`
				CreateTime  string `json:"createTime"`
			} `json:"rows"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("bybit", err)
	}

	out := make([]*Withdrawal, 0, len(resp.Result.Rows))
	for _, row := range resp.Result.Rows {
		amount, _ := strconv.ParseFloat(row.Amount, 64)
		fee, _ := strconv.ParseFloat(row.WithdrawFee, 64)
		createdMs, _ := strconv.ParseInt(row.CreateTime, 10, 64)

		out = append(out, &Withdrawal{
			ID:        row.WithdrawId,
			Currency:  row.Coin,
			Amount:    amount,
			Fee:       fee,
			Network:   row.Chain,
			Address:   row.ToAddress,
			TxID:      row.TxID,
			Status:    bybitWithdrawStatus(row.Status),
			CreatedAt: time.UnixMilli(createdMs),
		})
	}
	return out, nil
}

func (b *Bybit) Close() error {
	return nil
}
