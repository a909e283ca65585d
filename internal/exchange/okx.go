package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"cryptoarb/internal/models"
)

const okxBaseURL = "https://www.okx.com"

// OKX реализует интерфейс Exchange для спотового рынка OKX (API v5)
type OKX struct {
	apiKey     string
	secretKey  string
	passphrase string
	takerFee   float64
	makerFee   float64

	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOKX создает адаптер OKX
func NewOKX(apiKey, secret, passphrase string, takerFee, makerFee float64) *OKX {
	return &OKX{
		apiKey:     apiKey,
		secretKey:  secret,
		passphrase: passphrase,
		takerFee:   takerFee,
		makerFee:   makerFee,
		baseURL:    okxBaseURL,
		httpClient: GetGlobalHTTPClient().GetClient(),
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
	}
}

func (o *OKX) Name() string { return "okx" }

func (o *OKX) TakerFee() float64 { return o.takerFee }
func (o *OKX) MakerFee() float64 { return o.makerFee }

// okxInstID конвертирует "BTC/USDT" в формат OKX "BTC-USDT"
func okxInstID(pair string) string {
	return strings.ReplaceAll(pair, "/", "-")
}

// okxChain собирает имя сети в формате OKX "USDT-TRC20"
func okxChain(currency, network string) string {
	return currency + "-" + network
}

// sign создает подпись запроса: base64(HMAC-SHA256(ts + method + path + body))
func (o *OKX) sign(timestamp, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(o.secretKey))
	h.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// classifyOKX переводит код ошибки OKX в класс
func classifyOKX(code string) string {
	switch code {
	case "50100", "50101", "50111", "50112", "50113", "50114":
		return KindAuth
	case "50011", "50013":
		return KindRateLimited
	case "51008", "51119", "58350":
		return KindInsufficient
	case "51000", "51001":
		return KindInvalidArgument
	default:
		return KindUnknown
	}
}

// doRequest выполняет HTTP запрос к OKX API
func (o *OKX) doRequest(ctx context.Context, method, endpoint string, query map[string]string, payload interface{}, signed bool) ([]byte, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	requestPath := endpoint
	if len(query) > 0 {
		q := url.Values{}
		for k, v := range query {
			q.Set(k, v)
		}
		requestPath += "?" + q.Encode()
	}

	var reqBody string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = string(data)
	}

	var bodyReader io.Reader
	if reqBody != "" {
		bodyReader = strings.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+requestPath, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", o.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", o.sign(timestamp, method, requestPath, reqBody))
		req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("OK-ACCESS-PASSPHRASE", o.passphrase)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, transientErr("okx", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr("okx", err)
	}

	if resp.StatusCode >= 500 {
		return nil, &Error{Venue: "okx", Kind: KindTransient, Code: strconv.Itoa(resp.StatusCode), Message: "server error"}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Venue: "okx", Kind: KindRateLimited, Code: "429", Message: "rate limited"}
	}

	var baseResp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, transientErr("okx", err)
	}
	if baseResp.Code != "0" {
		return nil, &Error{
			Venue:   "okx",
			Kind:    classifyOKX(baseResp.Code),
			Code:    baseResp.Code,
			Message: baseResp.Msg,
		}
	}

	return body, nil
}

func (o *OKX) FetchTicker(ctx context.Context, pair string) (*models.TickerSnapshot, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/ticker",
		map[string]string{"instId": okxInstID(pair)}, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			BidPx string `json:"bidPx"`
			AskPx string `json:"askPx"`
			Ts    string `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("okx", err)
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Venue: "okx", Kind: KindInvalidArgument, Message: fmt.Sprintf("ticker not found for %s", pair)}
	}

	t := resp.Data[0]
	bid, _ := strconv.ParseFloat(t.BidPx, 64)
	ask, _ := strconv.ParseFloat(t.AskPx, 64)
	ms, _ := strconv.ParseInt(t.Ts, 10, 64)

	return &models.TickerSnapshot{
		Exchange:  "okx",
		Pair:      pair,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.UnixMilli(ms),
	}, nil
}

func (o *OKX) FetchOrderBook(ctx context.Context, pair string, depth int) (*models.OrderBookSnapshot, error) {
	if depth > 400 {
		depth = 400
	}

	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/books",
		map[string]string{"instId": okxInstID(pair), "sz": strconv.Itoa(depth)}, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			Ts   string     `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("okx", err)
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Venue: "okx", Kind: KindInvalidArgument, Message: fmt.Sprintf("orderbook not found for %s", pair)}
	}

	d := resp.Data[0]
	ms, _ := strconv.ParseInt(d.Ts, 10, 64)

	ob := &models.OrderBookSnapshot{
		Exchange:  "okx",
		Pair:      pair,
		Bids:      make([]models.PriceLevel, len(d.Bids)),
		Asks:      make([]models.PriceLevel, len(d.Asks)),
		Timestamp: time.UnixMilli(ms),
	}
	for i, lvl := range d.Bids {
		price, _ := strconv.ParseFloat(lvl[0], 64)
		amount, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Bids[i] = models.PriceLevel{Price: price, Amount: amount}
	}
	for i, lvl := range d.Asks {
		price, _ := strconv.ParseFloat(lvl[0], 64)
		amount, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Asks[i] = models.PriceLevel{Price: price, Amount: amount}
	}
	return ob, nil
}

func (o *OKX) FetchBalances(ctx context.Context) (map[string]models.Balance, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Details []struct {
				Ccy       string `json:"ccy"`
				AvailBal  string `json:"availBal"`
				FrozenBal string `json:"frozenBal"`
				CashBal   string `json:"cashBal"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("okx", err)
	}

	balances := make(map[string]models.Balance)
	if len(resp.Data) > 0 {
		for _, d := range resp.Data[0].Details {
			free, _ := strconv.ParseFloat(d.AvailBal, 64)
			used, _ := strconv.ParseFloat(d.FrozenBal, 64)
			total, _ := strconv.ParseFloat(d.CashBal, 64)
			balances[d.Ccy] = models.Balance{Free: free, Used: used, Total: total}
		}
	}
	return balances, nil
}

func (o *OKX) PlaceOrder(ctx context.Context, pair, side, orderType string, amount, price float64) (*Order, error) {
	payload := map[string]string{
		"instId":  okxInstID(pair),
		"tdMode":  "cash",
		"side":    side,
		"ordType": orderType,
		"sz":      strconv.FormatFloat(amount, 'f', -1, 64),
	}
	if orderType == OrderTypeLimit {
		payload["px"] = strconv.FormatFloat(price, 'f', -1, 64)
	} else {
		payload["tgtCcy"] = "base_ccy" // sz в базовой валюте для обеих сторон
	}

	body, err := o.doRequest(ctx, http.MethodPost, "/api/v5/trade/order", nil, payload, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			OrdId string `json:"ordId"`
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("okx", err)
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Venue: "okx", Kind: KindUnknown, Message: "empty order response"}
	}
	if resp.Data[0].SCode != "0" {
		return nil, &Error{
			Venue:   "okx",
			Kind:    classifyOKX(resp.Data[0].SCode),
			Code:    resp.Data[0].SCode,
			Message: resp.Data[0].SMsg,
		}
	}

	order := &Order{
		ID:        resp.Data[0].OrdId,
		Pair:      pair,
		Side:      side,
		Type:      orderType,
		Price:     price,
		Amount:    amount,
		Status:    OrderStatusOpen,
		CreatedAt: time.Now(),
	}

	if refreshed, err := o.FetchOrder(ctx, pair, order.ID); err == nil {
		return refreshed, nil
	}
	return order, nil
}

// okxOrderStatus переводит state OKX в унифицированный статус
func okxOrderStatus(s string) string {
	switch s {
	case "filled":
		return OrderStatusFilled
	case "partially_filled":
		return OrderStatusPartial
	case "canceled", "mmp_canceled":
		return OrderStatusCanceled
	default:
		return OrderStatusOpen
	}
}

func (o *OKX) FetchOrder(ctx context.Context, pair, orderID string) (*Order, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/trade/order",
		map[string]string{"instId": okxInstID(pair), "ordId": orderID}, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			OrdId     string `json:"ordId"`
			Side      string `json:"side"`
			OrdType   string `json:"ordType"`
			Px        string `json:"px"`
			Sz        string `json:"sz"`
			AccFillSz string `json:"accFillSz"`
			AvgPx     string `json:"avgPx"`
			Fee       string `json:"fee"`
			FeeCcy    string `json:"feeCcy"`
			State     string `json:"state"`
			CTime     string `json:"cTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("okx", err)
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Venue: "okx", Kind: KindInvalidArgument, Message: "order not found: " + orderID}
	}

	d := resp.Data[0]
	limitPx, _ := strconv.ParseFloat(d.Px, 64)
	amount, _ := strconv.ParseFloat(d.Sz, 64)
	filled, _ := strconv.ParseFloat(d.AccFillSz, 64)
	avgPrice, _ := strconv.ParseFloat(d.AvgPx, 64)
	fee, _ := strconv.ParseFloat(d.Fee, 64)
	createdMs, _ := strconv.ParseInt(d.CTime, 10, 64)

	return &Order{
		ID:           d.OrdId,
		Pair:         pair,
		Side:         d.Side,
		Type:         d.OrdType,
		Price:        limitPx,
		Amount:       amount,
		Filled:       filled,
		AvgFillPrice: avgPrice,
		Fee:          -fee, // OKX отдаёт комиссию отрицательной
		FeeCurrency:  d.FeeCcy,
		Status:       okxOrderStatus(d.State),
		CreatedAt:    time.UnixMilli(createdMs),
	}, nil
}

func (o *OKX) CancelOrder(ctx context.Context, pair, orderID string) error {
	payload := map[string]string{
		"instId": okxInstID(pair),
		"ordId":  orderID,
	}
	_, err := o.doRequest(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, payload, true)
	if err != nil {
		var ee *Error
		// 51402: order already completed
		if errors.As(err, &ee) && (ee.Code == "51402" || ee.Code == "51410") {
			return nil
		}
		return err
	}
	return nil
}

func (o *OKX) Withdraw(ctx context.Context, req *WithdrawRequest) (*Withdrawal, error) {
	toAddr := req.Address
	if req.Tag != "" {
		toAddr = req.Address + ":" + req.Tag
	}
	payload := map[string]string{
		"ccy":    req.Currency,
		"amt":    strconv.FormatFloat(req.Amount, 'f', -1, 64),
		"dest":   "4", // вывод на внешний адрес
		"toAddr": toAddr,
		"chain":  okxChain(req.Currency, req.Network),
		"fee":    strconv.FormatFloat(req.Fee, 'f', -1, 64),
	}

	body, err := o.doRequest(ctx, http.MethodPost, "/api/v5/asset/withdrawal", nil, payload, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			WdId string `json:"wdId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("okx", err)
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Venue: "okx", Kind: KindUnknown, Message: "empty withdrawal response"}
	}

	return &Withdrawal{
		ID:        resp.Data[0].WdId,
		Currency:  req.Currency,
		Amount:    req.Amount,
		Fee:       req.Fee,
		Network:   req.Network,
		Address:   req.Address,
		Status:    WithdrawalPending,
		CreatedAt: time.Now(),
	}, nil
}

func (o *OKX) WithdrawalFee(ctx context.Context, currency, network string) (float64, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/asset/currencies",
		map[string]string{"ccy": currency}, nil, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data []struct {
			Ccy    string `json:"ccy"`
			Chain  string `json:"chain"`
			MinFee string `json:"minFee"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, transientErr("okx", err)
	}

	want := okxChain(currency, network)
	for _, d := range resp.Data {
		if d.Chain == want {
			fee, err := strconv.ParseFloat(d.MinFee, 64)
			if err != nil {
				return 0, transientErr("okx", err)
			}
			return fee, nil
		}
	}
	return 0, &Error{Venue: "okx", Kind: KindNotSupported, Message: fmt.Sprintf("no fee schedule for %s on %s", currency, network)}
}

func (o *OKX) DepositAddress(ctx context.Context, currency, network string) (*DepositAddress, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/asset/deposit-address",
		map[string]string{"ccy": currency}, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Addr  string `json:"addr"`
			Tag   string `json:"tag"`
			Chain string `json:"chain"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("okx", err)
	}

	want := okxChain(currency, network)
	for _, d := range resp.Data {
		if d.Chain == want {
			return &DepositAddress{
				Currency: currency,
				Network:  network,
				Address:  d.Addr,
				Tag:      d.Tag,
			}, nil
		}
	}
	return nil, &Error{Venue: "okx", Kind: KindNotSupported, Message: fmt.Sprintf("no deposit address for %s on %s", currency, network)}
}

// okxWithdrawStatus переводит state вывода OKX в унифицированный
func okxWithdrawStatus(s string) string {
	switch s {
	case "2":
		return WithdrawalCompleted
	case "-1", "-2", "-3":
		return WithdrawalFailed
	default:
		return WithdrawalPending
	}
}

func (o *OKX) FetchWithdrawals(ctx context.Context, currency string, since time.Time) ([]*Withdrawal, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/asset/withdrawal-history",
		map[string]string{"ccy": currency}, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			WdId  string `json:"wdId"`
			Ccy   string `json:"ccy"`
			Chain string `json:"chain"`
			Amt   string `json:"amt"`
			Fee   string `json:"fee"`
			TxId  string `json:"txId"`
			To    string `json:"to"`
			State string `json:"state"`
			Ts    string `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("okx", err)
	}

	var out []*Withdrawal
	for _, d := range resp.Data {
		amount, _ := strconv.ParseFloat(d.Amt, 64)
		fee, _ := strconv.ParseFloat(d.Fee, 64)
		ms, _ := strconv.ParseInt(d.Ts, 10, 64)
		createdAt := time.UnixMilli(ms)
		if createdAt.Before(since) {
			continue
		}

		network := d.Chain
		if i := strings.IndexByte(d.Chain, '-'); i > 0 {
			network = d.Chain[i+1:]
		}

		out = append(out, &Withdrawal{
			ID:        d.WdId,
			Currency:  d.Ccy,
			Amount:    amount,
			Fee:       fee,
			Network:   network,
			Address:   d.To,
			TxID:      d.TxId,
			Status:    okxWithdrawStatus(d.State),
			CreatedAt: createdAt,
		})
	}
	return out, nil
}

func (o *OKX) Close() error {
	return nil
}
