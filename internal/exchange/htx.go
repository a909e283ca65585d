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
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cryptoarb/internal/models"
)

const (
	htxHost    = "api.huobi.pro"
	htxBaseURL = "https://" + htxHost
)

// HTX реализует интерфейс Exchange для спотового рынка HTX (бывшая Huobi).
// Подпись v2: HMAC-SHA256 по канонической строке method\nhost\npath\nquery.
type HTX struct {
	apiKey    string
	secretKey string
	takerFee  float64
	makerFee  float64

	baseURL    string
	host       string
	httpClient *http.Client
	limiter    *rate.Limiter

	// account-id спотового аккаунта, ленивое получение
	accountID   string
	accountOnce sync.Once
	accountErr  error
}

// NewHTX создает адаптер HTX
func NewHTX(apiKey, secret string, takerFee, makerFee float64) *HTX {
	return &HTX{
		apiKey:     apiKey,
		secretKey:  secret,
		takerFee:   takerFee,
		makerFee:   makerFee,
		baseURL:    htxBaseURL,
		host:       htxHost,
		httpClient: GetGlobalHTTPClient().GetClient(),
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
	}
}

func (h *HTX) Name() string { return "htx" }

func (h *HTX) TakerFee() float64 { return h.takerFee }
func (h *HTX) MakerFee() float64 { return h.makerFee }

// htxSymbol конвертирует "BTC/USDT" в формат HTX "btcusdt"
func htxSymbol(pair string) string {
	return strings.ToLower(strings.ReplaceAll(pair, "/", ""))
}

// signQuery добавляет к query параметры аутентификации и подпись
func (h *HTX) signQuery(method, path string, query url.Values) url.Values {
	query.Set("AccessKeyId", h.apiKey)
	query.Set("SignatureMethod", "HmacSHA256")
	query.Set("SignatureVersion", "2")
	query.Set("Timestamp", time.Now().UTC().Format("2006-01-02T15:04:05"))

	payload := method + "\n" + h.host + "\n" + path + "\n" + query.Encode()
	mac := hmac.New(sha256.New, []byte(h.secretKey))
	mac.Write([]byte(payload))
	query.Set("Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return query
}

// doRequest выполняет HTTP запрос к HTX API
func (h *HTX) doRequest(ctx context.Context, method, path string, query map[string]string, payload interface{}, signed bool) ([]byte, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range query {
		q.Set(k, v)
	}
	if signed {
		q = h.signQuery(method, path, q)
	}

	reqURL := h.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, transientErr("htx", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr("htx", err)
	}

	if resp.StatusCode >= 500 {
		return nil, &Error{Venue: "htx", Kind: KindTransient, Code: strconv.Itoa(resp.StatusCode), Message: "server error"}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Venue: "htx", Kind: KindRateLimited, Code: "429", Message: "rate limited"}
	}

	var baseResp struct {
		Status  string `json:"status"`
		ErrCode string `json:"err-code"`
		ErrMsg  string `json:"err-msg"`
		Code    int    `json:"code"` // v2 endpoints
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, transientErr("htx", err)
	}
	if baseResp.Status == "error" {
		return nil, &Error{
			Venue:   "htx",
			Kind:    classifyHTX(baseResp.ErrCode),
			Code:    baseResp.ErrCode,
			Message: baseResp.ErrMsg,
		}
	}
	if baseResp.Code != 0 && baseResp.Code != 200 {
		return nil, &Error{
			Venue:   "htx",
			Kind:    KindUnknown,
			Code:    strconv.Itoa(baseResp.Code),
			Message: baseResp.Message,
		}
	}

	return body, nil
}

// classifyHTX переводит err-code HTX в класс ошибки
func classifyHTX(code string) string {
	switch {
	case strings.HasPrefix(code, "api-signature"),
		code == "invalid-signature", code == "api-key-expired", code == "invalid-access-key":
		return KindAuth
	case code == "too-many-request", code == "request-limit-exceeded":
		return KindRateLimited
	case code == "account-frozen-balance-insufficient-error", code == "insufficient-balance":
		return KindInsufficient
	case strings.HasPrefix(code, "invalid-"):
		return KindInvalidArgument
	default:
		return KindUnknown
	}
}

func (h *HTX) FetchTicker(ctx context.Context, pair string) (*models.TickerSnapshot, error) {
	body, err := h.doRequest(ctx, http.MethodGet, "/market/detail/merged",
		map[string]string{"symbol": htxSymbol(pair)}, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Ts   int64 `json:"ts"`
		Tick struct {
			Bid []float64 `json:"bid"`
			Ask []float64 `json:"ask"`
		} `json:"tick"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("htx", err)
	}
	if len(resp.Tick.Bid) == 0 || len(resp.Tick.Ask) == 0 {
		return nil, &Error{Venue: "htx", Kind: KindInvalidArgument, Message: fmt.Sprintf("ticker not found for %s", pair)}
	}

	return &models.TickerSnapshot{
		Exchange:  "htx",
		Pair:      pair,
		Bid:       resp.Tick.Bid[0],
		Ask:       resp.Tick.Ask[0],
		Timestamp: time.UnixMilli(resp.Ts),
	}, nil
}

func (h *HTX) FetchOrderBook(ctx context.Context, pair string, depth int) (*models.OrderBookSnapshot, error) {
	// HTX принимает только 5, 10, 20
	switch {
	case depth <= 5:
		depth = 5
	case depth <= 10:
		depth = 10
	default:
		depth = 20
	}

	body, err := h.doRequest(ctx, http.MethodGet, "/market/depth",
		map[string]string{"symbol": htxSymbol(pair), "type": "step0", "depth": strconv.Itoa(depth)}, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Ts   int64 `json:"ts"`
		Tick struct {
			Bids [][]float64 `json:"bids"`
			Asks [][]float64 `json:"asks"`
		} `json:"tick"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("htx", err)
	}

	ob := &models.OrderBookSnapshot{
		Exchange:  "htx",
		Pair:      pair,
		Bids:      make([]models.PriceLevel, 0, len(resp.Tick.Bids)),
		Asks:      make([]models.PriceLevel, 0, len(resp.Tick.Asks)),
		Timestamp: time.UnixMilli(resp.Ts),
	}
	for _, lvl := range resp.Tick.Bids {
		if len(lvl) >= 2 {
			ob.Bids = append(ob.Bids, models.PriceLevel{Price: lvl[0], Amount: lvl[1]})
		}
	}
	for _, lvl := range resp.Tick.Asks {
		if len(lvl) >= 2 {
			ob.Asks = append(ob.Asks, models.PriceLevel{Price: lvl[0], Amount: lvl[1]})
		}
	}
	return ob, nil
}

// accountIDFor возвращает account-id спотового аккаунта, кэшируя результат
func (h *HTX) accountIDFor(ctx context.Context) (string, error) {
	h.accountOnce.Do(func() {
		body, err := h.doRequest(ctx, http.MethodGet, "/v1/account/accounts", nil, nil, true)
		if err != nil {
			h.accountErr = err
			return
		}
		var resp struct {
			Data []struct {
				ID   int64  `json:"id"`
				Type string `json:"type"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			h.accountErr = transientErr("htx", err)
			return
		}
		for _, a := range resp.Data {
			if a.Type == "spot" {
				h.accountID = strconv.FormatInt(a.ID, 10)
				return
			}
		}
		h.accountErr = &Error{Venue: "htx", Kind: KindAuth, Message: "spot account not found"}
	})
	return h.accountID, h.accountErr
}

func (h *HTX) FetchBalances(ctx context.Context) (map[string]models.Balance, error) {
	accountID, err := h.accountIDFor(ctx)
	if err != nil {
		return nil, err
	}

	body, err := h.doRequest(ctx, http.MethodGet, "/v1/account/accounts/"+accountID+"/balance", nil, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			List []struct {
				Currency string `json:"currency"`
				Type     string `json:"type"` // trade | frozen
				Balance  string `json:"balance"`
			} `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("htx", err)
	}

	balances := make(map[string]models.Balance)
	for _, item := range resp.Data.List {
		ccy := strings.ToUpper(item.Currency)
		amount, _ := strconv.ParseFloat(item.Balance, 64)
		if amount == 0 {
			continue
		}
		bal := balances[ccy]
		switch item.Type {
		case "trade":
			bal.Free = amount
		case "frozen":
			bal.Used = amount
		}
		bal.Total = bal.Free + bal.Used
		balances[ccy] = bal
	}
	return balances, nil
}

func (h *HTX) PlaceOrder(ctx context.Context, pair, side, orderType string, amount, price float64) (*Order, error) {
	accountID, err := h.accountIDFor(ctx)
	if err != nil {
		return nil, err
	}

	htxType := side + "-" + orderType
	orderAmount := amount
	if orderType != OrderTypeLimit && side == models.SideBuy {
		// buy-market у HTX принимает сумму в котируемой валюте
		ticker, err := h.FetchTicker(ctx, pair)
		if err != nil {
			return nil, err
		}
		orderAmount = amount * ticker.Ask
	}

	payload := map[string]string{
		"account-id": accountID,
		"symbol":     htxSymbol(pair),
		"type":       htxType,
		"amount":     strconv.FormatFloat(orderAmount, 'f', -1, 64),
	}
	if orderType == OrderTypeLimit {
		payload["price"] = strconv.FormatFloat(price, 'f', -1, 64)
	}

	body, err := h.doRequest(ctx, http.MethodPost, "/v1/order/orders/place", nil, payload, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("htx", err)
	}

	order := &Order{
		ID:        resp.Data,
		Pair:      pair,
		Side:      side,
		Type:      orderType,
		Price:     price,
		Amount:    amount,
		Status:    OrderStatusOpen,
		CreatedAt: time.Now(),
	}

	if refreshed, err := h.FetchOrder(ctx, pair, order.ID); err == nil {
		return refreshed, nil
	}
	return order, nil
}

// htxOrderStatus переводит state HTX в унифицированный статус
func htxOrderStatus(s string) string {
	switch s {
	case "filled":
		return OrderStatusFilled
	case "partial-filled":
		return OrderStatusPartial
	case "canceled", "partial-canceled":
		return OrderStatusCanceled
	default:
		return OrderStatusOpen
	}
}

func (h *HTX) FetchOrder(ctx context.Context, pair, orderID string) (*Order, error) {
	body, err := h.doRequest(ctx, http.MethodGet, "/v1/order/orders/"+orderID, nil, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			ID              int64  `json:"id"`
			Type            string `json:"type"` // buy-limit | sell-market | ...
			Price           string `json:"price"`
			Amount          string `json:"amount"`
			FieldAmount     string `json:"field-amount"`
			FieldCashAmount string `json:"field-cash-amount"`
			FieldFees       string `json:"field-fees"`
			State           string `json:"state"`
			CreatedAt       int64  `json:"created-at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("htx", err)
	}

	d := resp.Data
	limitPrice, _ := strconv.ParseFloat(d.Price, 64)
	amount, _ := strconv.ParseFloat(d.Amount, 64)
	filled, _ := strconv.ParseFloat(d.FieldAmount, 64)
	cash, _ := strconv.ParseFloat(d.FieldCashAmount, 64)
	fee, _ := strconv.ParseFloat(d.FieldFees, 64)

	side := models.SideSell
	if strings.HasPrefix(d.Type, "buy") {
		side = models.SideBuy
	}
	orderType := OrderTypeMarket
	if strings.HasSuffix(d.Type, "-limit") {
		orderType = OrderTypeLimit
	}

	avgPrice := 0.0
	if filled > 0 {
		avgPrice = cash / filled
	}

	return &Order{
		ID:           strconv.FormatInt(d.ID, 10),
		Pair:         pair,
		Side:         side,
		Type:         orderType,
		Price:        limitPrice,
		Amount:       amount,
		Filled:       filled,
		AvgFillPrice: avgPrice,
		Fee:          fee,
		Status:       htxOrderStatus(d.State),
		CreatedAt:    time.UnixMilli(d.CreatedAt),
	}, nil
}

func (h *HTX) CancelOrder(ctx context.Context, pair, orderID string) error {
	_, err := h.doRequest(ctx, http.MethodPost, "/v1/order/orders/"+orderID+"/submitcancel", nil, map[string]string{}, true)
	if err != nil {
		// Отказ в отмене уже завершённого ордера - не ошибка
		var ee *Error
		if errors.As(err, &ee) && ee.Code == "order-orderstate-error" {
			return nil
		}
		return err
	}
	return nil
}

func (h *HTX) Withdraw(ctx context.Context, req *WithdrawRequest) (*Withdrawal, error) {
	payload := map[string]string{
		"address":  req.Address,
		"amount":   strconv.FormatFloat(req.Amount, 'f', -1, 64),
		"currency": strings.ToLower(req.Currency),
		"fee":      strconv.FormatFloat(req.Fee, 'f', -1, 64),
	}
	if req.Network != "" {
		payload["chain"] = strings.ToLower(req.Currency + req.Network)
	}
	if req.Tag != "" {
		payload["addr-tag"] = req.Tag
	}

	body, err := h.doRequest(ctx, http.MethodPost, "/v1/dw/withdraw/api/create", nil, payload, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data int64 `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("htx", err)
	}

	return &Withdrawal{
		ID:        strconv.FormatInt(resp.Data, 10),
		Currency:  req.Currency,
		Amount:    req.Amount,
		Fee:       req.Fee,
		Network:   req.Network,
		Address:   req.Address,
		Status:    WithdrawalPending,
		CreatedAt: time.Now(),
	}, nil
}

func (h *HTX) WithdrawalFee(ctx context.Context, currency, network string) (float64, error) {
	body, err := h.doRequest(ctx, http.MethodGet, "/v2/reference/currencies",
		map[string]string{"currency": strings.ToLower(currency)}, nil, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data []struct {
			Currency string `json:"currency"`
			Chains   []struct {
				Chain               string `json:"chain"`
				TransactFeeWithdraw string `json:"transactFeeWithdraw"`
			} `json:"chains"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, transientErr("htx", err)
	}

	want := strings.ToLower(currency + network)
	for _, d := range resp.Data {
		if !strings.EqualFold(d.Currency, currency) {
			continue
		}
		for _, ch := range d.Chains {
			if !strings.EqualFold(ch.Chain, want) && !strings.EqualFold(ch.Chain, strings.ToLower(currency)) {
				continue
			}
			fee, err := strconv.ParseFloat(ch.TransactFeeWithdraw, 64)
			if err != nil {
				return 0, transientErr("htx", err)
			}
			return fee, nil
		}
	}
	return 0, &Error{Venue: "htx", Kind: KindNotSupported, Message: fmt.Sprintf("no fee schedule for %s on %s", currency, network)}
}

func (h *HTX) DepositAddress(ctx context.Context, currency, network string) (*DepositAddress, error) {
	body, err := h.doRequest(ctx, http.MethodGet, "/v2/account/deposit/address",
		map[string]string{"currency": strings.ToLower(currency)}, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Address    string `json:"address"`
			AddressTag string `json:"addressTag"`
			Chain      string `json:"chain"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("htx", err)
	}

	want := strings.ToLower(currency + network)
	for _, d := range resp.Data {
		if strings.EqualFold(d.Chain, want) || strings.EqualFold(d.Chain, strings.ToLower(currency)) {
			return &DepositAddress{
				Currency: currency,
				Network:  network,
				Address:  d.Address,
				Tag:      d.AddressTag,
			}, nil
		}
	}
	return nil, &Error{Venue: "htx", Kind: KindNotSupported, Message: fmt.Sprintf("no deposit address for %s on %s", currency, network)}
}

// htxWithdrawStatus переводит state вывода HTX в унифицированный
func htxWithdrawStatus(s string) string {
	switch s {
	case "confirmed", "safe":
		return WithdrawalCompleted
	case "reject", "wallet-reject", "canceled", "failed":
		return WithdrawalFailed
	default:
		return WithdrawalPending
	}
}

func (h *HTX) FetchWithdrawals(ctx context.Context, currency string, since time.Time) ([]*Withdrawal, error) {
	// История выводов листается последними записями вперёд;
	// берём страницу и отсекаем по времени создания
	body, err := h.doRequest(ctx, http.MethodGet, "/v1/query/deposit-withdraw",
		map[string]string{
			"currency": strings.ToLower(currency),
			"type":     "withdraw",
			"size":     "100",
			"direct":   "next",
		}, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			ID        int64   `json:"id"`
			Currency  string  `json:"currency"`
			Chain     string  `json:"chain"`
			Amount    float64 `json:"amount"`
			Fee       float64 `json:"fee"`
			TxHash    string  `json:"tx-hash"`
			Address   string  `json:"address"`
			State     string  `json:"state"`
			CreatedAt int64   `json:"created-at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr("htx", err)
	}

	var out []*Withdrawal
	for _, d := range resp.Data {
		createdAt := time.UnixMilli(d.CreatedAt)
		if createdAt.Before(since) {
			continue
		}
		out = append(out, &Withdrawal{
			ID:        strconv.FormatInt(d.ID, 10),
			Currency:  strings.ToUpper(d.Currency),
			Amount:    d.Amount,
			Fee:       d.Fee,
			Network:   d.Chain,
			Address:   d.Address,
			TxID:      d.TxHash,
			Status:    htxWithdrawStatus(d.State),
			CreatedAt: createdAt,
		})
	}
	return out, nil
}

func (h *HTX) Close() error {
	return nil
}
