package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"cryptoarb/internal/funds"
	"cryptoarb/internal/models"
	"cryptoarb/internal/repository"
)

// TransferStoreInterface - операции чтения переводов
type TransferStoreInterface interface {
	GetRecent(limit int) ([]*models.Transfer, error)
	GetPending() ([]*models.Transfer, error)
	GetByID(id int64) (*models.Transfer, error)
}

// FundsRouterInterface - запуск межбиржевого перевода
type FundsRouterInterface interface {
	Transfer(ctx context.Context, from, to, currency string, amount float64, network string) (*models.Transfer, error)
}

// CreateTransferRequest - тело запроса на перевод средств.
// Network необязателен: пустое значение выбирает сеть по умолчанию.
type CreateTransferRequest struct {
	FromExchange string  `json:"from_exchange"`
	ToExchange   string  `json:"to_exchange"`
	Currency     string  `json:"currency"`
	Amount       float64 `json:"amount"`
	Network      string  `json:"network,omitempty"`
}

// TransferHandler обрабатывает запросы к переводам средств.
//
// Endpoints:
// - GET /api/v1/transfers?limit= - последние переводы
// - GET /api/v1/transfers/pending - незавершённые переводы
// - GET /api/v1/transfers/{id} - перевод по ID
// - POST /api/v1/transfers - запустить перевод
// - GET /api/v1/fees/{currency} - ожидаемая комиссия вывода
type TransferHandler struct {
	store  TransferStoreInterface
	router FundsRouterInterface
}

// NewTransferHandler создает новый TransferHandler
func NewTransferHandler(store TransferStoreInterface, router FundsRouterInterface) *TransferHandler {
	return &TransferHandler{store: store, router: router}
}

// GetTransfers возвращает последние переводы
func (h *TransferHandler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.store.GetRecent(parseLimit(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list transfers", err.Error())
		return
	}

	if transfers == nil {
		transfers = []*models.Transfer{}
	}
	respondWithJSON(w, http.StatusOK, transfers)
}

// GetPendingTransfers возвращает переводы, ещё не подтверждённые сетью
func (h *TransferHandler) GetPendingTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.store.GetPending()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list transfers", err.Error())
		return
	}

	if transfers == nil {
		transfers = []*models.Transfer{}
	}
	respondWithJSON(w, http.StatusOK, transfers)
}

// GetTransfer возвращает перевод по ID
func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid transfer ID", "")
		return
	}

	transfer, err := h.store.GetByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrTransferNotFound) {
			respondWithError(w, http.StatusNotFound, "transfer not found", "")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to get transfer", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, transfer)
}

// WithdrawalFeeResponse - ожидаемая комиссия вывода валюты
type WithdrawalFeeResponse struct {
	Currency string  `json:"currency"`
	Network  string  `json:"network"`
	Fee      float64 `json:"fee"`
}

// GetWithdrawalFee возвращает сеть и ожидаемую комиссию вывода валюты.
// 404, если перевод валюты не поддерживается роутером.
func (h *TransferHandler) GetWithdrawalFee(w http.ResponseWriter, r *http.Request) {
	currency := strings.ToUpper(mux.Vars(r)["currency"])

	network := funds.PreferredNetwork(currency)
	if network == "" {
		respondWithError(w, http.StatusNotFound, "currency is not supported for transfers", "")
		return
	}
	fee, _ := funds.NetworkFee(currency, network)

	respondWithJSON(w, http.StatusOK, WithdrawalFeeResponse{
		Currency: currency,
		Network:  network,
		Fee:      fee,
	})
}

// CreateTransfer запускает перевод средств между биржами
//
// Тело запроса:
//
//	{
//	  "from_exchange": "okx",
//	  "to_exchange": "bybit",
//	  "currency": "USDT",
//	  "amount": 1000,
//	  "network": "TRC20"
//	}
//
// Ответы:
// - 201 Created: перевод запущен, вывод подтверждён биржей-источником
// - 400 Bad Request: некорректные данные или неподдерживаемая валюта
// - 409 Conflict: перевод этой валюты с этой биржи уже идёт
// - 422 Unprocessable Entity: недостаточно средств
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.FromExchange == "" || req.ToExchange == "" || req.Currency == "" {
		respondWithError(w, http.StatusBadRequest, "from_exchange, to_exchange and currency are required", "")
		return
	}
	if req.FromExchange == req.ToExchange {
		respondWithError(w, http.StatusBadRequest, "source and destination exchanges must differ", "")
		return
	}
	if req.Amount <= 0 {
		respondWithError(w, http.StatusBadRequest, "amount must be positive", "")
		return
	}

	transfer, err := h.router.Transfer(r.Context(), req.FromExchange, req.ToExchange, req.Currency, req.Amount, req.Network)
	if err != nil {
		switch {
		case errors.Is(err, funds.ErrTransferInFlight):
			respondWithError(w, http.StatusConflict, "transfer already in flight",
				"another transfer of this currency from this exchange is pending")
		case errors.Is(err, funds.ErrNoNetwork):
			respondWithError(w, http.StatusBadRequest, "unsupported currency", err.Error())
		case errors.Is(err, funds.ErrInsufficientFunds):
			respondWithError(w, http.StatusUnprocessableEntity, "insufficient funds", err.Error())
		default:
			respondWithError(w, http.StatusInternalServerError, "failed to start transfer", err.Error())
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, transfer)
}
