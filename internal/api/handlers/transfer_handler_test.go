package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"cryptoarb/internal/funds"
	"cryptoarb/internal/models"
)

// ============ TransferHandler Tests ============

func TestTransferHandler_GetTransfers(t *testing.T) {
	t.Run("returns transfers", func(t *testing.T) {
		store := NewMockTransferStore()
		store.AddTransfer(&models.Transfer{
			ID: 1, Timestamp: time.Now(), FromExchange: "okx", ToExchange: "bybit",
			Currency: "USDT", Amount: 1000, Status: models.TransferCompleted,
		})
		handler := NewTransferHandler(store, NewMockFundsRouter())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/transfers", nil)
		w := httptest.NewRecorder()

		handler.GetTransfers(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response []*models.Transfer
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response) != 1 {
			t.Errorf("expected 1 transfer, got %d", len(response))
		}
	})

	t.Run("returns empty array when there are no transfers", func(t *testing.T) {
		handler := NewTransferHandler(NewMockTransferStore(), NewMockFundsRouter())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/transfers", nil)
		w := httptest.NewRecorder()

		handler.GetTransfers(w, req)

		if body := strings.TrimSpace(w.Body.String()); body != "[]" {
			t.Errorf("expected empty array, got %s", body)
		}
	})
}

func TestTransferHandler_GetPendingTransfers(t *testing.T) {
	store := NewMockTransferStore()
	store.AddTransfer(&models.Transfer{ID: 1, Status: models.TransferPending, Currency: "USDT"})
	store.AddTransfer(&models.Transfer{ID: 2, Status: models.TransferCompleted, Currency: "USDT"})
	handler := NewTransferHandler(store, NewMockFundsRouter())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transfers/pending", nil)
	w := httptest.NewRecorder()

	handler.GetPendingTransfers(w, req)

	var response []*models.Transfer
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response) != 1 {
		t.Fatalf("expected 1 pending transfer, got %d", len(response))
	}
	if response[0].ID != 1 {
		t.Errorf("expected transfer 1, got %d", response[0].ID)
	}
}

func TestTransferHandler_GetTransfer(t *testing.T) {
	t.Run("returns transfer by id", func(t *testing.T) {
		store := NewMockTransferStore()
		store.AddTransfer(&models.Transfer{
			ID: 5, Timestamp: time.Now(), FromExchange: "okx", ToExchange: "bybit",
			Currency: "USDT", Amount: 500, Status: models.TransferPending,
		})
		handler := NewTransferHandler(store, NewMockFundsRouter())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/transfers/5", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "5"})
		w := httptest.NewRecorder()

		handler.GetTransfer(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var response models.Transfer
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.ID != 5 || response.Currency != "USDT" {
			t.Errorf("unexpected transfer: %+v", response)
		}
	})

	t.Run("returns 404 for unknown transfer", func(t *testing.T) {
		handler := NewTransferHandler(NewMockTransferStore(), NewMockFundsRouter())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/transfers/99", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "99"})
		w := httptest.NewRecorder()

		handler.GetTransfer(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})

	t.Run("returns 400 for malformed id", func(t *testing.T) {
		handler := NewTransferHandler(NewMockTransferStore(), NewMockFundsRouter())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/transfers/abc", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "abc"})
		w := httptest.NewRecorder()

		handler.GetTransfer(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestTransferHandler_GetWithdrawalFee(t *testing.T) {
	t.Run("returns network and fee", func(t *testing.T) {
		handler := NewTransferHandler(NewMockTransferStore(), NewMockFundsRouter())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/fees/usdt", nil)
		req = mux.SetURLVars(req, map[string]string{"currency": "usdt"})
		w := httptest.NewRecorder()

		handler.GetWithdrawalFee(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var response WithdrawalFeeResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Currency != "USDT" || response.Network != "TRC20" {
			t.Errorf("unexpected fee response: %+v", response)
		}
		if response.Fee != 1 {
			t.Errorf("expected TRC20 fee 1 USDT, got %f", response.Fee)
		}
	})

	t.Run("returns 404 for unsupported currency", func(t *testing.T) {
		handler := NewTransferHandler(NewMockTransferStore(), NewMockFundsRouter())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/fees/SHIB", nil)
		req = mux.SetURLVars(req, map[string]string{"currency": "SHIB"})
		w := httptest.NewRecorder()

		handler.GetWithdrawalFee(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})
}

func TestTransferHandler_CreateTransfer(t *testing.T) {
	t.Run("starts transfer", func(t *testing.T) {
		router := NewMockFundsRouter()
		handler := NewTransferHandler(NewMockTransferStore(), router)

		body := `{"from_exchange":"okx","to_exchange":"bybit","currency":"USDT","amount":1000}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(body))
		w := httptest.NewRecorder()

		handler.CreateTransfer(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
		}

		var response models.Transfer
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Status != models.TransferPending {
			t.Errorf("expected status PENDING, got %s", response.Status)
		}
		if len(router.requests) != 1 {
			t.Fatalf("expected 1 router call, got %d", len(router.requests))
		}
		if router.requests[0].Amount != 1000 {
			t.Errorf("expected amount 1000, got %f", router.requests[0].Amount)
		}
	})

	t.Run("passes requested network to the router", func(t *testing.T) {
		router := NewMockFundsRouter()
		handler := NewTransferHandler(NewMockTransferStore(), router)

		body := `{"from_exchange":"okx","to_exchange":"bybit","currency":"USDT","amount":1000,"network":"ERC20"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(body))
		w := httptest.NewRecorder()

		handler.CreateTransfer(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
		}
		if len(router.requests) != 1 {
			t.Fatalf("expected 1 router call, got %d", len(router.requests))
		}
		if got := router.requests[0].Network; got != "ERC20" {
			t.Errorf("expected network ERC20, got %q", got)
		}
	})

	t.Run("returns 400 for invalid body", func(t *testing.T) {
		handler := NewTransferHandler(NewMockTransferStore(), NewMockFundsRouter())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader("{not json"))
		w := httptest.NewRecorder()

		handler.CreateTransfer(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("returns 400 for same source and destination", func(t *testing.T) {
		handler := NewTransferHandler(NewMockTransferStore(), NewMockFundsRouter())

		body := `{"from_exchange":"okx","to_exchange":"okx","currency":"USDT","amount":1000}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(body))
		w := httptest.NewRecorder()

		handler.CreateTransfer(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("returns 400 for non-positive amount", func(t *testing.T) {
		handler := NewTransferHandler(NewMockTransferStore(), NewMockFundsRouter())

		body := `{"from_exchange":"okx","to_exchange":"bybit","currency":"USDT","amount":0}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(body))
		w := httptest.NewRecorder()

		handler.CreateTransfer(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("maps router errors to status codes", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want int
		}{
			{"in flight", funds.ErrTransferInFlight, http.StatusConflict},
			{"no network", funds.ErrNoNetwork, http.StatusBadRequest},
			{"insufficient funds", funds.ErrInsufficientFunds, http.StatusUnprocessableEntity},
			{"other", ErrMockDatabase, http.StatusInternalServerError},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				router := NewMockFundsRouter()
				router.SetError(tt.err)
				handler := NewTransferHandler(NewMockTransferStore(), router)

				body := `{"from_exchange":"okx","to_exchange":"bybit","currency":"USDT","amount":1000}`
				req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(body))
				w := httptest.NewRecorder()

				handler.CreateTransfer(w, req)

				if w.Code != tt.want {
					t.Errorf("expected status %d, got %d", tt.want, w.Code)
				}
			})
		}
	})
}
