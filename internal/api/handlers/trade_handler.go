package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"cryptoarb/internal/models"
)

// TradeStoreInterface - операции чтения сделок
type TradeStoreInterface interface {
	GetRecent(limit int) ([]*models.Trade, error)
	GetByOpportunityID(opportunityID int64) ([]*models.Trade, error)
}

// TradeHandler обрабатывает запросы к журналу сделок.
//
// Endpoints:
// - GET /api/v1/trades?limit= - последние сделки
// - GET /api/v1/opportunities/{id}/trades - сделки одной возможности
type TradeHandler struct {
	store TradeStoreInterface
}

// NewTradeHandler создает новый TradeHandler
func NewTradeHandler(store TradeStoreInterface) *TradeHandler {
	return &TradeHandler{store: store}
}

// GetTrades возвращает последние сделки
func (h *TradeHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.store.GetRecent(parseLimit(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list trades", err.Error())
		return
	}

	if trades == nil {
		trades = []*models.Trade{}
	}
	respondWithJSON(w, http.StatusOK, trades)
}

// GetOpportunityTrades возвращает сделки одной возможности,
// включая ноги отката
func (h *TradeHandler) GetOpportunityTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid opportunity id", "")
		return
	}

	trades, err := h.store.GetByOpportunityID(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list trades", err.Error())
		return
	}

	if trades == nil {
		trades = []*models.Trade{}
	}
	respondWithJSON(w, http.StatusOK, trades)
}
