package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cryptoarb/internal/exchange"
	"cryptoarb/internal/models"
	"cryptoarb/pkg/utils"
)

// VenueRegistryInterface - доступ к подключенным биржам
type VenueRegistryInterface interface {
	Names() []string
	Get(name string) (exchange.Exchange, error)
}

// VenueStatusInterface - чтение статусов подключений из кэша
type VenueStatusInterface interface {
	GetVenueStatus(ctx context.Context, exchange string) (*models.VenueStatus, error)
}

// RecyclerInterface - принудительное пересоздание адаптера биржи
type RecyclerInterface interface {
	Recycle(ctx context.Context, name, cause string)
}

// VenueResponse - биржа вместе со статусом её подключения
type VenueResponse struct {
	Name   string              `json:"name"`
	Status *models.VenueStatus `json:"status,omitempty"`
}

// ExchangeHandler обрабатывает запросы к биржевым подключениям.
//
// Endpoints:
// - GET /api/v1/exchanges - список бирж со статусами подключений
// - GET /api/v1/exchanges/{name}/balances - балансы спотового аккаунта
// - POST /api/v1/exchanges/{name}/refresh - пересоздать адаптер
type ExchangeHandler struct {
	venues   VenueRegistryInterface
	statuses VenueStatusInterface
	recycler RecyclerInterface
}

// NewExchangeHandler создает новый ExchangeHandler.
// recycler опционален: без него endpoint пересоздания не регистрируется.
func NewExchangeHandler(venues VenueRegistryInterface, statuses VenueStatusInterface, recycler RecyclerInterface) *ExchangeHandler {
	return &ExchangeHandler{venues: venues, statuses: statuses, recycler: recycler}
}

// GetExchanges возвращает подключенные биржи со статусами их живости
func (h *ExchangeHandler) GetExchanges(w http.ResponseWriter, r *http.Request) {
	names := h.venues.Names()
	result := make([]VenueResponse, 0, len(names))

	for _, name := range names {
		resp := VenueResponse{Name: name}
		st, err := h.statuses.GetVenueStatus(r.Context(), name)
		if err != nil {
			utils.Warn("failed to read venue status",
				zap.String("exchange", name), zap.Error(err))
		} else {
			resp.Status = st
		}
		result = append(result, resp)
	}

	respondWithJSON(w, http.StatusOK, result)
}

// GetExchangeBalances возвращает балансы спотового аккаунта биржи
//
// Ответы:
// - 200 OK: map валюта -> баланс
// - 404 Not Found: биржа не подключена
// - 502 Bad Gateway: биржа не ответила
func (h *ExchangeHandler) GetExchangeBalances(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(mux.Vars(r)["name"])

	venue, err := h.venues.Get(name)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "exchange not connected", err.Error())
		return
	}

	balances, err := venue.FetchBalances(r.Context())
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "failed to fetch balances", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, balances)
}

// RefreshExchange принудительно пересоздаёт адаптер биржи.
// Используется оператором, когда подключение деградировало,
// но бюджет ошибок ещё не исчерпан.
func (h *ExchangeHandler) RefreshExchange(w http.ResponseWriter, r *http.Request) {
	if h.recycler == nil {
		respondWithError(w, http.StatusNotImplemented, "refresh is not available on this service", "")
		return
	}

	name := strings.ToLower(mux.Vars(r)["name"])
	if _, err := h.venues.Get(name); err != nil {
		respondWithError(w, http.StatusNotFound, "exchange not connected", err.Error())
		return
	}

	h.recycler.Recycle(r.Context(), name, "manual refresh")
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "exchange adapter recycled"})
}
