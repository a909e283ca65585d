// Package api - маршрутизация управляющего HTTP API движка.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptoarb/internal/api/handlers"
	"cryptoarb/internal/api/middleware"
	"cryptoarb/internal/websocket"
)

// Dependencies - зависимости API handlers. Nil-поле отключает
// соответствующую группу маршрутов: каждый сервис движка
// поднимает только свою часть API.
type Dependencies struct {
	Opportunities handlers.OpportunityStoreInterface
	Details       handlers.OpportunityDetailsInterface
	Executor      handlers.ExecutorInterface
	Trades        handlers.TradeStoreInterface
	Transfers     handlers.TransferStoreInterface
	FundsRouter   handlers.FundsRouterInterface
	Venues        handlers.VenueRegistryInterface
	VenueStatuses handlers.VenueStatusInterface
	Recycler      handlers.RecyclerInterface
	Stats         handlers.StatsStoreInterface
	Hub           *websocket.Hub
}

// SetupRoutes настраивает HTTP маршруты сервиса.
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /opportunities/
//	│   ├── GET / - список возможностей (?status=&limit=)
//	│   ├── GET /active - исполняемые прямо сейчас
//	│   ├── GET /{id} - возможность с цепочкой ног
//	│   ├── GET /{id}/trades - сделки возможности
//	│   ├── POST /{id}/execute - запустить исполнение
//	│   └── POST /{id}/cancel - отменить возможность
//	├── /trades/
//	│   └── GET / - последние сделки
//	├── /transfers/
//	│   ├── GET / - последние переводы
//	│   ├── GET /pending - незавершённые переводы
//	│   ├── GET /{id} - перевод по ID
//	│   └── POST / - запустить перевод
//	├── /fees/
//	│   └── GET /{currency} - сеть и комиссия вывода
//	├── /exchanges/
//	│   ├── GET / - биржи со статусами подключений
//	│   ├── GET /{name}/balances - балансы аккаунта
//	│   └── POST /{name}/refresh - пересоздать адаптер
//	└── /stats/
//	    ├── GET / - счётчики по статусам
//	    └── GET /daily-profit - прибыль по дням
//
// /ws/stream - WebSocket поток событий движка
// /metrics   - Prometheus метрики
// /health    - liveness probe
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BasicAuth)

	if deps != nil && deps.Opportunities != nil && deps.Details != nil {
		opportunityHandler := handlers.NewOpportunityHandler(deps.Opportunities, deps.Details, deps.Executor)
		api.HandleFunc("/opportunities", opportunityHandler.GetOpportunities).Methods("GET")
		// Исполнение доступно только сервису с координатором
		if deps.Executor != nil {
			api.HandleFunc("/opportunities/active", opportunityHandler.GetActiveExecutions).Methods("GET")
			api.HandleFunc("/opportunities/{id}/execute", opportunityHandler.ExecuteOpportunity).Methods("POST")
		}
		api.HandleFunc("/opportunities/{id}", opportunityHandler.GetOpportunity).Methods("GET")
		api.HandleFunc("/opportunities/{id}/cancel", opportunityHandler.CancelOpportunity).Methods("POST")
	}

	if deps != nil && deps.Trades != nil {
		tradeHandler := handlers.NewTradeHandler(deps.Trades)
		api.HandleFunc("/trades", tradeHandler.GetTrades).Methods("GET")
		api.HandleFunc("/opportunities/{id}/trades", tradeHandler.GetOpportunityTrades).Methods("GET")
	}

	if deps != nil && deps.Transfers != nil {
		transferHandler := handlers.NewTransferHandler(deps.Transfers, deps.FundsRouter)
		api.HandleFunc("/transfers", transferHandler.GetTransfers).Methods("GET")
		api.HandleFunc("/transfers/pending", transferHandler.GetPendingTransfers).Methods("GET")
		api.HandleFunc("/transfers/{id}", transferHandler.GetTransfer).Methods("GET")
		api.HandleFunc("/fees/{currency}", transferHandler.GetWithdrawalFee).Methods("GET")
		if deps.FundsRouter != nil {
			api.HandleFunc("/transfers", transferHandler.CreateTransfer).Methods("POST")
		}
	}

	if deps != nil && deps.Venues != nil && deps.VenueStatuses != nil {
		exchangeHandler := handlers.NewExchangeHandler(deps.Venues, deps.VenueStatuses, deps.Recycler)
		api.HandleFunc("/exchanges", exchangeHandler.GetExchanges).Methods("GET")
		api.HandleFunc("/exchanges/{name}/balances", exchangeHandler.GetExchangeBalances).Methods("GET")
		if deps.Recycler != nil {
			api.HandleFunc("/exchanges/{name}/refresh", exchangeHandler.RefreshExchange).Methods("POST")
		}
	}

	if deps != nil && deps.Stats != nil {
		statsHandler := handlers.NewStatsHandler(deps.Stats, deps.Executor)
		api.HandleFunc("/stats", statsHandler.GetStats).Methods("GET")
		api.HandleFunc("/stats/daily-profit", statsHandler.GetDailyProfit).Methods("GET")
	}

	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
