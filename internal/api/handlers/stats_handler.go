package handlers

import (
	"net/http"
	"strconv"

	"cryptoarb/internal/models"
	"cryptoarb/internal/repository"
)

// StatsStoreInterface - агрегаты по возможностям для статистики
type StatsStoreInterface interface {
	CountByStatus(status string) (int, error)
	GetDailyProfit(days int) ([]*repository.DailyProfit, error)
}

// StatsResponse - сводка работы движка
type StatsResponse struct {
	Opportunities    map[string]int `json:"opportunities"`
	ActiveExecutions []int64        `json:"active_executions"`
}

// StatsHandler обрабатывает запросы к статистике движка.
//
// Endpoints:
// - GET /api/v1/stats - счётчики возможностей по статусам
// - GET /api/v1/stats/daily-profit?days=30 - реализованная прибыль по дням
type StatsHandler struct {
	store    StatsStoreInterface
	executor ExecutorInterface
}

// NewStatsHandler создает новый StatsHandler
func NewStatsHandler(store StatsStoreInterface, executor ExecutorInterface) *StatsHandler {
	return &StatsHandler{store: store, executor: executor}
}

// statuses, попадающие в сводку
var statsStatuses = []string{
	models.OppDetected,
	models.OppPendingApproval,
	models.OppExecuting,
	models.OppCompleted,
	models.OppFailed,
	models.OppCanceled,
}

// GetStats возвращает счётчики возможностей по статусам
// и список исполняемых прямо сейчас возможностей
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts := make(map[string]int, len(statsStatuses))
	for _, status := range statsStatuses {
		count, err := h.store.CountByStatus(status)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "failed to count opportunities", err.Error())
			return
		}
		counts[status] = count
	}

	resp := StatsResponse{
		Opportunities:    counts,
		ActiveExecutions: []int64{},
	}
	if h.executor != nil {
		if active := h.executor.Active(); active != nil {
			resp.ActiveExecutions = active
		}
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// GetDailyProfit возвращает реализованную прибыль по дням.
// Горизонт задаётся query параметром days (по умолчанию 30, максимум 365).
func (h *StatsHandler) GetDailyProfit(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			days = parsed
			if days > 365 {
				days = 365
			}
		}
	}

	profit, err := h.store.GetDailyProfit(days)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get daily profit", err.Error())
		return
	}

	if profit == nil {
		profit = []*repository.DailyProfit{}
	}
	respondWithJSON(w, http.StatusOK, profit)
}
