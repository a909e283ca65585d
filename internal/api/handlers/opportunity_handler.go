package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cryptoarb/internal/models"
	"cryptoarb/internal/repository"
	"cryptoarb/pkg/utils"
)

// OpportunityStoreInterface - операции с возможностями в БД
type OpportunityStoreInterface interface {
	GetByID(id int64) (*models.Opportunity, error)
	GetRecent(limit int) ([]*models.Opportunity, error)
	GetByStatus(status string, limit int) ([]*models.Opportunity, error)
	UpdateStatus(id int64, from, to string) error
}

// OpportunityDetailsInterface - доступ к кэшированным цепочкам ног
type OpportunityDetailsInterface interface {
	GetOpportunity(ctx context.Context, id int64) (*models.OpportunityDetail, error)
	DeleteOpportunity(ctx context.Context, id int64) error
}

// ExecutorInterface - запуск исполнения возможности
type ExecutorInterface interface {
	Execute(ctx context.Context, id int64) error
	Active() []int64
}

// OpportunityResponse - возможность вместе с цепочкой ног, если она ещё в кэше
type OpportunityResponse struct {
	*models.Opportunity
	Detail *models.OpportunityDetail `json:"detail,omitempty"`
}

// OpportunityHandler обрабатывает запросы к арбитражным возможностям.
//
// Endpoints:
// - GET /api/v1/opportunities?status=&limit= - список возможностей
// - GET /api/v1/opportunities/{id} - возможность с цепочкой ног
// - POST /api/v1/opportunities/{id}/execute - запустить исполнение
// - POST /api/v1/opportunities/{id}/cancel - отменить возможность
type OpportunityHandler struct {
	store    OpportunityStoreInterface
	details  OpportunityDetailsInterface
	executor ExecutorInterface
}

// NewOpportunityHandler создает новый OpportunityHandler
func NewOpportunityHandler(store OpportunityStoreInterface, details OpportunityDetailsInterface, executor ExecutorInterface) *OpportunityHandler {
	return &OpportunityHandler{
		store:    store,
		details:  details,
		executor: executor,
	}
}

// GetOpportunities возвращает последние возможности.
// Фильтр по статусу задаётся query параметром status.
func (h *OpportunityHandler) GetOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	var (
		opps []*models.Opportunity
		err  error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		opps, err = h.store.GetByStatus(status, limit)
	} else {
		opps, err = h.store.GetRecent(limit)
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list opportunities", err.Error())
		return
	}

	if opps == nil {
		opps = []*models.Opportunity{}
	}
	respondWithJSON(w, http.StatusOK, opps)
}

// GetOpportunity возвращает возможность с цепочкой ног.
// Detail отсутствует, если TTL записи в кэше истёк.
func (h *OpportunityHandler) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid opportunity id", "")
		return
	}

	opp, err := h.store.GetByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrOpportunityNotFound) {
			respondWithError(w, http.StatusNotFound, "opportunity not found", "")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to get opportunity", err.Error())
		return
	}

	resp := OpportunityResponse{Opportunity: opp}
	detail, err := h.details.GetOpportunity(r.Context(), id)
	if err == nil {
		resp.Detail = detail
	} else if !errors.Is(err, redis.Nil) {
		utils.Warn("failed to read opportunity detail",
			zap.Int64("opportunity_id", id), zap.Error(err))
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// ExecuteOpportunity запускает исполнение возможности.
// Исполнение многоногого цикла занимает до нескольких минут,
// поэтому запускается в фоне, а ответ возвращается сразу.
//
// Ответы:
// - 202 Accepted: исполнение запущено
// - 404 Not Found: возможность не найдена
// - 409 Conflict: возможность не в статусе DETECTED
func (h *OpportunityHandler) ExecuteOpportunity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid opportunity id", "")
		return
	}

	opp, err := h.store.GetByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrOpportunityNotFound) {
			respondWithError(w, http.StatusNotFound, "opportunity not found", "")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to get opportunity", err.Error())
		return
	}
	if opp.Status != models.OppDetected {
		respondWithError(w, http.StatusConflict, "opportunity is not executable",
			"current status: "+opp.Status)
		return
	}

	go func() {
		if err := h.executor.Execute(context.Background(), id); err != nil {
			utils.Warn("manual execution finished with error",
				zap.Int64("opportunity_id", id), zap.Error(err))
		}
	}()

	respondWithJSON(w, http.StatusAccepted, SuccessResponse{Message: "execution started"})
}

// CancelOpportunity отменяет ещё не исполняемую возможность
//
// Ответы:
// - 200 OK: возможность отменена
// - 404 Not Found: возможность не найдена
// - 409 Conflict: возможность уже не в статусе DETECTED
func (h *OpportunityHandler) CancelOpportunity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid opportunity id", "")
		return
	}

	err := h.store.UpdateStatus(id, models.OppDetected, models.OppCanceled)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrOpportunityNotFound):
		respondWithError(w, http.StatusNotFound, "opportunity not found", "")
		return
	case errors.Is(err, repository.ErrStaleStatus):
		respondWithError(w, http.StatusConflict, "opportunity is not cancelable",
			"only DETECTED opportunities can be canceled")
		return
	default:
		respondWithError(w, http.StatusInternalServerError, "failed to cancel opportunity", err.Error())
		return
	}

	if err := h.details.DeleteOpportunity(r.Context(), id); err != nil {
		utils.Warn("failed to evict canceled opportunity",
			zap.Int64("opportunity_id", id), zap.Error(err))
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "opportunity canceled"})
}

// GetActiveExecutions возвращает ID возможностей, исполняемых прямо сейчас
func (h *OpportunityHandler) GetActiveExecutions(w http.ResponseWriter, r *http.Request) {
	active := h.executor.Active()
	if active == nil {
		active = []int64{}
	}
	respondWithJSON(w, http.StatusOK, active)
}
