// Package handlers - HTTP handlers управляющего API.
// Каждый handler зависит от узкого интерфейса, конкретные
// реализации (репозитории, кэш, координатор) внедряются при сборке.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// MaxRequestBodySize ограничение размера тела запроса (1 MB)
const MaxRequestBodySize = 1 << 20

// defaultListLimit и maxListLimit ограничивают размер списочных ответов
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ErrorResponse стандартный формат ответа об ошибке
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON сериализует payload и отправляет его с указанным статусом
func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondWithError отправляет ошибку в стандартном формате
func respondWithError(w http.ResponseWriter, status int, message, details string) {
	respondWithJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// parseLimit читает query параметр limit с верхней границей
func parseLimit(r *http.Request) int {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
			if limit > maxListLimit {
				limit = maxListLimit
			}
		}
	}
	return limit
}

// parseID читает int64 идентификатор из path параметра
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
