package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/affiliatehub/commission-service/internal/domain"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, code int, data interface{}) {
	respondWithJSON(w, code, envelope{Success: true, Data: data})
}

func respondWithMessage(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, envelope{Error: &apiError{Code: code, Message: message}})
}

// respondWithError maps a service error to a status and a stable code.
// Unclassified errors are logged and reported without detail.
func respondWithError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusForKind(domain.KindOf(err))
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	respondWithMessage(w, status, domain.ErrorCode(err), domain.PublicMessage(err))
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
