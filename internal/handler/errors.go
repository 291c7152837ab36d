package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"docvault/internal/domain"
)

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
	Remaining []int  `json:"remainingVersions,omitempty"`
}

// statusFor переводит ошибку сервиса в HTTP статус
func statusFor(err error) int {
	var incomplete *domain.IncompleteDeleteError
	switch {
	case errors.As(err, &incomplete):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrFileNotFound), errors.Is(err, domain.ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidAnnotation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrStorageWrite):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrStorageRead):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError отвечает JSON с ошибкой; внутренние ошибки логируются, а клиенту уходит общий текст
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var incomplete *domain.IncompleteDeleteError
	if errors.As(err, &incomplete) {
		resp.Remaining = incomplete.Remaining
	}
	if status == http.StatusServiceUnavailable {
		resp.Retryable = true
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		if status == http.StatusInternalServerError {
			resp.Error = "internal error"
		}
	}
	writeJSON(w, status, resp)
}
