package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"docvault/internal/auth"
	"docvault/internal/domain"
	"docvault/internal/service"
)

// ShareHandler управляет выдачей прав на файл другим пользователям
type ShareHandler struct {
	permissions *service.PermissionService
	logger      *zap.Logger
}

type grantRequest struct {
	UserID     string            `json:"userId"`
	Capability domain.Capability `json:"capability"`
}

type revokeResponse struct {
	Revoked bool `json:"revoked"`
}

func NewShareHandler(permissions *service.PermissionService, logger *zap.Logger) *ShareHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShareHandler{permissions: permissions, logger: logger}
}

// GetPermissions возвращает множества пользователей по каждому праву
func (h *ShareHandler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok || !authorize(w, r, h.permissions, true, fileID, domain.CapabilityRead, h.logger) {
		return
	}

	perms, err := h.permissions.Permissions(r.Context(), fileID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (h *ShareHandler) Grant(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.permissions.Grant(r.Context(), fileID, auth.UserID(r.Context()), req.UserID, req.Capability)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ShareHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	revoked, err := h.permissions.Revoke(r.Context(), fileID, auth.UserID(r.Context()),
		chi.URLParam(r, "userID"), domain.Capability(chi.URLParam(r, "capability")))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{Revoked: revoked})
}
