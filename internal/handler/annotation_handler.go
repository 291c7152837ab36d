package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"docvault/internal/auth"
	"docvault/internal/domain"
	"docvault/internal/service"
)

type AnnotationHandler struct {
	annotations *service.AnnotationService
	guard       service.Guard
	enforce     bool
	logger      *zap.Logger
}

type annotationRequest struct {
	Type     domain.AnnotationType `json:"type"`
	Content  json.RawMessage       `json:"content"`
	Position *domain.Position      `json:"position,omitempty"`
}

func NewAnnotationHandler(annotations *service.AnnotationService, guard service.Guard, enforce bool, logger *zap.Logger) *AnnotationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnnotationHandler{annotations: annotations, guard: guard, enforce: enforce, logger: logger}
}

func (h *AnnotationHandler) ListAnnotations(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok || !authorize(w, r, h.guard, h.enforce, fileID, domain.CapabilityRead, h.logger) {
		return
	}

	list, err := h.annotations.GetAnnotations(r.Context(), fileID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AnnotationHandler) AddAnnotation(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok || !authorize(w, r, h.guard, h.enforce, fileID, domain.CapabilityWrite, h.logger) {
		return
	}

	var req annotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	content, err := domain.DecodeAnnotationContent(req.Type, req.Content)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	annotation, err := h.annotations.AddAnnotation(r.Context(), fileID, auth.UserID(r.Context()), content, req.Position)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, annotation)
}

// UpdateAnnotation меняет содержимое и/или позицию; для смены содержимого нужен тот же type
func (h *AnnotationHandler) UpdateAnnotation(w http.ResponseWriter, r *http.Request) {
	fileID, annotationID, ok := annotationParams(w, r)
	if !ok || !authorize(w, r, h.guard, h.enforce, fileID, domain.CapabilityWrite, h.logger) {
		return
	}

	var req annotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	update := domain.AnnotationUpdate{Position: req.Position}
	if len(req.Content) > 0 {
		content, err := domain.DecodeAnnotationContent(req.Type, req.Content)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		update.Content = content
	}

	annotation, err := h.annotations.UpdateAnnotation(r.Context(), annotationID, fileID, update)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if annotation == nil {
		http.Error(w, "Annotation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, annotation)
}

func (h *AnnotationHandler) DeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	fileID, annotationID, ok := annotationParams(w, r)
	if !ok || !authorize(w, r, h.guard, h.enforce, fileID, domain.CapabilityWrite, h.logger) {
		return
	}

	removed, err := h.annotations.DeleteAnnotation(r.Context(), annotationID, fileID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !removed {
		http.Error(w, "Annotation not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func annotationParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	annotationID, err := uuid.Parse(chi.URLParam(r, "annotationID"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid annotation ID %q", chi.URLParam(r, "annotationID")), http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return fileID, annotationID, true
}
