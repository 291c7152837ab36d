package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"docvault/internal/auth"
)

const progressInterval = 500 * time.Millisecond

// UploadProgressEvent - событие прогресса пакетной загрузки
type UploadProgressEvent struct {
	Percentage float64 `json:"percentage"`
	Status     string  `json:"status"`
	Total      int     `json:"total"`
	Failed     int     `json:"failed,omitempty"`
}

// progressTracker хранит прогресс последней пакетной загрузки каждого пользователя
type progressTracker struct {
	mu     sync.RWMutex
	byUser map[string]UploadProgressEvent
}

func newProgressTracker() *progressTracker {
	return &progressTracker{byUser: make(map[string]UploadProgressEvent)}
}

func (p *progressTracker) set(userID string, event UploadProgressEvent) {
	p.mu.Lock()
	p.byUser[userID] = event
	p.mu.Unlock()
}

func (p *progressTracker) get(userID string) (UploadProgressEvent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	event, ok := p.byUser[userID]
	return event, ok
}

// GetUploadProgress отдает SSE события о прогрессе пакетной загрузки пользователя
func (h *FileHandler) GetUploadProgress(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var last UploadProgressEvent
	sent := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			event, ok := h.progress.get(userID)
			if !ok || (sent && event == last) {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			last, sent = event, true
		}
	}
}
