package handlers

import (
	"context"
	"net/http"
	"time"

	"roomchat/internal/realtime"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandlers struct {
	db     Pinger
	engine *realtime.Engine
}

func NewHealthHandlers(db Pinger, engine *realtime.Engine) *HealthHandlers {
	return &HealthHandlers{db: db, engine: engine}
}

func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code, dbStatus := "OK", http.StatusOK, "up"
	if err := h.db.Ping(ctx); err != nil {
		status, code, dbStatus = "DEGRADED", http.StatusServiceUnavailable, "down"
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"database":  dbStatus,
		"sessions":  h.engine.SessionCount(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
