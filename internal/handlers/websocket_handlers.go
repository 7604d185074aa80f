package handlers

import (
	"net/http"
	"slices"

	"roomchat/internal/auth"
	"roomchat/internal/metrics"
	"roomchat/internal/realtime"
	ws "roomchat/internal/websocket"
	"roomchat/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	engine      *realtime.Engine
	hub         *ws.Hub
	opts        ws.Options
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, engine *realtime.Engine, hub *ws.Hub, opts ws.Options, allowedOrigins []string, m *metrics.Metrics) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		engine:      engine,
		hub:         hub,
		opts:        opts,
		metrics:     m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// HandleWebSocket upgrades the request. A token is optional; when present it
// must be valid and pins the connection to that user.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var ident *realtime.Identity
	if tokenStr := r.URL.Query().Get("token"); tokenStr != "" {
		user, err := h.authService.GetUserFromToken(r.Context(), tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ident = &realtime.Identity{UserID: user.ID, Username: user.Username}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := ws.NewClient(h.hub, conn, h.engine, h.authService, h.opts, h.metrics)
	client.Start(ident)
}
