package handlers

import (
	"net/http"
	"slices"
	"strings"

	"roomchat/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	Auth      *AuthHandlers
	Rooms     *RoomHandlers
	Health    *HealthHandlers
	WebSocket *WebSocketHandlers

	AllowedOrigins []string
	// MetricsPath is empty when metrics are disabled.
	MetricsPath string
	Gatherer    prometheus.Gatherer
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", rt.Health.Health)

	mux.HandleFunc("POST /api/users", rt.Auth.Register)
	mux.HandleFunc("POST /api/login", rt.Auth.Login)

	mux.HandleFunc("GET /api/rooms", rt.Rooms.ListRooms)
	mux.HandleFunc("POST /api/rooms", rt.Rooms.CreateRoom)
	mux.HandleFunc("GET /api/rooms/{roomId}/users", rt.Rooms.GetRoomUsers)
	mux.HandleFunc("GET /api/messages/{roomId}", rt.Rooms.GetMessages)

	mux.HandleFunc("GET /ws", rt.WebSocket.HandleWebSocket)

	if rt.MetricsPath != "" && rt.Gatherer != nil {
		mux.Handle("GET "+rt.MetricsPath, promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{}))
	}

	return corsMiddleware(rt.AllowedOrigins, mux)
}

func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	allowAll := len(allowed) == 0 || slices.Contains(allowed, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowed, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LogRoutes prints the registered endpoints at startup.
func LogRoutes(metricsPath string) {
	routes := []string{
		"GET  /api/health",
		"POST /api/users",
		"POST /api/login",
		"GET  /api/rooms",
		"POST /api/rooms",
		"GET  /api/rooms/{roomId}/users",
		"GET  /api/messages/{roomId}",
		"GET  /ws",
	}
	if metricsPath != "" {
		routes = append(routes, "GET  "+metricsPath)
	}
	logger.Info("API endpoints", "routes", strings.Join(routes, ", "))
}
