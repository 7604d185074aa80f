package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"roomchat/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

func roomIDFromPath(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("roomId"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
