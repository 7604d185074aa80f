package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"roomchat/internal/models"
	"roomchat/internal/realtime"
	"roomchat/internal/services"
	"roomchat/pkg/logger"
)

type RoomHandlers struct {
	roomService *services.RoomService
	engine      *realtime.Engine
}

func NewRoomHandlers(roomService *services.RoomService, engine *realtime.Engine) *RoomHandlers {
	return &RoomHandlers{
		roomService: roomService,
		engine:      engine,
	}
}

func (h *RoomHandlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.roomService.ListRooms(r.Context())
	if err != nil {
		logger.Error("list rooms failed", "error", err)
		writeError(w, http.StatusInternalServerError, "error fetching rooms")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	room, err := h.roomService.CreateRoom(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidRoom):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrRoomExists):
			writeError(w, http.StatusConflict, err.Error())
		default:
			logger.Error("create room failed", "error", err)
			writeError(w, http.StatusInternalServerError, "error creating room")
		}
		return
	}

	writeJSON(w, http.StatusCreated, room)
}

// GetMessages returns the newest messages of a room, oldest first.
func (h *RoomHandlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	if _, err := h.roomService.GetRoom(r.Context(), roomID); err != nil {
		h.roomError(w, err)
		return
	}

	msgs, err := h.engine.History(r.Context(), roomID, limit)
	if err != nil {
		logger.Error("load messages failed", "room_id", roomID, "error", err)
		writeError(w, http.StatusInternalServerError, "error fetching messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// GetRoomUsers lists users with an open connection in the room.
func (h *RoomHandlers) GetRoomUsers(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	users, err := h.roomService.ActiveUsers(r.Context(), roomID)
	if err != nil {
		h.roomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *RoomHandlers) roomError(w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	logger.Error("room lookup failed", "error", err)
	writeError(w, http.StatusInternalServerError, "error fetching room")
}
