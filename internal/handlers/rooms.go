package handlers

import (
	"net/http"
	"strconv"
)

// RoomInfo represents a room in the list response.
type RoomInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	EditCount  int64  `json:"edit_count"`
	Online     int    `json:"online"`
	LastActive string `json:"last_active"`
}

// RoomListResponse represents the rooms list response.
type RoomListResponse struct {
	Rooms []RoomInfo `json:"rooms"`
	Total int        `json:"total"`
}

// ListRooms handles listing rooms (authenticated).
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	limit := 20
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	rooms, total, err := h.db.ListRooms(r.Context(), limit, offset)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	infos := make([]RoomInfo, len(rooms))
	for i, room := range rooms {
		infos[i] = RoomInfo{
			ID:         room.ID.String(),
			Name:       room.Name,
			EditCount:  room.EditCount,
			Online:     len(h.onlineUsers(r, room.Name)),
			LastActive: room.LastActiveAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}

	h.JSON(w, http.StatusOK, RoomListResponse{
		Rooms: infos,
		Total: total,
	})
}

// onlineUsers prefers the cross-instance presence set and falls back to local members.
func (h *Handler) onlineUsers(r *http.Request, room string) []string {
	if h.redis != nil {
		if users, err := h.redis.OnlineUsers(r.Context(), room); err == nil {
			return users
		}
	}
	if h.live != nil {
		return h.live.Members(room)
	}
	return []string{}
}
