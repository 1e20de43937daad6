package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codecollab/codecollab/internal/hub"
)

// SnapshotInfo is the last buffer broadcast in a room.
type SnapshotInfo struct {
	Content   string `json:"delta"`
	Timestamp int64  `json:"ts"`
	User      string `json:"user"`
}

// RoomDetailResponse represents a single room with its live state.
type RoomDetailResponse struct {
	Room     RoomInfo      `json:"room"`
	Online   []string      `json:"online"`
	Snapshot *SnapshotInfo `json:"snapshot,omitempty"`
}

// GetRoom returns a room with its online users and stored snapshot (authenticated).
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !hub.ValidRoom(name) {
		h.Error(w, http.StatusBadRequest, "invalid room name")
		return
	}

	room, err := h.db.GetRoomByName(r.Context(), name)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	online := h.onlineUsers(r, name)
	resp := RoomDetailResponse{
		Room: RoomInfo{
			ID:         room.ID.String(),
			Name:       room.Name,
			EditCount:  room.EditCount,
			Online:     len(online),
			LastActive: room.LastActiveAt.UTC().Format("2006-01-02T15:04:05Z"),
		},
		Online: online,
	}

	if h.redis != nil {
		snap, err := h.redis.GetSnapshot(r.Context(), name)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to fetch snapshot")
			return
		}
		if snap != nil {
			resp.Snapshot = &SnapshotInfo{
				Content:   snap.Content,
				Timestamp: snap.Timestamp,
				User:      snap.User,
			}
		}
	}

	h.JSON(w, http.StatusOK, resp)
}
