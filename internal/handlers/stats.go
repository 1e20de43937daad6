package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers        int64  `json:"total_users"`
	TotalRooms        int64  `json:"total_rooms"`
	TotalEdits        int64  `json:"total_edits"`
	LastActivity      string `json:"last_activity"`
	LiveRooms         int    `json:"live_rooms"`
	ActiveConnections int    `json:"active_connections"`
}

// Stats returns platform statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalUsers, err := h.db.CountUsers(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count users")
		return
	}

	totalRooms, err := h.db.CountRooms(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count rooms")
		return
	}

	totalEdits, err := h.db.SumEditCount(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to sum edits")
		return
	}

	lastActivityTime, err := h.db.GetMostRecentActivity(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to get last activity")
		return
	}

	lastActivity := "no activity yet"
	if lastActivityTime != nil {
		lastActivity = formatTimeAgo(*lastActivityTime)
	}

	resp := StatsResponse{
		TotalUsers:   totalUsers,
		TotalRooms:   totalRooms,
		TotalEdits:   totalEdits,
		LastActivity: lastActivity,
	}
	if h.live != nil {
		resp.LiveRooms, resp.ActiveConnections = h.live.Stats()
	}

	h.JSON(w, http.StatusOK, resp)
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
