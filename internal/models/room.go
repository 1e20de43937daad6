package models

import (
	"time"

	"github.com/google/uuid"
)

// Room represents an editing room. Rooms are created on first join.
type Room struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	EditCount    int64     `json:"edit_count"`
}
