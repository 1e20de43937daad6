package models

// Snapshot is the last full buffer broadcast in a room, stored in Redis.
type Snapshot struct {
	Room      string `json:"room"`
	Content   string `json:"delta"`
	Timestamp int64  `json:"ts"`       // Unix ms
	User      string `json:"user"`
	ClientID  string `json:"clientId"`
}
