package collab

import "encoding/json"

// Event names on the wire.
const (
	EventJoin         = "join"
	EventLeave        = "leave"
	EventCodeChange   = "code_change"
	EventCodeUpdate   = "code_update"
	EventCursorMove   = "cursor_move"
	EventCursorUpdate = "cursor_update"
	EventPresencePing = "presence_ping"
	EventPresencePong = "presence_pong"
	EventSystem       = "system"
	EventError        = "error"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomUser struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// CodeChange is a full-buffer snapshot. Delta holds the whole buffer.
type CodeChange struct {
	Room     string `json:"room"`
	Delta    string `json:"delta"`
	TS       int64  `json:"ts"`
	User     string `json:"user"`
	ClientID string `json:"clientId"`
}

// Position is a 1-based editor position.
type Position struct {
	LineNumber int `json:"lineNumber"`
	Column     int `json:"column"`
}

type cursorMove struct {
	Room string    `json:"room"`
	User string    `json:"user"`
	Pos  *Position `json:"pos"`
}

type cursorUpdate struct {
	User string    `json:"user"`
	Pos  *Position `json:"pos"`
}

type presence struct {
	Room string `json:"room,omitempty"`
	User string `json:"user"`
}

// SystemEvent announces a join or leave.
type SystemEvent struct {
	Msg  string `json:"msg"`
	User string `json:"user"`
	Kind string `json:"kind"`
}

func encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Data: data})
}
