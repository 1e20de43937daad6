package hub

import (
	"encoding/json"
	"regexp"
)

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

// Room name validation: alphanumeric, hyphens, underscores, dots, 1-50 chars
var roomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,50}$`)

// ValidRoom reports whether name is an acceptable room identifier.
// "." and ".." are refused since they cannot be addressed as a path segment.
func ValidRoom(name string) bool {
	return name != "." && name != ".." && roomNameRegex.MatchString(name)
}

// Envelope is one event frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is sent by clients on join and leave.
type JoinPayload struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// CodeChange carries a full-buffer snapshot. It is rebroadcast unchanged as code_update.
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

// CursorMove is sent by a client when its caret moves.
type CursorMove struct {
	Room string    `json:"room"`
	User string    `json:"user"`
	Pos  *Position `json:"pos"`
}

// CursorUpdate is delivered to the other members of the room.
type CursorUpdate struct {
	User string    `json:"user"`
	Pos  *Position `json:"pos"`
}

// Presence is used for both presence_ping and presence_pong.
type Presence struct {
	Room string `json:"room,omitempty"`
	User string `json:"user"`
}

// SystemMessage announces membership changes.
type SystemMessage struct {
	Msg  string `json:"msg"`
	User string `json:"user"`
	Kind string `json:"kind"` // "join" or "leave"
}

// ErrorMessage reports a rejected client event.
type ErrorMessage struct {
	Msg string `json:"msg"`
}

// encode builds a frame for event with the given payload.
func encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
