// Package hub relays room-scoped editing events between WebSocket participants.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/codecollab/codecollab/internal/crypto"
	"github.com/codecollab/codecollab/internal/metrics"
	"github.com/codecollab/codecollab/internal/models"
)

const storeTimeout = 2 * time.Second

// SnapshotStore keeps the latest buffer and presence per room.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) (bool, error)
	GetSnapshot(ctx context.Context, room string) (*models.Snapshot, error)
	TouchPresence(ctx context.Context, room, user string) error
	RemovePresence(ctx context.Context, room, user string) error
}

// RoomLog records room activity in the database.
type RoomLog interface {
	EnsureRoom(ctx context.Context, name string) (*models.Room, error)
	IncrementEditCount(ctx context.Context, id uuid.UUID) error
	UpdateRoomActivity(ctx context.Context, id uuid.UUID) error
}

// Relay fans frames out to other server instances.
type Relay interface {
	PublishEvent(ctx context.Context, payload []byte) error
	SubscribeEvents(ctx context.Context, fn func(payload []byte)) error
}

// TokenVerifier validates session tokens presented on connect.
type TokenVerifier interface {
	Verify(token string) (*crypto.Claims, error)
}

// Options configures a Hub. Every field is optional.
type Options struct {
	Snapshots      SnapshotStore
	Rooms          RoomLog
	Relay          Relay
	Tokens         TokenVerifier
	RequireAuth    bool
	AllowedOrigins []string
}

// Hub tracks room membership and rebroadcasts events.
type Hub struct {
	log        zerolog.Logger
	opts       Options
	instanceID string
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	rooms   map[string]map[*Conn]struct{}
	conns   map[*Conn]struct{}
	roomIDs map[string]uuid.UUID
}

// relayMessage is what travels between instances.
type relayMessage struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// New creates a hub.
func New(logger zerolog.Logger, opts Options) *Hub {
	h := &Hub{
		log:        logger.With().Str("component", "hub").Logger(),
		opts:       opts,
		instanceID: crypto.NewConnID(),
		rooms:      make(map[string]map[*Conn]struct{}),
		conns:      make(map[*Conn]struct{}),
		roomIDs:    make(map[string]uuid.UUID),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run consumes the cross-instance relay until ctx is done. Without a relay it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.opts.Relay == nil {
		<-ctx.Done()
		return nil
	}
	err := h.opts.Relay.SubscribeEvents(ctx, h.handleRelay)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("relay subscription: %w", err)
	}
	return nil
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	h.log.Warn().Str("origin", origin).Msg("rejected websocket origin")
	return false
}

// ServeWS upgrades the request and starts the connection pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var authUser string
	token := r.URL.Query().Get("token")
	switch {
	case token != "" && h.opts.Tokens != nil:
		claims, err := h.opts.Tokens.Verify(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		authUser = claims.Name
		if authUser == "" {
			authUser = claims.Email
		}
	case h.opts.RequireAuth:
		http.Error(w, `{"error":"token required"}`, http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newConn(h, ws, crypto.NewConnID(), authUser)
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()

	c.log.Info().
		Str("remote_addr", r.RemoteAddr).
		Str("room_hint", r.URL.Query().Get("room")).
		Msg("websocket connected")

	go c.writePump()
	go c.readPump()
}

// Close disconnects every participant.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

// Stats reports local room and connection counts.
func (h *Hub) Stats() (rooms, conns int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.conns)
}

// Members returns the sorted user labels connected locally to room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		users = append(users, c.user)
	}
	sort.Strings(users)
	return users
}

func (h *Hub) unregister(c *Conn) {
	h.leave(c, "")

	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		metrics.ConnectionsActive.Dec()
	}
	h.mu.Unlock()

	c.log.Info().Msg("websocket disconnected")
}

// dispatch handles one inbound frame.
func (h *Hub) dispatch(c *Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		c.log.Debug().Err(err).Msg("dropping malformed frame")
		return
	}
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	var err error
	switch env.Event {
	case EventJoin:
		var p JoinPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			h.join(c, p)
		}
	case EventLeave:
		var p JoinPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			h.leave(c, p.Room)
		}
	case EventCodeChange:
		var p CodeChange
		if err = json.Unmarshal(env.Data, &p); err == nil {
			h.codeChange(c, p)
		}
	case EventCursorMove:
		var p CursorMove
		if err = json.Unmarshal(env.Data, &p); err == nil {
			h.cursorMove(c, p)
		}
	case EventPresencePing:
		var p Presence
		if err = json.Unmarshal(env.Data, &p); err == nil {
			h.presence(c, p)
		}
	default:
		metrics.EventsDropped.WithLabelValues("unknown_event").Inc()
		c.log.Debug().Str("event", env.Event).Msg("dropping unknown event")
		return
	}

	if err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		c.log.Debug().Err(err).Str("event", env.Event).Msg("dropping malformed payload")
	}
}

// label picks the user label for an event: the verified identity wins.
func (c *Conn) label(claimed string) string {
	if c.authUser != "" {
		return c.authUser
	}
	if claimed = strings.TrimSpace(claimed); claimed != "" {
		return claimed
	}
	if c.user != "" {
		return c.user
	}
	return "guest"
}

func (h *Hub) join(c *Conn, p JoinPayload) {
	room := strings.TrimSpace(p.Room)
	if !ValidRoom(room) {
		h.reject(c, "invalid room name")
		return
	}

	h.mu.RLock()
	current := c.room
	h.mu.RUnlock()
	if current == room {
		return
	}
	if current != "" {
		h.leave(c, current)
	}

	h.mu.Lock()
	c.room = room
	c.user = c.label(p.User)
	user := c.user
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
		metrics.RoomsActive.Inc()
	}
	members[c] = struct{}{}
	h.mu.Unlock()

	c.log.Info().Str("room", room).Str("user", user).Msg("joined room")

	h.broadcastEvent(room, EventSystem, SystemMessage{Msg: user + " joined", User: user, Kind: "join"}, "")

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if h.opts.Rooms != nil {
		if r, err := h.opts.Rooms.EnsureRoom(ctx, room); err != nil {
			h.log.Error().Err(err).Str("room", room).Msg("failed to record room")
		} else if r != nil {
			h.mu.Lock()
			h.roomIDs[room] = r.ID
			h.mu.Unlock()
		}
	}

	h.touchPresence(ctx, room, user)
	if h.opts.Snapshots != nil {
		snap, err := h.opts.Snapshots.GetSnapshot(ctx, room)
		if err != nil {
			h.log.Warn().Err(err).Str("room", room).Msg("snapshot lookup failed")
		} else if snap != nil {
			frame, err := encode(EventCodeUpdate, CodeChange{
				Room:     snap.Room,
				Delta:    snap.Content,
				TS:       snap.Timestamp,
				User:     snap.User,
				ClientID: snap.ClientID,
			})
			if err == nil {
				c.enqueue(frame)
			}
		}
	}
}

// leave removes c from its room. A non-empty room must match the current one.
func (h *Hub) leave(c *Conn, room string) {
	h.mu.Lock()
	current := c.room
	if current == "" || (room != "" && room != current) {
		h.mu.Unlock()
		return
	}
	user := c.user
	members := h.rooms[current]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, current)
		delete(h.roomIDs, current)
		metrics.RoomsActive.Dec()
	}
	c.room = ""
	h.mu.Unlock()

	c.log.Info().Str("room", current).Str("user", user).Msg("left room")

	h.broadcastEvent(current, EventSystem, SystemMessage{Msg: user + " left", User: user, Kind: "leave"}, "")

	if h.opts.Snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := h.opts.Snapshots.RemovePresence(ctx, current, user); err != nil {
			h.log.Warn().Err(err).Msg("presence removal failed")
		}
	}
}

// currentRoom returns c's room if it matches claimed (or claimed is empty).
func (h *Hub) currentRoom(c *Conn, claimed string) (string, string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.room == "" || (claimed != "" && claimed != c.room) {
		return "", "", false
	}
	return c.room, c.user, true
}

func (h *Hub) codeChange(c *Conn, p CodeChange) {
	room, user, ok := h.currentRoom(c, p.Room)
	if !ok {
		metrics.EventsDropped.WithLabelValues("not_joined").Inc()
		h.reject(c, "join a room before editing")
		return
	}

	p.Room = room
	if c.authUser != "" || p.User == "" {
		p.User = user
	}
	if p.TS == 0 {
		p.TS = time.Now().UnixMilli()
	}
	metrics.SnapshotBytes.Observe(float64(len(p.Delta)))

	h.broadcastEvent(room, EventCodeUpdate, p, c.id)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	h.touchPresence(ctx, room, user)
	if h.opts.Snapshots != nil {
		_, err := h.opts.Snapshots.SaveSnapshot(ctx, &models.Snapshot{
			Room:      room,
			Content:   p.Delta,
			Timestamp: p.TS,
			User:      p.User,
			ClientID:  p.ClientID,
		})
		if err != nil {
			h.log.Warn().Err(err).Str("room", room).Msg("snapshot save failed")
		}
	}

	if h.opts.Rooms != nil {
		h.mu.RLock()
		id, known := h.roomIDs[room]
		h.mu.RUnlock()
		if known {
			if err := h.opts.Rooms.IncrementEditCount(ctx, id); err != nil {
				h.log.Warn().Err(err).Str("room", room).Msg("edit count update failed")
			}
		}
	}
}

func (h *Hub) cursorMove(c *Conn, p CursorMove) {
	room, user, ok := h.currentRoom(c, p.Room)
	if !ok || p.Pos == nil {
		metrics.EventsDropped.WithLabelValues("not_joined").Inc()
		return
	}
	if c.authUser == "" && p.User != "" {
		user = p.User
	}
	h.broadcastEvent(room, EventCursorUpdate, CursorUpdate{User: user, Pos: p.Pos}, c.id)
}

func (h *Hub) presence(c *Conn, p Presence) {
	room, user, ok := h.currentRoom(c, p.Room)
	if !ok {
		metrics.EventsDropped.WithLabelValues("not_joined").Inc()
		return
	}
	h.broadcastEvent(room, EventPresencePong, Presence{User: user}, c.id)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	h.touchPresence(ctx, room, user)

	if h.opts.Rooms != nil {
		h.mu.RLock()
		id, known := h.roomIDs[room]
		h.mu.RUnlock()
		if known {
			if err := h.opts.Rooms.UpdateRoomActivity(ctx, id); err != nil {
				h.log.Warn().Err(err).Str("room", room).Msg("room activity update failed")
			}
		}
	}
}

// touchPresence marks user as seen in room. Joins, edits and pings all count.
func (h *Hub) touchPresence(ctx context.Context, room, user string) {
	if h.opts.Snapshots == nil {
		return
	}
	if err := h.opts.Snapshots.TouchPresence(ctx, room, user); err != nil {
		h.log.Warn().Err(err).Str("room", room).Msg("presence update failed")
	}
}

func (h *Hub) reject(c *Conn, msg string) {
	c.enqueueEvent(EventError, ErrorMessage{Msg: msg})
}

func (c *Conn) enqueueEvent(event string, payload interface{}) {
	frame, err := encode(event, payload)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("failed to encode frame")
		return
	}
	c.enqueue(frame)
}

// broadcastEvent delivers to the room's local members except the given
// connection, and to other instances through the relay.
func (h *Hub) broadcastEvent(room, event string, payload interface{}, except string) {
	frame, err := encode(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode frame")
		return
	}

	h.deliver(room, frame, except)

	if h.opts.Relay != nil {
		msg, err := json.Marshal(relayMessage{Origin: h.instanceID, Room: room, Except: except, Frame: frame})
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := h.opts.Relay.PublishEvent(ctx, msg); err != nil {
			h.log.Warn().Err(err).Msg("relay publish failed")
		}
	}
}

func (h *Hub) deliver(room string, frame []byte, except string) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c.id != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

func (h *Hub) handleRelay(payload []byte) {
	var msg relayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.log.Warn().Err(err).Msg("dropping malformed relay message")
		return
	}
	if msg.Origin == h.instanceID {
		return
	}
	h.deliver(msg.Room, msg.Frame, msg.Except)
}
