package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// ErrNoRoom is returned when a session is created or moved without a room.
var ErrNoRoom = errors.New("collab: room is required")

// Config configures a Session. Zero durations and counts take the package defaults.
type Config struct {
	WSBase   string // defaults to WSBase()
	Room     string
	User     string // defaults to "guest"
	Token    string // optional session token
	ClientID string // defaults to a fresh ULID

	Debounce          time.Duration
	CursorInterval    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	ReadTimeout       time.Duration
	Heartbeat         time.Duration

	Logger *zerolog.Logger

	OnCodeUpdate   func(content string)
	OnPeersChanged func(peers []Decoration)
	OnSystem       func(ev SystemEvent)
	OnPresence     func(user string)
	OnError        func(err error)
}

// Session keeps one participant connected to one room at a time.
type Session struct {
	cfg      Config
	dial     dialConfig
	log      zerolog.Logger
	user     string
	clientID string
	now      func() time.Time

	gate     *Gate
	peers    *Peers
	debounce *Debouncer[pendingEdit]
	throttle *Throttle

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	room    string
	conn    *transport
	content string
	opened  bool
	closed  bool
}

// pendingEdit is a buffer waiting out the debounce, bound to the room it was typed in.
type pendingEdit struct {
	room    string
	content string
}

// NewSession creates a session. Nothing is dialed until Open.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Room == "" {
		return nil, ErrNoRoom
	}
	if cfg.WSBase == "" {
		cfg.WSBase = WSBase()
	}
	if cfg.User == "" {
		cfg.User = "guest"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = ulid.Make().String()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.CursorInterval <= 0 {
		cfg.CursorInterval = DefaultCursorInterval
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg: cfg,
		dial: dialConfig{
			base:     cfg.WSBase,
			token:    cfg.Token,
			attempts: cfg.ReconnectAttempts,
			delay:    cfg.ReconnectDelay,
			timeout:  cfg.DialTimeout,
			idle:     cfg.ReadTimeout,
		},
		log:      log.With().Str("client_id", cfg.ClientID).Str("user", cfg.User).Logger(),
		user:     cfg.User,
		clientID: cfg.ClientID,
		now:      time.Now,
		gate:     NewGate(cfg.ClientID),
		peers:    NewPeers(),
		throttle: NewThrottle(cfg.CursorInterval),
		ctx:      ctx,
		cancel:   cancel,
		room:     cfg.Room,
	}
	s.debounce = NewDebouncer(cfg.Debounce, s.emitCode)
	return s, nil
}

// ClientID returns the per-session origin id stamped on every edit.
func (s *Session) ClientID() string {
	return s.clientID
}

// Room returns the active room.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Content returns the last buffer edited locally or applied from a peer.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Peers returns the current peer cursor decorations.
func (s *Session) Peers() []Decoration {
	return s.peers.Decorations()
}

// Open dials the active room and joins it.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	room := s.room
	s.mu.Unlock()

	return s.connect(ctx, room)
}

// SetRoom leaves the current room and joins another. Pending edits, the
// staleness gate and peer cursors are discarded.
func (s *Session) SetRoom(ctx context.Context, room string) error {
	if room == "" {
		return ErrNoRoom
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if room == s.room {
		s.mu.Unlock()
		return nil
	}
	old, oldRoom, opened := s.conn, s.room, s.opened
	s.room = room
	s.conn = nil
	s.debounce.Cancel()
	s.gate.Reset()
	s.peers.Clear()
	s.mu.Unlock()

	if old != nil {
		// Best effort; the socket is torn down either way
		old.emit(EventLeave, roomUser{Room: oldRoom, User: s.user})
		old.close()
	}
	s.log.Info().Str("from", oldRoom).Str("to", room).Msg("switching room")
	s.notifyPeers()

	if !opened {
		return nil
	}
	return s.connect(ctx, room)
}

// Edit records a local buffer change; it is broadcast once edits pause.
func (s *Session) Edit(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.content = content
	s.debounce.Trigger(pendingEdit{room: s.room, content: content})
	return nil
}

// Flush broadcasts a pending edit immediately.
func (s *Session) Flush() {
	s.debounce.Flush()
}

// MoveCursor broadcasts the local cursor, at most once per cursor interval.
func (s *Session) MoveCursor(pos Position) error {
	if !s.throttle.Allow() {
		return nil
	}
	t, room, err := s.active()
	if err != nil || t == nil {
		return err
	}
	return t.emit(EventCursorMove, cursorMove{Room: room, User: s.user, Pos: &pos})
}

// Ping announces presence to the room.
func (s *Session) Ping() error {
	t, room, err := s.active()
	if err != nil {
		return err
	}
	if t == nil {
		return ErrClosed
	}
	return t.emit(EventPresencePing, presence{Room: room, User: s.user})
}

// Close leaves the room and disconnects. Pending edits are dropped.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t, room := s.conn, s.room
	s.conn = nil
	s.mu.Unlock()

	s.debounce.Stop()
	s.cancel()
	if t != nil {
		t.emit(EventLeave, roomUser{Room: room, User: s.user})
		t.close()
	}
	return nil
}

func (s *Session) active() (*transport, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, "", ErrClosed
	}
	return s.conn, s.room, nil
}

// connect dials room and installs the connection unless the session moved on meanwhile.
func (s *Session) connect(ctx context.Context, room string) error {
	t, err := dialRoom(ctx, s.dial, room, s.log)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed || s.room != room {
		s.mu.Unlock()
		t.close()
		if s.closed {
			return ErrClosed
		}
		return nil
	}
	if s.conn != nil {
		s.conn.close()
	}
	s.conn = t
	s.mu.Unlock()

	if err := t.emit(EventJoin, roomUser{Room: room, User: s.user}); err != nil {
		t.close()
		return fmt.Errorf("join %q: %w", room, err)
	}
	s.log.Info().Str("room", room).Msg("joined room")

	go s.serve(t)
	go s.heartbeat(t)
	return nil
}

// serve reads from t until it fails, then redials the same room if t is still active.
func (s *Session) serve(t *transport) {
	err := t.readLoop(func(event string, data json.RawMessage) {
		s.handle(t, event, data)
	})

	s.mu.Lock()
	current := s.conn == t
	if current {
		s.conn = nil
	}
	closed := s.closed
	s.mu.Unlock()
	t.close()

	if !current || closed {
		return
	}

	s.log.Warn().Err(err).Str("room", t.room).Msg("connection lost, reconnecting")
	if err := s.connect(s.ctx, t.room); err != nil && !errors.Is(err, ErrClosed) {
		s.reportError(err)
	}
}

func (s *Session) handle(t *transport, event string, data json.RawMessage) {
	switch event {
	case EventCodeUpdate:
		var p CodeChange
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		s.mu.Lock()
		if s.conn != t || (p.Room != "" && p.Room != t.room) {
			s.mu.Unlock()
			return
		}
		if !s.gate.Accept(p.TS, p.ClientID) {
			s.mu.Unlock()
			s.log.Debug().Int64("ts", p.TS).Str("origin", p.ClientID).Msg("ignoring stale update")
			return
		}
		s.content = p.Delta
		s.mu.Unlock()

		if s.cfg.OnCodeUpdate != nil {
			s.cfg.OnCodeUpdate(p.Delta)
		}

	case EventCursorUpdate:
		var p cursorUpdate
		if err := json.Unmarshal(data, &p); err != nil || p.Pos == nil || p.User == "" {
			return
		}
		if !s.isActive(t) {
			return
		}
		s.peers.Update(p.User, *p.Pos)
		s.notifyPeers()

	case EventSystem:
		var p SystemEvent
		if err := json.Unmarshal(data, &p); err != nil || !s.isActive(t) {
			return
		}
		if p.Kind == "leave" && s.peers.Remove(p.User) {
			s.notifyPeers()
		}
		if s.cfg.OnSystem != nil {
			s.cfg.OnSystem(p)
		}

	case EventPresencePong:
		var p presence
		if err := json.Unmarshal(data, &p); err != nil || !s.isActive(t) {
			return
		}
		if s.cfg.OnPresence != nil {
			s.cfg.OnPresence(p.User)
		}

	case EventError:
		var p struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		s.reportError(fmt.Errorf("relay rejected event: %s", p.Msg))

	default:
		s.log.Debug().Str("event", event).Msg("ignoring unknown event")
	}
}

func (s *Session) isActive(t *transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == t
}

// heartbeat keeps the session's presence fresh while t is the active connection.
func (s *Session) heartbeat(t *transport) {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if !s.isActive(t) {
				return
			}
			if err := t.emit(EventPresencePing, presence{Room: t.room, User: s.user}); err != nil {
				s.log.Debug().Err(err).Msg("heartbeat failed")
				return
			}
		}
	}
}

// emitCode is the debouncer's sink. Edits typed in a room the session has left are dropped.
func (s *Session) emitCode(e pendingEdit) {
	t, room, err := s.active()
	if err != nil || t == nil {
		s.log.Debug().Msg("not connected, edit dropped")
		return
	}
	if room != e.room {
		s.log.Debug().Str("room", e.room).Msg("edit from previous room dropped")
		return
	}

	ts := s.now().UnixMilli()
	s.gate.Observe(ts)

	err = t.emit(EventCodeChange, CodeChange{
		Room:     room,
		Delta:    e.content,
		TS:       ts,
		User:     s.user,
		ClientID: s.clientID,
	})
	if err != nil {
		s.reportError(fmt.Errorf("emit code_change: %w", err))
	}
}

func (s *Session) notifyPeers() {
	if s.cfg.OnPeersChanged != nil {
		s.cfg.OnPeersChanged(s.peers.Decorations())
	}
}

func (s *Session) reportError(err error) {
	s.log.Error().Err(err).Msg("session error")
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}
