package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	DefaultDialTimeout       = 10 * time.Second

	// DefaultReadTimeout outlasts the relay's ping period; a silent socket past it is dead.
	DefaultReadTimeout = 75 * time.Second

	// DefaultHeartbeat is half the relay's presence window.
	DefaultHeartbeat = 15 * time.Second

	writeWait = 10 * time.Second
)

// ErrClosed is returned for operations on a closed session or connection.
var ErrClosed = errors.New("collab: closed")

type dialConfig struct {
	base     string
	token    string
	attempts int
	delay    time.Duration
	timeout  time.Duration
	idle     time.Duration
}

// transport is one WebSocket connection bound to a room.
type transport struct {
	room string
	ws   *websocket.Conn
	log  zerolog.Logger
	idle time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// roomURL appends the room hint and token to the WebSocket base.
func roomURL(base, room, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse ws base: %w", err)
	}
	q := u.Query()
	q.Set("room", room)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dialRoom connects with a constant delay between attempts and a fixed attempt budget.
// A 4xx handshake answer is not retried.
func dialRoom(ctx context.Context, cfg dialConfig, room string, log zerolog.Logger) (*transport, error) {
	target, err := roomURL(cfg.base, room, cfg.token)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.timeout,
	}

	var ws *websocket.Conn
	attempt := 0
	operation := func() error {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
		defer cancel()

		c, resp, err := dialer.DialContext(dialCtx, target, nil)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(&APIError{Status: resp.StatusCode, Message: "websocket handshake rejected"})
			}
			log.Warn().Err(err).Int("attempt", attempt).Str("room", room).Msg("dial failed")
			return err
		}
		ws = c
		return nil
	}

	attempts := cfg.attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.delay), uint64(attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, fmt.Errorf("dial room %q: %w", room, err)
	}

	return &transport{
		room: room,
		ws:   ws,
		log:  log.With().Str("room", room).Logger(),
		idle: cfg.idle,
		done: make(chan struct{}),
	}, nil
}

// emit writes one event frame.
func (t *transport) emit(event string, payload interface{}) error {
	frame, err := encode(event, payload)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	t.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return t.ws.WriteMessage(websocket.TextMessage, frame)
}

// extend pushes the read deadline out by the idle timeout.
func (t *transport) extend() {
	if t.idle > 0 {
		t.ws.SetReadDeadline(time.Now().Add(t.idle))
	}
}

// readLoop delivers frames to fn until the connection fails or is closed.
// Any frame or relay ping keeps the connection alive; silence past the idle timeout fails it.
func (t *transport) readLoop(fn func(event string, data json.RawMessage)) error {
	t.extend()
	t.ws.SetPingHandler(func(appData string) error {
		t.extend()
		err := t.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	t.ws.SetPongHandler(func(string) error {
		t.extend()
		return nil
	})

	for {
		_, message, err := t.ws.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				return ErrClosed
			default:
				return err
			}
		}
		t.extend()

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			t.log.Debug().Msg("dropping malformed frame")
			continue
		}
		fn(env.Event, env.Data)
	}
}

func (t *transport) close() {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		close(t.done)
		t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.ws.Close()
	})
}
