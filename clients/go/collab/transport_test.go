package collab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomURL(t *testing.T) {
	raw, err := roomURL("ws://localhost:5000/ws", "my room", "tok")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/ws", u.Path)
	assert.Equal(t, "my room", u.Query().Get("room"))
	assert.Equal(t, "tok", u.Query().Get("token"))

	raw, err = roomURL("ws://localhost:5000/ws", "alpha", "")
	require.NoError(t, err)
	assert.NotContains(t, raw, "token")
}

func countingServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDialRetriesWithFixedBudget(t *testing.T) {
	srv, hits := countingServer(t, http.StatusServiceUnavailable)
	cfg := dialConfig{
		base:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		attempts: 3,
		delay:    5 * time.Millisecond,
		timeout:  time.Second,
	}

	_, err := dialRoom(context.Background(), cfg, "alpha", zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestDialDoesNotRetryRejectedHandshake(t *testing.T) {
	srv, hits := countingServer(t, http.StatusUnauthorized)
	cfg := dialConfig{
		base:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		attempts: 5,
		delay:    5 * time.Millisecond,
		timeout:  time.Second,
	}

	_, err := dialRoom(context.Background(), cfg, "alpha", zerolog.Nop())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestDialStopsOnCancel(t *testing.T) {
	srv, _ := countingServer(t, http.StatusServiceUnavailable)
	cfg := dialConfig{
		base:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		attempts: 100,
		delay:    time.Hour,
		timeout:  time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := dialRoom(ctx, cfg, "alpha", zerolog.Nop())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
