package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecollab/codecollab/internal/models"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return newRedisStore(client), mr
}

func TestRedisSnapshotKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	missing, err := s.GetSnapshot(ctx, "demo")
	require.NoError(t, err)
	assert.Nil(t, missing)

	saved, err := s.SaveSnapshot(ctx, &models.Snapshot{Room: "demo", Content: "v2", Timestamp: 200, User: "ada", ClientID: "a"})
	require.NoError(t, err)
	assert.True(t, saved)

	tests := []struct {
		name  string
		ts    int64
		saved bool
		want  string
	}{
		{"older", 100, false, "v2"},
		{"equal", 200, false, "v2"},
		{"newer", 300, true, "later"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := "later"
			if !tt.saved {
				content = "stale"
			}
			ok, err := s.SaveSnapshot(ctx, &models.Snapshot{Room: "demo", Content: content, Timestamp: tt.ts, ClientID: "b"})
			require.NoError(t, err)
			assert.Equal(t, tt.saved, ok)

			got, err := s.GetSnapshot(ctx, "demo")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Content)
		})
	}

	got, err := s.GetSnapshot(ctx, "demo")
	require.NoError(t, err)
	assert.EqualValues(t, 300, got.Timestamp)
	assert.Greater(t, mr.TTL(snapshotKey("demo")), time.Duration(0))
}

func TestRedisSnapshotRoomsAreSeparate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)

	_, err := s.SaveSnapshot(ctx, &models.Snapshot{Room: "one", Content: "first", Timestamp: 500})
	require.NoError(t, err)
	ok, err := s.SaveSnapshot(ctx, &models.Snapshot{Room: "two", Content: "second", Timestamp: 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisPresenceWindow(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)

	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.TouchPresence(ctx, "demo", "ada"))
	now = now.Add(20 * time.Second)
	require.NoError(t, s.TouchPresence(ctx, "demo", "bob"))

	users, err := s.OnlineUsers(ctx, "demo")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ada", "bob"}, users)

	// ada was last seen 31s ago
	now = now.Add(11 * time.Second)
	users, err = s.OnlineUsers(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users)

	// a touch brings her back
	require.NoError(t, s.TouchPresence(ctx, "demo", "ada"))
	users, err = s.OnlineUsers(ctx, "demo")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ada", "bob"}, users)

	require.NoError(t, s.RemovePresence(ctx, "demo", "bob"))
	users, err = s.OnlineUsers(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"ada"}, users)
}

func TestRedisRelayPubSub(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.SubscribeEvents(ctx, func(payload []byte) {
			select {
			case got <- string(payload):
			default:
			}
		})
	}()

	// publish until the subscription is live
	require.Eventually(t, func() bool {
		require.NoError(t, s.PublishEvent(context.Background(), []byte(`{"room":"demo"}`)))
		select {
		case p := <-got:
			return p == `{"room":"demo"}`
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}
