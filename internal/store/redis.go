package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codecollab/codecollab/internal/models"
)

const (
	snapshotTTL = 7 * 24 * time.Hour
	presenceTTL = 30 * time.Second
	eventsTopic = "collab:events"
)

// RedisStore handles Redis operations for snapshots, presence and fan-out.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return newRedisStore(client), nil
}

func newRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Client returns the underlying client, or nil if the store is nil.
func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// snapshotKey returns the key holding a room's last snapshot.
func snapshotKey(room string) string {
	return fmt.Sprintf("room:%s:snapshot", room)
}

// presenceKey returns the key for a room's presence sorted set.
func presenceKey(room string) string {
	return fmt.Sprintf("room:%s:presence", room)
}

// saveIfNewer replaces the stored snapshot only when the incoming ts is strictly greater.
var saveIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, decoded = pcall(cjson.decode, cur)
	if ok and decoded['ts'] and tonumber(decoded['ts']) >= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// SaveSnapshot stores snap if it is newer than the stored one.
// It reports whether the snapshot was written.
func (s *RedisStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) (bool, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return false, err
	}

	res, err := saveIfNewer.Run(ctx, s.client,
		[]string{snapshotKey(snap.Room)},
		string(data), snap.Timestamp, snapshotTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// GetSnapshot returns the stored snapshot for a room, or nil.
func (s *RedisStore) GetSnapshot(ctx context.Context, room string) (*models.Snapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey(room)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// TouchPresence records that user was seen in room now.
func (s *RedisStore) TouchPresence(ctx context.Context, room, user string) error {
	key := presenceKey(room)
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(s.now().UnixMilli()),
		Member: user,
	})
	pipe.Expire(ctx, key, presenceTTL*2)
	_, err := pipe.Exec(ctx)
	return err
}

// RemovePresence drops user from room's presence set.
func (s *RedisStore) RemovePresence(ctx context.Context, room, user string) error {
	return s.client.ZRem(ctx, presenceKey(room), user).Err()
}

// OnlineUsers returns users seen in room within the presence window.
func (s *RedisStore) OnlineUsers(ctx context.Context, room string) ([]string, error) {
	minScore := fmt.Sprintf("%d", s.now().Add(-presenceTTL).UnixMilli())
	return s.client.ZRangeByScore(ctx, presenceKey(room), &redis.ZRangeBy{
		Min: minScore,
		Max: "+inf",
	}).Result()
}

// PublishEvent publishes a relay payload to every server instance.
func (s *RedisStore) PublishEvent(ctx context.Context, payload []byte) error {
	return s.client.Publish(ctx, eventsTopic, payload).Err()
}

// SubscribeEvents delivers relay payloads published by any instance until ctx is done.
func (s *RedisStore) SubscribeEvents(ctx context.Context, fn func(payload []byte)) error {
	pubsub := s.client.Subscribe(ctx, eventsTopic)
	defer pubsub.Close()

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn([]byte(msg.Payload))
		}
	}
}
