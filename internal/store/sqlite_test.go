package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	user, err := s.CreateUser(ctx, "ada@example.com", "Ada", "")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.False(t, user.HasPassword())

	byEmail, err := s.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, user.ID, byEmail.ID)

	missing, err := s.GetUserByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.CreateUser(ctx, "ada@example.com", "Ada again", "")
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSQLiteRooms(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	last, err := s.GetMostRecentActivity(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	demo, err := s.EnsureRoom(ctx, "demo")
	require.NoError(t, err)
	again, err := s.EnsureRoom(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, demo.ID, again.ID)

	_, err = s.EnsureRoom(ctx, "other")
	require.NoError(t, err)

	require.NoError(t, s.IncrementEditCount(ctx, demo.ID))
	require.NoError(t, s.IncrementEditCount(ctx, demo.ID))

	got, err := s.GetRoomByName(ctx, "demo")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.EditCount)

	rooms, total, err := s.ListRooms(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, rooms, 2)

	sum, err := s.SumEditCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, sum)

	last, err = s.GetMostRecentActivity(ctx)
	require.NoError(t, err)
	assert.NotNil(t, last)

	none, err := s.GetRoomByName(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, none)
}
