package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/codecollab/codecollab/internal/models"
)

// ErrDuplicateEmail is returned by CreateUser when the email is already taken.
var ErrDuplicateEmail = errors.New("email already registered")

// DataStore defines the interface for persistent storage of users and rooms.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, email, name, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Room operations
	EnsureRoom(ctx context.Context, name string) (*models.Room, error)
	GetRoomByName(ctx context.Context, name string) (*models.Room, error)
	ListRooms(ctx context.Context, limit, offset int) ([]models.Room, int, error)
	UpdateRoomActivity(ctx context.Context, id uuid.UUID) error
	IncrementEditCount(ctx context.Context, id uuid.UUID) error
	CountRooms(ctx context.Context) (int64, error)
	SumEditCount(ctx context.Context) (int64, error)
	GetMostRecentActivity(ctx context.Context) (*time.Time, error)
}
