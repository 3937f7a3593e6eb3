// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/usba/internal/domain"
)

// Repository defines the interface for persisting devices and their session slots.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetSlot returns the blob stored under key for a user, or nil when absent.
	GetSlot(ctx context.Context, userID, key string) ([]byte, error)

	// PutSlot overwrites the blob stored under key for a user.
	PutSlot(ctx context.Context, userID, key string, payload []byte) error

	// DeleteSlot removes the blob stored under key for a user.
	DeleteSlot(ctx context.Context, userID, key string) error

	// DeleteStaleSlots removes slots not written within olderThan.
	DeleteStaleSlots(ctx context.Context, olderThan time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
