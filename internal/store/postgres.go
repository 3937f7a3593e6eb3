package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ashureev/usba/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	tableUsers = "users"
	tableSlots = "session_slots"

	colUserID     = "user_id"
	colUsername   = "username"
	colLastSeenAt = "last_seen_at"
	colCreatedAt  = "created_at"
	colUpdatedAt  = "updated_at"
	colSlotKey    = "slot_key"
	colPayload    = "payload"
)

// psql builds queries with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore implements Repository on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (Repository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (p *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen_at);

	CREATE TABLE IF NOT EXISTS session_slots (
		user_id TEXT NOT NULL,
		slot_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, slot_key)
	);
	CREATE INDEX IF NOT EXISTS idx_session_slots_updated ON session_slots(updated_at);
	`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// GetUser retrieves a user by their user ID.
func (p *PostgresStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	sqlStr, args, err := psql.Select(colUserID, colUsername, colLastSeenAt, colCreatedAt, colUpdatedAt).
		From(tableUsers).
		Where(sq.Eq{colUserID: userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}

	var user domain.User
	err = p.pool.QueryRow(ctx, sqlStr, args...).Scan(
		&user.UserID, &user.Username, &user.LastSeenAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (p *PostgresStore) UpsertUser(ctx context.Context, user *domain.User) error {
	sqlStr, args, err := psql.Insert(tableUsers).
		Columns(colUserID, colUsername, colLastSeenAt, colCreatedAt, colUpdatedAt).
		Values(user.UserID, user.Username, user.LastSeenAt, user.CreatedAt, user.UpdatedAt).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username, last_seen_at = EXCLUDED.last_seen_at, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert user: %w", err)
	}
	if _, err := p.pool.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (p *PostgresStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	sqlStr, args, err := psql.Update(tableUsers).
		Set(colLastSeenAt, lastSeen).
		Set(colUpdatedAt, time.Now()).
		Where(sq.Eq{colUserID: userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update last_seen: %w", err)
	}

	tag, err := p.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// GetSlot returns the stored blob for (userID, key), or nil when absent.
func (p *PostgresStore) GetSlot(ctx context.Context, userID, key string) ([]byte, error) {
	sqlStr, args, err := psql.Select(colPayload).
		From(tableSlots).
		Where(sq.Eq{colUserID: userID, colSlotKey: key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build slot query: %w", err)
	}

	var payload []byte
	err = p.pool.QueryRow(ctx, sqlStr, args...).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session slot: %w", err)
	}
	return payload, nil
}

// PutSlot overwrites the blob for (userID, key).
func (p *PostgresStore) PutSlot(ctx context.Context, userID, key string, payload []byte) error {
	now := time.Now()
	sqlStr, args, err := psql.Insert(tableSlots).
		Columns(colUserID, colSlotKey, colPayload, colCreatedAt, colUpdatedAt).
		Values(userID, key, string(payload), now, now).
		Suffix("ON CONFLICT (user_id, slot_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert slot: %w", err)
	}
	if _, err := p.pool.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert session slot: %w", err)
	}
	return nil
}

// DeleteSlot removes the blob for (userID, key).
func (p *PostgresStore) DeleteSlot(ctx context.Context, userID, key string) error {
	sqlStr, args, err := psql.Delete(tableSlots).
		Where(sq.Eq{colUserID: userID, colSlotKey: key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete slot: %w", err)
	}
	if _, err := p.pool.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete session slot: %w", err)
	}
	return nil
}

// DeleteStaleSlots removes slots not written within olderThan.
func (p *PostgresStore) DeleteStaleSlots(ctx context.Context, olderThan time.Duration) (int64, error) {
	sqlStr, args, err := psql.Delete(tableSlots).
		Where(sq.Lt{colUpdatedAt: time.Now().Add(-olderThan)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete stale slots: %w", err)
	}
	tag, err := p.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("delete stale session slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close closes the pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
