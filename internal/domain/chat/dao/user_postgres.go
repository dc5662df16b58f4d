package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/converso/internal/domain/chat/entity"
)

// UserPostgres implements the user reference store for PostgreSQL
type UserPostgres struct {
	pool *pgxpool.Pool
}

// NewUserPostgres creates a new PostgreSQL user repository
func NewUserPostgres(pool *pgxpool.Pool) *UserPostgres {
	return &UserPostgres{pool: pool}
}

const userColumns = `
	id, username, display_name, avatar_url, is_online, last_seen_at,
	created_at, updated_at`

// GetByID retrieves a user by ID
func (r *UserPostgres) GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByIDs retrieves all users matching the given ids
func (r *UserPostgres) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]entity.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []entity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading users: %w", err)
	}
	return users, nil
}

// CountExisting reports how many of the given ids resolve to users
func (r *UserPostgres) CountExisting(ctx context.Context, ids []uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE id = ANY($1)`, ids).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// ListOnline returns the ids of all users currently flagged online
func (r *UserPostgres) ListOnline(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE is_online`)
	if err != nil {
		return nil, fmt.Errorf("querying online users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading online users: %w", err)
	}
	return ids, nil
}

// SetPresence updates the best-effort presence flag and last-seen timestamp
func (r *UserPostgres) SetPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET is_online = $2, last_seen_at = $3, updated_at = now()
		WHERE id = $1
	`, id, online, lastSeen)
	if err != nil {
		return fmt.Errorf("updating presence: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*entity.User, error) {
	var u entity.User
	err := row.Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.IsOnline, &u.LastSeenAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}
