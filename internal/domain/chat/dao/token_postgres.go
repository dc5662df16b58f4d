package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTokenInvalid means the bearer token is unknown or expired
var ErrTokenInvalid = errors.New("invalid or expired token")

// TokenPostgres verifies opaque bearer tokens against the api_tokens
// table. Credential issuance lives with the external identity provider;
// the chat core only resolves a token to a verified user id.
type TokenPostgres struct {
	pool *pgxpool.Pool
}

// NewTokenPostgres creates a new PostgreSQL token verifier
func NewTokenPostgres(pool *pgxpool.Pool) *TokenPostgres {
	return &TokenPostgres{pool: pool}
}

// VerifyToken resolves a bearer token to the user it identifies.
func (r *TokenPostgres) VerifyToken(ctx context.Context, token string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT user_id
		FROM api_tokens
		WHERE token = $1 AND (expires_at IS NULL OR expires_at > now())
	`, token).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrTokenInvalid
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("verifying token: %w", err)
	}
	return userID, nil
}
