package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Single-use token repository errors
var (
	ErrTokenNotFound = errors.New("single-use token not found")
)

// TokenRepository defines the interface for single-use token data access
type TokenRepository interface {
	Create(ctx context.Context, token *SingleUseToken) error
	SupersedeActive(ctx context.Context, accountID uuid.UUID, purpose TokenPurpose) (int64, error)
	Consume(ctx context.Context, fingerprint string, purpose TokenPurpose, accountID *uuid.UUID, now time.Time) (*SingleUseToken, error)
	GetActiveByFingerprint(ctx context.Context, fingerprint string, purpose TokenPurpose, now time.Time) (*SingleUseToken, error)
	CleanupExpired(ctx context.Context, before time.Time) (int64, error)
}

// tokenRepository implements TokenRepository using PostgreSQL
type tokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository creates a new TokenRepository instance
func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

// Create inserts a new single-use token record. Only the fingerprint of the
// issued opaque value is stored.
func (r *tokenRepository) Create(ctx context.Context, token *SingleUseToken) error {
	query := `
		INSERT INTO single_use_tokens (account_id, purpose, token_fingerprint, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	return r.pool.QueryRow(ctx, query,
		token.AccountID,
		token.Purpose,
		token.TokenFingerprint,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

// SupersedeActive marks every unconsumed token for (account, purpose) as used,
// so only the most recently issued token is authoritative. A superseded token
// presented later fails like any spent one.
func (r *tokenRepository) SupersedeActive(ctx context.Context, accountID uuid.UUID, purpose TokenPurpose) (int64, error) {
	query := `
		UPDATE single_use_tokens
		SET used = TRUE
		WHERE account_id = $1 AND purpose = $2 AND used = FALSE
	`

	result, err := r.pool.Exec(ctx, query, accountID, purpose)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// Consume atomically flips used on a matching unused, unexpired token and
// returns it. The WHERE clause is the compare-and-set: two concurrent
// presentations of the same value can succeed at most once. Any
// mismatch/expiry/already-used reads as ErrTokenNotFound without revealing
// which condition failed.
func (r *tokenRepository) Consume(ctx context.Context, fingerprint string, purpose TokenPurpose, accountID *uuid.UUID, now time.Time) (*SingleUseToken, error) {
	query := `
		UPDATE single_use_tokens
		SET used = TRUE
		WHERE token_fingerprint = $1
		  AND purpose = $2
		  AND used = FALSE
		  AND expires_at > $3
		  AND ($4::uuid IS NULL OR account_id = $4)
		RETURNING id, account_id, purpose, token_fingerprint, expires_at, used, created_at
	`

	token := &SingleUseToken{}
	err := r.pool.QueryRow(ctx, query, fingerprint, purpose, now, accountID).Scan(
		&token.ID,
		&token.AccountID,
		&token.Purpose,
		&token.TokenFingerprint,
		&token.ExpiresAt,
		&token.Used,
		&token.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	return token, nil
}

// GetActiveByFingerprint is the non-consuming lookup used to pre-validate a
// password-reset token. It never mutates the row; only Consume spends it.
func (r *tokenRepository) GetActiveByFingerprint(ctx context.Context, fingerprint string, purpose TokenPurpose, now time.Time) (*SingleUseToken, error) {
	query := `
		SELECT id, account_id, purpose, token_fingerprint, expires_at, used, created_at
		FROM single_use_tokens
		WHERE token_fingerprint = $1
		  AND purpose = $2
		  AND used = FALSE
		  AND expires_at > $3
	`

	token := &SingleUseToken{}
	err := r.pool.QueryRow(ctx, query, fingerprint, purpose, now).Scan(
		&token.ID,
		&token.AccountID,
		&token.Purpose,
		&token.TokenFingerprint,
		&token.ExpiresAt,
		&token.Used,
		&token.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	return token, nil
}

// CleanupExpired removes tokens past their expiry. Spent and expired tokens
// are inert regardless; this keeps the table small.
func (r *tokenRepository) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM single_use_tokens WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
