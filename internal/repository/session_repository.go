package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the interface for session data access
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetActiveByRefreshFingerprint(ctx context.Context, fingerprint string, now time.Time) (*Session, error)
	UpdateAccess(ctx context.Context, id uuid.UUID, accessFingerprint string, lastUsedAt time.Time, ipAddress, userAgent *string, deviceFingerprint string) error
	RotateRefresh(ctx context.Context, id uuid.UUID, oldFingerprint, newFingerprint, accessFingerprint string, lastUsedAt time.Time) (bool, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllExcept(ctx context.Context, accountID, exceptID uuid.UUID) (int64, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Session, error)
	CleanupExpired(ctx context.Context, before time.Time) (int64, error)
}

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

const sessionColumns = `id, account_id, access_fingerprint, refresh_fingerprint,
	ip_address, user_agent, device_fingerprint, created_at, last_used_at,
	expires_at, revoked`

// Create inserts a new session. The ID is assigned by the caller before the
// insert because the access token embeds it. The unique index on
// refresh_fingerprint makes retried creations after a cancelled request safe.
func (r *sessionRepository) Create(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, account_id, access_fingerprint, refresh_fingerprint,
			ip_address, user_agent, device_fingerprint, last_used_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		session.ID,
		session.AccountID,
		session.AccessFingerprint,
		session.RefreshFingerprint,
		session.IPAddress,
		session.UserAgent,
		session.DeviceFingerprint,
		session.LastUsedAt,
		session.ExpiresAt,
	).Scan(&session.CreatedAt)

	return err
}

// GetByID retrieves a session by its ID
func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return r.scanSession(r.pool.QueryRow(ctx, query, id))
}

// GetActiveByRefreshFingerprint retrieves a usable session by the fingerprint
// of a presented refresh secret. Revoked and expired sessions never match, so
// a replayed secret on a dead session reads as not found.
func (r *sessionRepository) GetActiveByRefreshFingerprint(ctx context.Context, fingerprint string, now time.Time) (*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE refresh_fingerprint = $1 AND revoked = FALSE AND expires_at > $2
	`
	return r.scanSession(r.pool.QueryRow(ctx, query, fingerprint, now))
}

func (r *sessionRepository) scanSession(row pgx.Row) (*Session, error) {
	session := &Session{}
	err := row.Scan(
		&session.ID,
		&session.AccountID,
		&session.AccessFingerprint,
		&session.RefreshFingerprint,
		&session.IPAddress,
		&session.UserAgent,
		&session.DeviceFingerprint,
		&session.CreatedAt,
		&session.LastUsedAt,
		&session.ExpiresAt,
		&session.Revoked,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// UpdateAccess stores the fingerprint of a freshly minted access token along
// with the refresh-time device metadata. Guarded on revoked = FALSE so a
// revocation racing a refresh wins.
func (r *sessionRepository) UpdateAccess(ctx context.Context, id uuid.UUID, accessFingerprint string, lastUsedAt time.Time, ipAddress, userAgent *string, deviceFingerprint string) error {
	query := `
		UPDATE sessions
		SET access_fingerprint = $1,
		    last_used_at = $2,
		    ip_address = $3,
		    user_agent = $4,
		    device_fingerprint = $5
		WHERE id = $6 AND revoked = FALSE
	`

	result, err := r.pool.Exec(ctx, query,
		accessFingerprint, lastUsedAt, ipAddress, userAgent, deviceFingerprint, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RotateRefresh swaps the stored refresh fingerprint conditionally on the one
// just presented, so two concurrent refreshes cannot both rotate. Returns
// false when the old fingerprint no longer matches.
func (r *sessionRepository) RotateRefresh(ctx context.Context, id uuid.UUID, oldFingerprint, newFingerprint, accessFingerprint string, lastUsedAt time.Time) (bool, error) {
	query := `
		UPDATE sessions
		SET refresh_fingerprint = $1,
		    access_fingerprint = $2,
		    last_used_at = $3
		WHERE id = $4 AND refresh_fingerprint = $5 AND revoked = FALSE
	`

	result, err := r.pool.Exec(ctx, query,
		newFingerprint, accessFingerprint, lastUsedAt, id, oldFingerprint)
	if err != nil {
		return false, err
	}

	return result.RowsAffected() > 0, nil
}

// Revoke flips the revoked flag. Revoking an already-revoked session is not
// an error; only an unknown session ID is.
func (r *sessionRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET revoked = TRUE WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllExcept revokes every active session for the account except the
// given one and returns the count revoked.
func (r *sessionRepository) RevokeAllExcept(ctx context.Context, accountID, exceptID uuid.UUID) (int64, error) {
	query := `
		UPDATE sessions
		SET revoked = TRUE
		WHERE account_id = $1 AND id <> $2 AND revoked = FALSE
	`

	result, err := r.pool.Exec(ctx, query, accountID, exceptID)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// ListByAccount returns all sessions for an account, newest first
func (r *sessionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE account_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session := &Session{}
		if err := rows.Scan(
			&session.ID,
			&session.AccountID,
			&session.AccessFingerprint,
			&session.RefreshFingerprint,
			&session.IPAddress,
			&session.UserAgent,
			&session.DeviceFingerprint,
			&session.CreatedAt,
			&session.LastUsedAt,
			&session.ExpiresAt,
			&session.Revoked,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// CleanupExpired removes sessions whose refresh window closed before the
// given time. Expired sessions are inert either way; this is housekeeping.
func (r *sessionRepository) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
