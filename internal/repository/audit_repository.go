package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AuditRepository handles audit event persistence. Events are append-only;
// there is no update path.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends an audit event. Metadata is stored as jsonb.
func (r *AuditRepository) Insert(ctx context.Context, event *AuditEvent) error {
	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (account_id, category, action, status, metadata,
			ip_address, user_agent, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	row := r.db.QueryRowContext(ctx, query,
		event.AccountID,
		event.Category,
		event.Action,
		event.Status,
		metadata,
		event.IPAddress,
		event.UserAgent,
		event.SessionID,
	)
	if err := row.Scan(&event.ID, &event.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// ListByAccount returns the newest audit events for an account
func (r *AuditRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*AuditEvent, error) {
	query := `
		SELECT id, account_id, category, action, status, metadata,
			ip_address, user_agent, session_id, created_at
		FROM audit_events
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.queryEvents(ctx, query, accountID, limit)
}

// ListSince returns events strictly after the (created_at, id) cursor,
// oldest first. The id tie-breaker keeps the archive drain moving through
// batches of events that share a timestamp without re-reading or skipping
// any of them.
func (r *AuditRepository) ListSince(ctx context.Context, since time.Time, sinceID uuid.UUID, limit int) ([]*AuditEvent, error) {
	query := `
		SELECT id, account_id, category, action, status, metadata,
			ip_address, user_agent, session_id, created_at
		FROM audit_events
		WHERE created_at > $1 OR (created_at = $1 AND id > $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`

	return r.queryEvents(ctx, query, since, sinceID, limit)
}

func (r *AuditRepository) queryEvents(ctx context.Context, query string, args ...any) ([]*AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		event := &AuditEvent{}
		var metadata []byte
		if err := rows.Scan(
			&event.ID,
			&event.AccountID,
			&event.Category,
			&event.Action,
			&event.Status,
			&metadata,
			&event.IPAddress,
			&event.UserAgent,
			&event.SessionID,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
