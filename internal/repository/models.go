package repository

import (
	"time"

	"github.com/google/uuid"
)

// SaltLength is the required length of the per-account client salt in bytes.
const SaltLength = 32

// Account represents a registered account in the database.
// CredentialHash is an argon2id hash of the client-supplied pre-hash; the
// plaintext password never reaches the server. Salt is handed to clients so
// they can derive the pre-hash locally.
type Account struct {
	ID                  uuid.UUID  `db:"id"`
	Email               string     `db:"email"`
	CredentialHash      string     `db:"credential_hash"`
	Salt                []byte     `db:"salt"`
	IsVerified          bool       `db:"is_verified"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	LastFailedLoginAt   *time.Time `db:"last_failed_login_at"`
	Locked              bool       `db:"locked"`
	LockedUntil         *time.Time `db:"locked_until"`
	CreatedAt           time.Time  `db:"created_at"`
	LastLoginAt         *time.Time `db:"last_login_at"`
}

// Session represents an authentication session in the database.
// Only one-way fingerprints of the issued access token and refresh secret are
// stored; the secrets themselves are never persisted.
type Session struct {
	ID                 uuid.UUID `db:"id"`
	AccountID          uuid.UUID `db:"account_id"`
	AccessFingerprint  string    `db:"access_fingerprint"`
	RefreshFingerprint string    `db:"refresh_fingerprint"`
	IPAddress          *string   `db:"ip_address"`
	UserAgent          *string   `db:"user_agent"`
	DeviceFingerprint  string    `db:"device_fingerprint"`
	CreatedAt          time.Time `db:"created_at"`
	LastUsedAt         time.Time `db:"last_used_at"`
	ExpiresAt          time.Time `db:"expires_at"`
	Revoked            bool      `db:"revoked"`
}

// TokenPurpose scopes a single-use token to the flow it was issued for
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// SingleUseToken represents a time-boxed, purpose-scoped token consumable
// exactly once. Once used it is permanently inert.
type SingleUseToken struct {
	ID               uuid.UUID    `db:"id"`
	AccountID        uuid.UUID    `db:"account_id"`
	Purpose          TokenPurpose `db:"purpose"`
	TokenFingerprint string       `db:"token_fingerprint"`
	ExpiresAt        time.Time    `db:"expires_at"`
	Used             bool         `db:"used"`
	CreatedAt        time.Time    `db:"created_at"`
}

// AuditCategory classifies an audit event
type AuditCategory string

const (
	AuditAuth     AuditCategory = "auth"
	AuditData     AuditCategory = "data"
	AuditSecurity AuditCategory = "security"
	AuditAdmin    AuditCategory = "admin"
)

// AuditStatus is the outcome recorded on an audit event
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailed  AuditStatus = "failed"
)

// AuditEvent is an append-only record of a state transition. Events are never
// mutated after creation.
type AuditEvent struct {
	ID        uuid.UUID         `db:"id" json:"id"`
	AccountID *uuid.UUID        `db:"account_id" json:"account_id,omitempty"`
	Category  AuditCategory     `db:"category" json:"category"`
	Action    string            `db:"action" json:"action"`
	Status    AuditStatus       `db:"status" json:"status"`
	Metadata  map[string]string `db:"metadata" json:"metadata,omitempty"`
	IPAddress string            `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string            `db:"user_agent" json:"user_agent,omitempty"`
	SessionID *uuid.UUID        `db:"session_id" json:"session_id,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

// AccountStatusUpdate enumerates the partial updates an admin or lifecycle
// transition may apply to an account's status fields. Nil fields are left
// untouched.
type AccountStatusUpdate struct {
	IsVerified               *bool
	Locked                   *bool
	LockedUntil              *time.Time
	ClearLockedUntil         bool
	ResetFailedLoginAttempts bool
}

// FailedLoginUpdate is the state computed by the lockout policy after a
// failed attempt, applied conditionally on the previously observed counter.
type FailedLoginUpdate struct {
	FailedLoginAttempts int
	LastFailedLoginAt   time.Time
	Locked              bool
	LockedUntil         *time.Time
}
