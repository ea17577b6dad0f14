package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Account repository errors
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailAlreadyExists = errors.New("email already exists")
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// AccountRepository defines the interface for account data access
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordFailedLogin(ctx context.Context, id uuid.UUID, priorAttempts int, update FailedLoginUpdate) (bool, error)
	ClearExpiredLock(ctx context.Context, id uuid.UUID) error
	UpdateCredential(ctx context.Context, id uuid.UUID, credentialHash string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, update AccountStatusUpdate) error
}

// accountRepository implements AccountRepository using PostgreSQL
type accountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository instance
func NewAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &accountRepository{pool: pool}
}

const accountColumns = `id, email, credential_hash, salt, is_verified,
	failed_login_attempts, last_failed_login_at, locked, locked_until,
	created_at, last_login_at`

// Create inserts a new account. The email is stored lowercase-normalized and
// a unique index maps duplicates to ErrEmailAlreadyExists.
func (r *accountRepository) Create(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (email, credential_hash, salt, is_verified)
		VALUES ($1, $2, $3, FALSE)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		strings.ToLower(account.Email),
		account.CredentialHash,
		account.Salt,
	).Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailAlreadyExists
		}
		return err
	}

	account.Email = strings.ToLower(account.Email)
	return nil
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail retrieves an account by its email address (case-insensitive)
func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = LOWER($1)`
	return r.scanAccount(r.pool.QueryRow(ctx, query, email))
}

func (r *accountRepository) scanAccount(row pgx.Row) (*Account, error) {
	account := &Account{}
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.CredentialHash,
		&account.Salt,
		&account.IsVerified,
		&account.FailedLoginAttempts,
		&account.LastFailedLoginAt,
		&account.Locked,
		&account.LockedUntil,
		&account.CreatedAt,
		&account.LastLoginAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return account, nil
}

// RecordLoginSuccess resets the failed-attempt counter, clears any lock, and
// stamps last_login_at in a single statement.
func (r *accountRepository) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE accounts
		SET failed_login_attempts = 0,
		    last_failed_login_at = NULL,
		    locked = FALSE,
		    locked_until = NULL,
		    last_login_at = $1
		WHERE id = $2
	`

	result, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// RecordFailedLogin applies the lockout policy's computed state as a
// compare-and-set on the previously observed counter value. Returns false
// without error when a concurrent attempt won the race; callers re-read the
// account and retry.
func (r *accountRepository) RecordFailedLogin(ctx context.Context, id uuid.UUID, priorAttempts int, update FailedLoginUpdate) (bool, error) {
	query := `
		UPDATE accounts
		SET failed_login_attempts = $1,
		    last_failed_login_at = $2,
		    locked = $3,
		    locked_until = $4
		WHERE id = $5 AND failed_login_attempts = $6
	`

	result, err := r.pool.Exec(ctx, query,
		update.FailedLoginAttempts,
		update.LastFailedLoginAt,
		update.Locked,
		update.LockedUntil,
		id,
		priorAttempts,
	)
	if err != nil {
		return false, err
	}

	return result.RowsAffected() > 0, nil
}

// ClearExpiredLock performs the lazy unlock: a lock whose locked_until has
// passed is reset on the next login attempt. Guarded so it never clears a
// permanent lock (locked_until IS NULL) or a still-active window.
func (r *accountRepository) ClearExpiredLock(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET locked = FALSE,
		    locked_until = NULL,
		    failed_login_attempts = 0,
		    last_failed_login_at = NULL
		WHERE id = $1
		  AND locked = TRUE
		  AND locked_until IS NOT NULL
		  AND locked_until <= $2
	`

	_, err := r.pool.Exec(ctx, query, id, time.Now().UTC())
	return err
}

// UpdateCredential stores a new credential hash and resets the lockout
// counters, as a password change proves possession of the credential.
func (r *accountRepository) UpdateCredential(ctx context.Context, id uuid.UUID, credentialHash string) error {
	query := `
		UPDATE accounts
		SET credential_hash = $1,
		    failed_login_attempts = 0,
		    last_failed_login_at = NULL,
		    locked = FALSE,
		    locked_until = NULL
		WHERE id = $2
	`

	result, err := r.pool.Exec(ctx, query, credentialHash, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdateStatus applies an enumerated partial update to the account's status
// fields. Every field combination is statically known; there is no dynamic
// payload.
func (r *accountRepository) UpdateStatus(ctx context.Context, id uuid.UUID, update AccountStatusUpdate) error {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)

	add := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, expr+" = $"+strconv.Itoa(len(args)))
	}

	if update.IsVerified != nil {
		add("is_verified", *update.IsVerified)
	}
	if update.Locked != nil {
		add("locked", *update.Locked)
	}
	if update.LockedUntil != nil {
		add("locked_until", *update.LockedUntil)
	} else if update.ClearLockedUntil {
		sets = append(sets, "locked_until = NULL")
	}
	if update.ResetFailedLoginAttempts {
		sets = append(sets, "failed_login_attempts = 0", "last_failed_login_at = NULL")
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := "UPDATE accounts SET " + strings.Join(sets, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args))

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
