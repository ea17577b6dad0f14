package auth

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. Login failures for unknown accounts and wrong credentials
// share ErrInvalidCredentials so responses cannot be used to enumerate
// accounts.
var (
	ErrInvalidCredentials    = errors.New("invalid email or credential")
	ErrAccountLocked         = errors.New("account locked")
	ErrAlreadyExists         = errors.New("email already exists")
	ErrInvalidSalt           = errors.New("salt must be exactly 32 bytes")
	ErrInvalidRefreshToken   = errors.New("invalid or expired refresh token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrForbidden             = errors.New("forbidden")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrNotFound              = errors.New("not found")
)

// Error codes for API responses
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeEmailExists         = "EMAIL_EXISTS"
	CodeInvalidSalt         = "INVALID_SALT"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeAccountLocked       = "ACCOUNT_LOCKED"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeAlreadyVerified     = "ALREADY_VERIFIED"
	CodeAuthTokenMissing    = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid    = "AUTH_TOKEN_INVALID"
	CodeStorageUnavailable  = "STORAGE_UNAVAILABLE"
)

// CredentialsError carries the remaining-attempts count alongside the
// invalid-credentials outcome. It unwraps to ErrInvalidCredentials, so
// errors.Is checks keep working.
type CredentialsError struct {
	RemainingAttempts int
}

func (e *CredentialsError) Error() string {
	return ErrInvalidCredentials.Error()
}

func (e *CredentialsError) Unwrap() error {
	return ErrInvalidCredentials
}

// LockedError carries the unlock time for a temporary lock. Until is nil for
// permanent locks, which only an admin can clear.
type LockedError struct {
	Until *time.Time
}

func (e *LockedError) Error() string {
	if e.Until != nil {
		return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
	}
	return ErrAccountLocked.Error()
}

func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

// storageErr maps a repository failure to the retryable StorageUnavailable
// kind while preserving the cause for logs.
func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
