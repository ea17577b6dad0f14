package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lockboxhq/lockbox/backend/internal/metrics"
	"github.com/lockboxhq/lockbox/backend/internal/repository"
)

// DeviceInfo carries the request metadata recorded on sessions and audit
// events. The routing layer extracts it from the transport.
type DeviceInfo struct {
	IPAddress string
	UserAgent string
}

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email   string `json:"email" validate:"required,email"`
	PreHash string `json:"pre_hash" validate:"required"`
	Salt    []byte `json:"salt" validate:"required"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email   string `json:"email" validate:"required"`
	PreHash string `json:"pre_hash" validate:"required"`
}

// TokenResponse represents issued credentials. RefreshSecret is present only
// when a fresh refresh secret was minted (login, registration, or refresh
// with rotation enabled).
type TokenResponse struct {
	AccessToken      string     `json:"access_token"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshSecret    string     `json:"refresh_secret,omitempty"`
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`
	TokenType        string     `json:"token_type"`
}

// AccountResponse represents the account data in responses
type AccountResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	IsVerified  bool       `json:"is_verified"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Account   AccountResponse `json:"account"`
	SessionID string          `json:"session_id"`
	Tokens    TokenResponse   `json:"tokens"`
	// VerificationToken is the opaque email-verification token issued at
	// registration, handed to the routing layer for delivery. Never persisted
	// in recoverable form.
	VerificationToken string `json:"-"`
}

// SessionInfo is the sanitized view of a session returned to callers.
// Fingerprints stay internal.
type SessionInfo struct {
	ID                string    `json:"id"`
	IPAddress         *string   `json:"ip_address,omitempty"`
	UserAgent         *string   `json:"user_agent,omitempty"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	CreatedAt         time.Time `json:"created_at"`
	LastUsedAt        time.Time `json:"last_used_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Revoked           bool      `json:"revoked"`
	Current           bool      `json:"current"`
}

// ServiceConfig holds lifecycle manager configuration
type ServiceConfig struct {
	// RotateRefresh enables refresh-secret rotation on every Refresh call.
	// Off by default: a session then keeps the refresh secret issued at login
	// for its whole lifetime.
	RotateRefresh bool
	// VerificationTTL bounds email-verification tokens
	VerificationTTL time.Duration
	// PasswordResetTTL bounds password-reset tokens
	PasswordResetTTL time.Duration
}

// Service is the session lifecycle manager. It orchestrates login,
// registration, refresh, logout and revocation, consulting the lockout
// policy and credential hasher, mutating the session store, and emitting an
// audit event for every outcome branch.
type Service struct {
	accounts     repository.AccountRepository
	sessions     repository.SessionRepository
	hasher       *CredentialHasher
	lockout      *LockoutPolicy
	tokenService *TokenService
	singleUse    *SingleUseTokens
	audit        *AuditEmitter
	cfg          ServiceConfig
	logger       *slog.Logger
}

// NewService creates a new lifecycle manager
func NewService(
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	hasher *CredentialHasher,
	lockout *LockoutPolicy,
	tokenService *TokenService,
	singleUse *SingleUseTokens,
	audit *AuditEmitter,
	cfg ServiceConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.VerificationTTL == 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.PasswordResetTTL == 0 {
		cfg.PasswordResetTTL = time.Hour
	}
	return &Service{
		accounts:     accounts,
		sessions:     sessions,
		hasher:       hasher,
		lockout:      lockout,
		tokenService: tokenService,
		singleUse:    singleUse,
		audit:        audit,
		cfg:          cfg,
		logger:       logger,
	}
}

// Register creates an account and issues its first session plus an
// email-verification token. The caller-supplied salt is handed back to
// clients so they can derive their pre-hash locally; it must be exactly 32
// bytes.
func (s *Service) Register(ctx context.Context, req RegisterRequest, device DeviceInfo) (*AuthResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !isValidEmail(email) {
		s.emit(ctx, repository.AuditAuth, "register", repository.AuditFailed, nil, device, map[string]string{"reason": "invalid_email"})
		return nil, ErrInvalidCredentials
	}
	if len(req.Salt) != repository.SaltLength {
		s.emit(ctx, repository.AuditAuth, "register", repository.AuditFailed, nil, device, map[string]string{"reason": "invalid_salt"})
		return nil, ErrInvalidSalt
	}

	credentialHash, err := s.hasher.Hash(ctx, req.PreHash)
	if err != nil {
		return nil, err
	}

	account := &repository.Account{
		Email:          email,
		CredentialHash: credentialHash,
		Salt:           req.Salt,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrEmailAlreadyExists) {
			s.emit(ctx, repository.AuditAuth, "register", repository.AuditFailed, nil, device, map[string]string{"reason": "email_exists"})
			return nil, ErrAlreadyExists
		}
		return nil, storageErr(err)
	}

	session, tokens, err := s.issueSession(ctx, account, device)
	if err != nil {
		return nil, err
	}

	verification, err := s.singleUse.Issue(ctx, account.ID, repository.PurposeEmailVerification, s.cfg.VerificationTTL)
	if err != nil {
		return nil, err
	}

	event := auditEvent(repository.AuditAuth, "register", repository.AuditSuccess, &account.ID, device)
	event.SessionID = &session.ID
	s.audit.Emit(ctx, event)

	return &AuthResponse{
		Account:           accountResponse(account),
		SessionID:         session.ID.String(),
		Tokens:            *tokens,
		VerificationToken: verification,
	}, nil
}

// Login authenticates an account and creates a session. Unknown emails and
// wrong credentials return the same error shape so the response cannot be
// used to probe for accounts.
func (s *Service) Login(ctx context.Context, req LoginRequest, device DeviceInfo) (*AuthResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
			s.emit(ctx, repository.AuditAuth, "login", repository.AuditFailed, nil, device, map[string]string{"reason": "unknown_account"})
			return nil, &CredentialsError{RemainingAttempts: s.lockout.RemainingAttempts(1)}
		}
		return nil, storageErr(err)
	}

	now := time.Now().UTC()
	decision := s.lockout.CheckAccess(account, now)
	switch decision.State {
	case AccessTemporarilyLocked, AccessPermanentlyLocked:
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		s.emit(ctx, repository.AuditSecurity, "login", repository.AuditFailed, &account.ID, device, map[string]string{"reason": "account_locked"})
		return nil, &LockedError{Until: decision.Until}
	}
	if decision.LazyUnlock {
		if err := s.accounts.ClearExpiredLock(ctx, account.ID); err != nil {
			return nil, storageErr(err)
		}
		account.Locked = false
		account.LockedUntil = nil
		account.FailedLoginAttempts = 0
	}

	match, err := s.hasher.Verify(ctx, account.CredentialHash, req.PreHash)
	if err != nil {
		return nil, err
	}
	if !match {
		remaining, failErr := s.applyFailedAttempt(ctx, account, now)
		if failErr != nil {
			return nil, failErr
		}
		metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		s.emit(ctx, repository.AuditAuth, "login", repository.AuditFailed, &account.ID, device, map[string]string{"reason": "invalid_credential"})
		return nil, &CredentialsError{RemainingAttempts: remaining}
	}

	if err := s.accounts.RecordLoginSuccess(ctx, account.ID, now); err != nil {
		return nil, storageErr(err)
	}
	account.LastLoginAt = &now

	session, tokens, err := s.issueSession(ctx, account, device)
	if err != nil {
		return nil, err
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	event := auditEvent(repository.AuditAuth, "login", repository.AuditSuccess, &account.ID, device)
	event.SessionID = &session.ID
	s.audit.Emit(ctx, event)

	return &AuthResponse{
		Account:   accountResponse(account),
		SessionID: session.ID.String(),
		Tokens:    *tokens,
	}, nil
}

// applyFailedAttempt persists the lockout policy's transition as a
// compare-and-set on the observed counter. A concurrent attempt that wins the
// race bumps the counter first; we re-read and apply on top of it until our
// increment lands, so N racing failures always count as N.
func (s *Service) applyFailedAttempt(ctx context.Context, account *repository.Account, now time.Time) (int, error) {
	for {
		update := s.lockout.OnFailedAttempt(account, now)
		applied, err := s.accounts.RecordFailedLogin(ctx, account.ID, account.FailedLoginAttempts, update)
		if err != nil {
			return 0, storageErr(err)
		}
		if applied {
			if update.Locked && !account.Locked {
				metrics.AccountLockouts.Inc()
			}
			return s.lockout.RemainingAttempts(update.FailedLoginAttempts), nil
		}
		if err := ctx.Err(); err != nil {
			return 0, storageErr(err)
		}

		fresh, err := s.accounts.GetByID(ctx, account.ID)
		if err != nil {
			return 0, storageErr(err)
		}
		account = fresh
	}
}

// issueSession mints a fresh access token and refresh secret, fingerprints
// both, and stores the session row.
func (s *Service) issueSession(ctx context.Context, account *repository.Account, device DeviceInfo) (*repository.Session, *TokenResponse, error) {
	refreshSecret, err := s.tokenService.NewOpaqueSecret()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	sessionID := uuid.New()
	sessionExpiresAt := now.Add(s.tokenService.SessionExpiry())

	accessToken, accessExpiresAt, err := s.tokenService.MintAccessToken(
		account.ID.String(), sessionID.String(), account.Email, sessionExpiresAt)
	if err != nil {
		return nil, nil, err
	}

	session := &repository.Session{
		ID:                 sessionID,
		AccountID:          account.ID,
		AccessFingerprint:  s.tokenService.Fingerprint(accessToken),
		RefreshFingerprint: s.tokenService.Fingerprint(refreshSecret),
		IPAddress:          optional(device.IPAddress),
		UserAgent:          optional(device.UserAgent),
		DeviceFingerprint:  s.tokenService.DeviceFingerprint(device.IPAddress, device.UserAgent),
		LastUsedAt:         now,
		ExpiresAt:          sessionExpiresAt,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, nil, storageErr(err)
	}

	return session, &TokenResponse{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshSecret:    refreshSecret,
		SessionExpiresAt: &sessionExpiresAt,
		TokenType:        "Bearer",
	}, nil
}

// Refresh exchanges a refresh secret for a new access token. The presented
// secret is fingerprinted and matched against a live session; revoked and
// expired sessions never match. With rotation enabled a new refresh secret is
// issued and the old fingerprint invalidated in the same conditional update.
func (s *Service) Refresh(ctx context.Context, refreshSecret string, device DeviceInfo) (*TokenResponse, error) {
	fingerprint := s.tokenService.Fingerprint(refreshSecret)
	now := time.Now().UTC()

	session, err := s.sessions.GetActiveByRefreshFingerprint(ctx, fingerprint, now)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
			s.emit(ctx, repository.AuditSecurity, "refresh", repository.AuditFailed, nil, device, map[string]string{"reason": "unknown_refresh_secret"})
			return nil, ErrInvalidRefreshToken
		}
		return nil, storageErr(err)
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		return nil, storageErr(err)
	}

	accessToken, accessExpiresAt, err := s.tokenService.MintAccessToken(
		account.ID.String(), session.ID.String(), account.Email, session.ExpiresAt)
	if err != nil {
		return nil, err
	}
	accessFingerprint := s.tokenService.Fingerprint(accessToken)

	response := &TokenResponse{
		AccessToken:     accessToken,
		AccessExpiresAt: accessExpiresAt,
		TokenType:       "Bearer",
	}

	if s.cfg.RotateRefresh {
		newSecret, err := s.tokenService.NewOpaqueSecret()
		if err != nil {
			return nil, err
		}
		rotated, err := s.sessions.RotateRefresh(ctx, session.ID, fingerprint,
			s.tokenService.Fingerprint(newSecret), accessFingerprint, now)
		if err != nil {
			return nil, storageErr(err)
		}
		if !rotated {
			// A concurrent refresh or revocation got there first; the
			// presented secret is no longer valid.
			metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
			s.emit(ctx, repository.AuditSecurity, "refresh", repository.AuditFailed, &account.ID, device, map[string]string{"reason": "rotation_conflict"})
			return nil, ErrInvalidRefreshToken
		}
		response.RefreshSecret = newSecret
	} else {
		if err := s.sessions.UpdateAccess(ctx, session.ID, accessFingerprint, now,
			optional(device.IPAddress), optional(device.UserAgent),
			s.tokenService.DeviceFingerprint(device.IPAddress, device.UserAgent)); err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
				s.emit(ctx, repository.AuditSecurity, "refresh", repository.AuditFailed, &account.ID, device, map[string]string{"reason": "session_revoked"})
				return nil, ErrInvalidRefreshToken
			}
			return nil, storageErr(err)
		}
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	event := auditEvent(repository.AuditAuth, "refresh", repository.AuditSuccess, &account.ID, device)
	event.SessionID = &session.ID
	s.audit.Emit(ctx, event)

	return response, nil
}

// Logout revokes the named session. Revoking an already-revoked session is a
// no-op, not an error.
func (s *Service) Logout(ctx context.Context, sessionID uuid.UUID, device DeviceInfo) error {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			event := auditEvent(repository.AuditAuth, "logout", repository.AuditFailed, nil, device)
			event.SessionID = &sessionID
			event.Metadata = map[string]string{"reason": "unknown_session"}
			s.audit.Emit(ctx, event)
			return ErrNotFound
		}
		return storageErr(err)
	}

	metrics.SessionsRevoked.WithLabelValues("logout").Inc()
	event := auditEvent(repository.AuditAuth, "logout", repository.AuditSuccess, nil, device)
	event.SessionID = &sessionID
	s.audit.Emit(ctx, event)
	return nil
}

// RevokeSession revokes one of the caller's other sessions. The caller's
// current session must go through Logout instead, and sessions belonging to
// other accounts are off limits.
func (s *Service) RevokeSession(ctx context.Context, sessionID, requestingAccountID, currentSessionID uuid.UUID, device DeviceInfo) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			s.emit(ctx, repository.AuditSecurity, "session_revoke", repository.AuditFailed, &requestingAccountID, device, map[string]string{"reason": "unknown_session"})
			return ErrNotFound
		}
		return storageErr(err)
	}

	if session.AccountID != requestingAccountID || session.ID == currentSessionID {
		s.emit(ctx, repository.AuditSecurity, "session_revoke", repository.AuditFailed, &requestingAccountID, device, map[string]string{"reason": "forbidden"})
		return ErrForbidden
	}

	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			s.emit(ctx, repository.AuditSecurity, "session_revoke", repository.AuditFailed, &requestingAccountID, device, map[string]string{"reason": "unknown_session"})
			return ErrNotFound
		}
		return storageErr(err)
	}

	metrics.SessionsRevoked.WithLabelValues("revoke").Inc()
	event := auditEvent(repository.AuditSecurity, "session_revoke", repository.AuditSuccess, &requestingAccountID, device)
	event.SessionID = &sessionID
	s.audit.Emit(ctx, event)
	return nil
}

// RevokeAllOtherSessions revokes every active session for the account except
// the current one and returns the count revoked. Used after password changes
// and on explicit request.
func (s *Service) RevokeAllOtherSessions(ctx context.Context, accountID, currentSessionID uuid.UUID, device DeviceInfo) (int64, error) {
	count, err := s.sessions.RevokeAllExcept(ctx, accountID, currentSessionID)
	if err != nil {
		return 0, storageErr(err)
	}

	metrics.SessionsRevoked.WithLabelValues("revoke_all").Add(float64(count))
	event := auditEvent(repository.AuditSecurity, "session_revoke_all", repository.AuditSuccess, &accountID, device)
	event.Metadata = map[string]string{"revoked": itoa64(count)}
	s.audit.Emit(ctx, event)
	return count, nil
}

// ChangePassword verifies the current credential, stores the new one, resets
// the lockout counters, and revokes every other session.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentSessionID uuid.UUID, currentPreHash, newPreHash string, device DeviceInfo) (int64, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			s.emit(ctx, repository.AuditAuth, "password_change", repository.AuditFailed, &accountID, device, map[string]string{"reason": "unknown_account"})
			return 0, ErrNotFound
		}
		return 0, storageErr(err)
	}

	match, err := s.hasher.Verify(ctx, account.CredentialHash, currentPreHash)
	if err != nil {
		return 0, err
	}
	if !match {
		s.emit(ctx, repository.AuditAuth, "password_change", repository.AuditFailed, &accountID, device, map[string]string{"reason": "invalid_credential"})
		return 0, ErrInvalidCredentials
	}

	credentialHash, err := s.hasher.Hash(ctx, newPreHash)
	if err != nil {
		return 0, err
	}

	if err := s.accounts.UpdateCredential(ctx, accountID, credentialHash); err != nil {
		return 0, storageErr(err)
	}

	count, err := s.sessions.RevokeAllExcept(ctx, accountID, currentSessionID)
	if err != nil {
		return 0, storageErr(err)
	}
	metrics.SessionsRevoked.WithLabelValues("password_change").Add(float64(count))

	event := auditEvent(repository.AuditAuth, "password_change", repository.AuditSuccess, &accountID, device)
	event.SessionID = &currentSessionID
	event.Metadata = map[string]string{"sessions_revoked": itoa64(count)}
	s.audit.Emit(ctx, event)
	return count, nil
}

// RequestEmailVerification issues a fresh verification token for the account.
// The opaque value is returned to the routing layer for delivery.
func (s *Service) RequestEmailVerification(ctx context.Context, accountID uuid.UUID, device DeviceInfo) (string, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return "", ErrNotFound
		}
		return "", storageErr(err)
	}
	if account.IsVerified {
		return "", ErrInvalidOrExpiredToken
	}

	token, err := s.singleUse.Issue(ctx, accountID, repository.PurposeEmailVerification, s.cfg.VerificationTTL)
	if err != nil {
		return "", err
	}

	s.emit(ctx, repository.AuditAuth, "email_verification_request", repository.AuditSuccess, &accountID, device, nil)
	return token, nil
}

// ConfirmEmailVerification consumes a verification token and marks the
// account verified.
func (s *Service) ConfirmEmailVerification(ctx context.Context, accountID uuid.UUID, token string, device DeviceInfo) error {
	_, ok, err := s.singleUse.Consume(ctx, &accountID, repository.PurposeEmailVerification, token)
	if err != nil {
		return err
	}
	if !ok {
		s.emit(ctx, repository.AuditAuth, "email_verified", repository.AuditFailed, &accountID, device, map[string]string{"reason": "invalid_token"})
		return ErrInvalidOrExpiredToken
	}

	verified := true
	if err := s.accounts.UpdateStatus(ctx, accountID, repository.AccountStatusUpdate{IsVerified: &verified}); err != nil {
		return storageErr(err)
	}

	s.emit(ctx, repository.AuditAuth, "email_verified", repository.AuditSuccess, &accountID, device, nil)
	return nil
}

// RequestPasswordReset issues a reset token for the account with the given
// email. Unknown emails succeed with an empty token so the endpoint cannot be
// used to probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, device DeviceInfo) (string, error) {
	account, err := s.accounts.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			s.emit(ctx, repository.AuditAuth, "password_reset_request", repository.AuditFailed, nil, device, map[string]string{"reason": "unknown_account"})
			return "", nil
		}
		return "", storageErr(err)
	}

	token, err := s.singleUse.Issue(ctx, account.ID, repository.PurposePasswordReset, s.cfg.PasswordResetTTL)
	if err != nil {
		return "", err
	}

	s.emit(ctx, repository.AuditAuth, "password_reset_request", repository.AuditSuccess, &account.ID, device, nil)
	return token, nil
}

// VerifyPasswordResetToken reports whether a reset token is currently
// consumable, without consuming it. A token can thus be pre-validated before
// the client submits the new credential; CompletePasswordReset is what spends
// it. A token peeked here but never completed stays live until its TTL.
func (s *Service) VerifyPasswordResetToken(ctx context.Context, token string) (bool, error) {
	_, ok, err := s.singleUse.Peek(ctx, repository.PurposePasswordReset, token)
	return ok, err
}

// CompletePasswordReset consumes a reset token, stores the new credential
// hash, resets the lockout counters, and revokes every session for the
// account. The consume happens first, so a failure afterwards requires a
// fresh token rather than reopening the spent one.
func (s *Service) CompletePasswordReset(ctx context.Context, token, newPreHash string, device DeviceInfo) error {
	consumed, ok, err := s.singleUse.Consume(ctx, nil, repository.PurposePasswordReset, token)
	if err != nil {
		return err
	}
	if !ok {
		s.emit(ctx, repository.AuditSecurity, "password_reset", repository.AuditFailed, nil, device, map[string]string{"reason": "invalid_token"})
		return ErrInvalidOrExpiredToken
	}

	credentialHash, err := s.hasher.Hash(ctx, newPreHash)
	if err != nil {
		return err
	}

	if err := s.accounts.UpdateCredential(ctx, consumed.AccountID, credentialHash); err != nil {
		return storageErr(err)
	}

	count, err := s.sessions.RevokeAllExcept(ctx, consumed.AccountID, uuid.Nil)
	if err != nil {
		return storageErr(err)
	}
	metrics.SessionsRevoked.WithLabelValues("password_reset").Add(float64(count))

	event := auditEvent(repository.AuditAuth, "password_reset", repository.AuditSuccess, &consumed.AccountID, device)
	event.Metadata = map[string]string{"sessions_revoked": itoa64(count)}
	s.audit.Emit(ctx, event)
	return nil
}

// UnlockAccount clears the lock state and failed-attempt counters. Admin
// surface; the only path out of a permanent lock.
func (s *Service) UnlockAccount(ctx context.Context, accountID uuid.UUID, device DeviceInfo) error {
	unlocked := false
	update := repository.AccountStatusUpdate{
		Locked:                   &unlocked,
		ClearLockedUntil:         true,
		ResetFailedLoginAttempts: true,
	}
	if err := s.accounts.UpdateStatus(ctx, accountID, update); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			s.emit(ctx, repository.AuditAdmin, "account_unlock", repository.AuditFailed, &accountID, device, map[string]string{"reason": "unknown_account"})
			return ErrNotFound
		}
		return storageErr(err)
	}

	s.emit(ctx, repository.AuditAdmin, "account_unlock", repository.AuditSuccess, &accountID, device, nil)
	return nil
}

// ListSessions returns the account's sessions, flagging the caller's current
// one.
func (s *Service) ListSessions(ctx context.Context, accountID, currentSessionID uuid.UUID) ([]SessionInfo, error) {
	sessions, err := s.sessions.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, storageErr(err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, SessionInfo{
			ID:                session.ID.String(),
			IPAddress:         session.IPAddress,
			UserAgent:         session.UserAgent,
			DeviceFingerprint: session.DeviceFingerprint,
			CreatedAt:         session.CreatedAt,
			LastUsedAt:        session.LastUsedAt,
			ExpiresAt:         session.ExpiresAt,
			Revoked:           session.Revoked,
			Current:           session.ID == currentSessionID,
		})
	}
	return infos, nil
}

// GetAccount returns the sanitized account view for the profile endpoint
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*AccountResponse, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr(err)
	}
	response := accountResponse(account)
	return &response, nil
}

// emit builds and queues an audit event in one step for branches that carry
// only a metadata map.
func (s *Service) emit(ctx context.Context, category repository.AuditCategory, action string, status repository.AuditStatus, accountID *uuid.UUID, device DeviceInfo, metadata map[string]string) {
	event := auditEvent(category, action, status, accountID, device)
	event.Metadata = metadata
	s.audit.Emit(ctx, event)
}

func accountResponse(account *repository.Account) AccountResponse {
	return AccountResponse{
		ID:          account.ID.String(),
		Email:       account.Email,
		IsVerified:  account.IsVerified,
		CreatedAt:   account.CreatedAt,
		LastLoginAt: account.LastLoginAt,
	}
}

// isValidEmail checks if the email format is valid
func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
