package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lockboxhq/lockbox/backend/internal/metrics"
	"github.com/lockboxhq/lockbox/backend/internal/repository"
)

// SingleUseTokens issues and consumes time-boxed, purpose-scoped tokens for
// email verification and password reset. Only fingerprints are stored; the
// opaque value returned by Issue is unrecoverable once handed out.
type SingleUseTokens struct {
	repo         repository.TokenRepository
	tokenService *TokenService
}

// NewSingleUseTokens creates a new single-use token issuer
func NewSingleUseTokens(repo repository.TokenRepository, tokenService *TokenService) *SingleUseTokens {
	return &SingleUseTokens{
		repo:         repo,
		tokenService: tokenService,
	}
}

// Issue generates a fresh opaque token for (account, purpose) with the given
// TTL and returns the opaque value. Any previously issued unconsumed token
// for the same pair is superseded, so only the newest token is authoritative.
func (s *SingleUseTokens) Issue(ctx context.Context, accountID uuid.UUID, purpose repository.TokenPurpose, ttl time.Duration) (string, error) {
	opaque, err := s.tokenService.NewOpaqueSecret()
	if err != nil {
		return "", err
	}

	if _, err := s.repo.SupersedeActive(ctx, accountID, purpose); err != nil {
		return "", storageErr(err)
	}

	token := &repository.SingleUseToken{
		AccountID:        accountID,
		Purpose:          purpose,
		TokenFingerprint: s.tokenService.Fingerprint(opaque),
		ExpiresAt:        time.Now().UTC().Add(ttl),
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return "", storageErr(err)
	}

	metrics.SingleUseTokensIssued.WithLabelValues(string(purpose)).Inc()
	return opaque, nil
}

// Consume spends a presented token exactly once. The storage layer flips
// used=true atomically, so concurrent presentations of the same value succeed
// at most once. The accountID scope is required for email verification and
// nil for password reset, where the token alone identifies the account.
// Mismatch, expiry, and already-used all return false without distinguishing
// which condition failed.
func (s *SingleUseTokens) Consume(ctx context.Context, accountID *uuid.UUID, purpose repository.TokenPurpose, presented string) (*repository.SingleUseToken, bool, error) {
	fingerprint := s.tokenService.Fingerprint(presented)

	token, err := s.repo.Consume(ctx, fingerprint, purpose, accountID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, false, nil
		}
		return nil, false, storageErr(err)
	}

	metrics.SingleUseTokensConsumed.WithLabelValues(string(purpose)).Inc()
	return token, true, nil
}

// Peek looks up an unused, unexpired token without consuming it. Used to
// pre-validate a password-reset token before the caller submits the new
// credential; only Consume spends the token.
func (s *SingleUseTokens) Peek(ctx context.Context, purpose repository.TokenPurpose, presented string) (*repository.SingleUseToken, bool, error) {
	fingerprint := s.tokenService.Fingerprint(presented)

	token, err := s.repo.GetActiveByFingerprint(ctx, fingerprint, purpose, time.Now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, false, nil
		}
		return nil, false, storageErr(err)
	}

	return token, true, nil
}
