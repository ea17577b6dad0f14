package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the access-token JWT claims structure
type Claims struct {
	SessionID string `json:"sid"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the account ID from the Subject claim
func (c *Claims) AccountID() string {
	return c.Subject
}

// TokenService mints and validates access tokens and generates the opaque
// secrets (refresh secrets, single-use tokens) whose fingerprints are stored
// at rest.
type TokenService struct {
	secret            string
	accessTokenExpiry time.Duration
	sessionExpiry     time.Duration
	issuer            string
}

// TokenServiceConfig holds configuration for TokenService
type TokenServiceConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
	SessionExpiry     time.Duration
	Issuer            string
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	return &TokenService{
		secret:            cfg.Secret,
		accessTokenExpiry: cfg.AccessTokenExpiry,
		sessionExpiry:     cfg.SessionExpiry,
		issuer:            cfg.Issuer,
	}
}

// MintAccessToken generates a signed access token bound to a session. The
// embedded expiry is clamped to the session's own expiry, so an access token
// never outlives its session.
func (s *TokenService) MintAccessToken(accountID, sessionID, email string, sessionExpiresAt time.Time) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.accessTokenExpiry)
	if expiresAt.After(sessionExpiresAt) {
		expiresAt = sessionExpiresAt
	}

	claims := Claims{
		SessionID: sessionID,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken validates an access token and returns the claims
func (s *TokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.secret), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.SessionID == "" {
		return nil, errors.New("missing session claim")
	}

	return claims, nil
}

// NewOpaqueSecret generates a cryptographically random opaque value. Used for
// refresh secrets and single-use tokens; only its fingerprint is persisted.
func (s *TokenService) NewOpaqueSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate opaque secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint creates a one-way SHA-256 fingerprint of a secret for storage
func (s *TokenService) Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DeviceFingerprint derives a non-secret correlation hash from device
// metadata
func (s *TokenService) DeviceFingerprint(ipAddress, userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + ipAddress))
	return hex.EncodeToString(sum[:])
}

// AccessTokenExpiry returns the access token expiry duration
func (s *TokenService) AccessTokenExpiry() time.Duration {
	return s.accessTokenExpiry
}

// SessionExpiry returns the refresh window granted to new sessions
func (s *TokenService) SessionExpiry() time.Duration {
	return s.sessionExpiry
}
