package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lockboxhq/lockbox/backend/internal/auth"
)

func newTestTokenService() *auth.TokenService {
	return auth.NewTokenService(auth.TokenServiceConfig{
		Secret:            "test-secret-at-least-32-characters!!",
		AccessTokenExpiry: 15 * time.Minute,
		SessionExpiry:     24 * time.Hour,
		Issuer:            "lockbox-test",
	})
}

func TestAuthenticateInjectsIdentity(t *testing.T) {
	tokenService := newTestTokenService()
	mw := NewAuthMiddleware(tokenService)

	token, _, err := tokenService.MintAccessToken("account-1", "session-1", "user@example.com", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("MintAccessToken failed: %v", err)
	}

	var gotAccount, gotSession, gotEmail string
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount, _ = ExtractAccountID(r.Context())
		gotSession, _ = ExtractSessionID(r.Context())
		gotEmail, _ = ExtractEmail(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotAccount != "account-1" {
		t.Errorf("expected account-1 in context, got %q", gotAccount)
	}
	if gotSession != "session-1" {
		t.Errorf("expected session-1 in context, got %q", gotSession)
	}
	if gotEmail != "user@example.com" {
		t.Errorf("expected email in context, got %q", gotEmail)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	tokenService := newTestTokenService()
	mw := NewAuthMiddleware(tokenService)

	expired := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:            "test-secret-at-least-32-characters!!",
		AccessTokenExpiry: -time.Minute,
		SessionExpiry:     24 * time.Hour,
		Issuer:            "lockbox-test",
	})
	expiredToken, _, err := expired.MintAccessToken("account-1", "session-1", "", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("MintAccessToken failed: %v", err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expiredToken},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
			if called {
				t.Error("handler must not run for a rejected request")
			}
		})
	}
}
