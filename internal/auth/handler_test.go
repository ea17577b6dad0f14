package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	appctx "github.com/lockboxhq/lockbox/backend/internal/context"
)

type handlerFixture struct {
	*serviceFixture
	handler *Handler
	router  chi.Router
}

// bearerMiddleware mirrors the access-token middleware for routing tests:
// it validates the Bearer token and injects the identity context keys.
func bearerMiddleware(f *serviceFixture) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(APIResponse{Success: false, Error: &APIError{Code: CodeAuthTokenInvalid, Message: "missing token"}})
				return
			}
			claims, err := f.service.tokenService.ValidateAccessToken(authHeader[7:])
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(APIResponse{Success: false, Error: &APIError{Code: CodeAuthTokenInvalid, Message: "invalid token"}})
				return
			}
			ctx := context.WithValue(r.Context(), appctx.AccountIDKey, claims.AccountID())
			ctx = context.WithValue(ctx, appctx.SessionIDKey, claims.SessionID)
			ctx = context.WithValue(ctx, appctx.EmailKey, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	f := newServiceFixture(t, ServiceConfig{})
	handler := NewHandler(f.service)
	router := chi.NewRouter()
	mw := bearerMiddleware(f)
	RegisterRoutes(router, handler, mw)
	RegisterAdminRoutes(router, handler, mw)

	return &handlerFixture{serviceFixture: f, handler: handler, router: router}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func (f *handlerFixture) do(t *testing.T, method, path, token string, body interface{}) (int, apiEnvelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var envelope apiEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, envelope
}

func registerBody(t *testing.T, email, preHash string) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"pre_hash": preHash,
		"salt":     testSalt(t),
	}
}

func TestHandlerRegisterAndLogin(t *testing.T) {
	f := newHandlerFixture(t)

	code, envelope := f.do(t, http.MethodPost, "/auth/register", "", registerBody(t, "user@example.com", "pre-hash-1"))
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", code, envelope.Error)
	}
	var registered AuthResponse
	if err := json.Unmarshal(envelope.Data, &registered); err != nil {
		t.Fatalf("failed to decode register data: %v", err)
	}
	if registered.Account.Email != "user@example.com" {
		t.Errorf("unexpected email %q", registered.Account.Email)
	}
	if registered.Tokens.AccessToken == "" || registered.Tokens.RefreshSecret == "" {
		t.Error("expected access token and refresh secret in register response")
	}

	code, envelope = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "user@example.com", "pre_hash": "wrong",
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong credential, got %d", code)
	}
	if envelope.Error == nil || envelope.Error.Code != CodeInvalidCredentials {
		t.Fatalf("expected %s error, got %+v", CodeInvalidCredentials, envelope.Error)
	}
	if got := envelope.Error.Details["remaining_attempts"]; len(got) != 1 || got[0] != "4" {
		t.Errorf("expected remaining_attempts [4], got %v", got)
	}

	code, envelope = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "user@example.com", "pre_hash": "pre-hash-1",
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200 for valid login, got %d (%v)", code, envelope.Error)
	}
	var loggedIn AuthResponse
	if err := json.Unmarshal(envelope.Data, &loggedIn); err != nil {
		t.Fatalf("failed to decode login data: %v", err)
	}
	if loggedIn.Tokens.AccessToken == "" {
		t.Error("expected access token in login response")
	}
}

func TestHandlerRegisterDuplicateEmail(t *testing.T) {
	f := newHandlerFixture(t)

	if code, _ := f.do(t, http.MethodPost, "/auth/register", "", registerBody(t, "dupe@example.com", "pre-hash-1")); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}

	code, envelope := f.do(t, http.MethodPost, "/auth/register", "", registerBody(t, "Dupe@Example.com", "pre-hash-2"))
	if code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", code)
	}
	if envelope.Error == nil || envelope.Error.Code != CodeEmailExists {
		t.Errorf("expected %s error, got %+v", CodeEmailExists, envelope.Error)
	}
}

func TestHandlerRegisterValidation(t *testing.T) {
	f := newHandlerFixture(t)

	code, envelope := f.do(t, http.MethodPost, "/auth/register", "", map[string]interface{}{
		"pre_hash": "pre-hash-1",
		"salt":     testSalt(t),
	})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing email, got %d", code)
	}
	if envelope.Error == nil || envelope.Error.Code != CodeValidationError {
		t.Fatalf("expected %s error, got %+v", CodeValidationError, envelope.Error)
	}
	if _, ok := envelope.Error.Details["email"]; !ok {
		t.Errorf("expected email field in details, got %v", envelope.Error.Details)
	}
}

func TestHandlerLoginLockoutResponse(t *testing.T) {
	f := newHandlerFixture(t)
	if code, _ := f.do(t, http.MethodPost, "/auth/register", "", registerBody(t, "locked@example.com", "pre-hash-1")); code != http.StatusCreated {
		t.Fatalf("registration failed")
	}

	badLogin := map[string]string{"email": "locked@example.com", "pre_hash": "wrong"}
	for i := 0; i < 5; i++ {
		code, _ := f.do(t, http.MethodPost, "/auth/login", "", badLogin)
		if code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, code)
		}
	}

	code, envelope := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "locked@example.com", "pre_hash": "pre-hash-1",
	})
	if code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while locked, got %d", code)
	}
	if envelope.Error == nil || envelope.Error.Code != CodeAccountLocked {
		t.Fatalf("expected %s error, got %+v", CodeAccountLocked, envelope.Error)
	}
	if got := envelope.Error.Details["locked_until"]; len(got) != 1 {
		t.Errorf("expected locked_until detail, got %v", envelope.Error.Details)
	}
}

func TestHandlerRefreshInvalidSecret(t *testing.T) {
	f := newHandlerFixture(t)

	code, envelope := f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_secret": "no-such-secret",
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if envelope.Error == nil || envelope.Error.Code != CodeInvalidRefreshToken {
		t.Errorf("expected %s error, got %+v", CodeInvalidRefreshToken, envelope.Error)
	}
}

func TestHandlerProtectedRoutesRequireToken(t *testing.T) {
	f := newHandlerFixture(t)

	code, _ := f.do(t, http.MethodGet, "/auth/me", "", nil)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", code)
	}
	code, _ = f.do(t, http.MethodPost, "/auth/logout", "garbage-token", nil)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 with a garbage token, got %d", code)
	}
}

func TestHandlerAuthenticatedFlow(t *testing.T) {
	f := newHandlerFixture(t)
	registered := registerAccount(t, f.serviceFixture, "flow@example.com", "pre-hash-1")
	token := registered.Tokens.AccessToken

	code, envelope := f.do(t, http.MethodGet, "/auth/me", token, nil)
	if code != http.StatusOK {
		t.Fatalf("GET /auth/me: expected 200, got %d (%v)", code, envelope.Error)
	}
	var me struct {
		Account AccountResponse `json:"account"`
	}
	if err := json.Unmarshal(envelope.Data, &me); err != nil {
		t.Fatalf("failed to decode me data: %v", err)
	}
	if me.Account.Email != "flow@example.com" {
		t.Errorf("unexpected email %q", me.Account.Email)
	}

	code, envelope = f.do(t, http.MethodGet, "/auth/sessions", token, nil)
	if code != http.StatusOK {
		t.Fatalf("GET /auth/sessions: expected 200, got %d", code)
	}
	var listed struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(envelope.Data, &listed); err != nil {
		t.Fatalf("failed to decode sessions data: %v", err)
	}
	if len(listed.Sessions) != 1 || !listed.Sessions[0].Current {
		t.Errorf("expected exactly one current session, got %+v", listed.Sessions)
	}

	code, _ = f.do(t, http.MethodPost, "/auth/logout", token, nil)
	if code != http.StatusOK {
		t.Fatalf("POST /auth/logout: expected 200, got %d", code)
	}

	code, envelope = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_secret": registered.Tokens.RefreshSecret,
	})
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 refreshing a logged-out session, got %d (%v)", code, envelope.Error)
	}
}

func TestHandlerPasswordResetTokenNeverInResponse(t *testing.T) {
	f := newHandlerFixture(t)
	registerAccount(t, f.serviceFixture, "reset@example.com", "pre-hash-1")

	var delivered []string
	f.handler.SetResetTokenDelivery(func(_, token string) {
		delivered = append(delivered, token)
	})

	code, unknownEnvelope := f.do(t, http.MethodPost, "/auth/password/reset/request", "", map[string]string{
		"email": "nobody@example.com",
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200 for unknown email, got %d", code)
	}
	if len(delivered) != 0 {
		t.Fatal("unknown email must not trigger token delivery")
	}

	code, knownEnvelope := f.do(t, http.MethodPost, "/auth/password/reset/request", "", map[string]string{
		"email": "reset@example.com",
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200 for known email, got %d", code)
	}
	if len(delivered) != 1 || delivered[0] == "" {
		t.Fatal("known email should hand exactly one token to the delivery hook")
	}
	resetToken := delivered[0]

	// The bodies must be indistinguishable so the endpoint cannot be used to
	// probe for accounts, and the token must not appear anywhere in them.
	if !bytes.Equal(knownEnvelope.Data, unknownEnvelope.Data) {
		t.Errorf("response bodies differ between known and unknown emails: %s vs %s",
			knownEnvelope.Data, unknownEnvelope.Data)
	}
	if bytes.Contains(knownEnvelope.Data, []byte(resetToken)) {
		t.Error("reset token must not be serialized into the response")
	}

	code, _ = f.do(t, http.MethodPost, "/auth/password/reset/verify", "", map[string]string{"token": resetToken})
	if code != http.StatusOK {
		t.Errorf("expected 200 verifying a fresh token, got %d", code)
	}
	code, _ = f.do(t, http.MethodPost, "/auth/password/reset/complete", "", map[string]string{
		"token": resetToken, "new_pre_hash": "pre-hash-2",
	})
	if code != http.StatusOK {
		t.Errorf("expected 200 completing the reset, got %d", code)
	}

	code, _ = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "reset@example.com", "pre_hash": "pre-hash-2",
	})
	if code != http.StatusOK {
		t.Errorf("expected login with the new credential to succeed, got %d", code)
	}
}

func TestHandlerAdminUnlock(t *testing.T) {
	f := newHandlerFixture(t)
	registered := registerAccount(t, f.serviceFixture, "admin-unlock@example.com", "pre-hash-1")

	badLogin := map[string]string{"email": "admin-unlock@example.com", "pre_hash": "wrong"}
	for i := 0; i < 5; i++ {
		f.do(t, http.MethodPost, "/auth/login", "", badLogin)
	}
	if code, _ := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "admin-unlock@example.com", "pre_hash": "pre-hash-1",
	}); code != http.StatusTooManyRequests {
		t.Fatalf("expected the account to be locked, got %d", code)
	}

	code, envelope := f.do(t, http.MethodPost, "/admin/accounts/"+registered.Account.ID+"/unlock", registered.Tokens.AccessToken, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200 from unlock, got %d (%v)", code, envelope.Error)
	}

	if code, _ := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "admin-unlock@example.com", "pre_hash": "pre-hash-1",
	}); code != http.StatusOK {
		t.Errorf("expected login to succeed after unlock, got %d", code)
	}
}
