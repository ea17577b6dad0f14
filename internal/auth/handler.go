package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appctx "github.com/lockboxhq/lockbox/backend/internal/context"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// ResetTokenDelivery receives freshly issued password-reset tokens for
// out-of-band delivery (email, queue). The token never appears in an HTTP
// response: this endpoint is unauthenticated, so a token in the body would
// let anyone who knows an email take the account over.
type ResetTokenDelivery func(email, token string)

// Handler handles HTTP requests for credential and session endpoints
type Handler struct {
	service       *Service
	validate      *validator.Validate
	resetDelivery ResetTokenDelivery
}

// NewHandler creates a new Handler instance
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
	}
}

// SetResetTokenDelivery installs the delivery hook for password-reset tokens.
// Without one, issued tokens are discarded.
func (h *Handler) SetResetTokenDelivery(deliver ResetTokenDelivery) {
	h.resetDelivery = deliver
}

// RefreshRequest represents the token refresh request payload
type RefreshRequest struct {
	RefreshSecret string `json:"refresh_secret" validate:"required"`
}

// ChangePasswordRequest carries the current and replacement pre-hashes
type ChangePasswordRequest struct {
	CurrentPreHash string `json:"current_pre_hash" validate:"required"`
	NewPreHash     string `json:"new_pre_hash" validate:"required"`
}

// ConfirmVerificationRequest carries an email-verification token
type ConfirmVerificationRequest struct {
	Token string `json:"token" validate:"required"`
}

// ResetRequestRequest carries the email asking for a password reset
type ResetRequestRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetVerifyRequest carries a reset token for pre-validation
type ResetVerifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// ResetCompleteRequest carries a reset token plus the new pre-hash
type ResetCompleteRequest struct {
	Token      string `json:"token" validate:"required"`
	NewPreHash string `json:"new_pre_hash" validate:"required"`
}

// Register handles account registration
// POST /api/v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := h.validationDetails(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	response, err := h.service.Register(r.Context(), req, deviceInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			h.writeError(w, http.StatusConflict, CodeEmailExists, "An account with this email already exists", nil)
		case errors.Is(err, ErrInvalidSalt):
			h.writeError(w, http.StatusBadRequest, CodeValidationError, "Salt must be exactly 32 bytes", nil)
		case errors.Is(err, ErrInvalidCredentials):
			h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid email address", nil)
		default:
			h.writeInternalError(w, err)
		}
		return
	}

	h.writeSuccess(w, http.StatusCreated, response)
}

// Login handles authentication
// POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := h.validationDetails(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	response, err := h.service.Login(r.Context(), req, deviceInfo(r))
	if err != nil {
		var credErr *CredentialsError
		var lockErr *LockedError
		switch {
		case errors.As(err, &credErr):
			details := map[string][]string{
				"remaining_attempts": {strconv.Itoa(credErr.RemainingAttempts)},
			}
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", details)
		case errors.As(err, &lockErr):
			var details map[string][]string
			if lockErr.Until != nil {
				details = map[string][]string{
					"locked_until": {lockErr.Until.UTC().Format(time.RFC3339)},
				}
			}
			h.writeError(w, http.StatusTooManyRequests, CodeAccountLocked, "Account is locked due to repeated failed logins", details)
		default:
			h.writeInternalError(w, err)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, response)
}

// Refresh handles access-token refresh
// POST /api/v1/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if req.RefreshSecret == "" {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "refresh_secret is required", nil)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshSecret, deviceInfo(r))
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			h.writeError(w, http.StatusUnauthorized, CodeInvalidRefreshToken, "Invalid or expired refresh secret", nil)
			return
		}
		h.writeInternalError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"tokens": tokens,
	})
}

// Logout revokes the caller's current session
// POST /api/v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionFromContext(w, r)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), sessionID, deviceInfo(r)); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, CodeSessionNotFound, "Session not found", nil)
			return
		}
		h.writeInternalError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

// GetMe returns the caller's account profile
// GET /api/v1/auth/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountFromContext(w, r)
	if !ok {
		return
	}

	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, CodeAccountNotFound, "Account not found", nil)
			return
		}
		h.writeInternalError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"account": account,
	})
}

// ListSessions returns the caller's sessions
// GET /api/v1/auth/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountFromContext(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.sessionFromContext(w, r)
	if !ok {
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), accountID, sessionID)
	if err != nil {
		h.writeInternalError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// RevokeSession revokes one of the caller's other sessions
// DELETE /api/v1/auth/sessions/{sessionID}
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountFromContext(w, r)
	if !ok {
		return
	}
	currentSessionID, ok := h.sessionFromContext(w, r)
	if !ok {
		return
	}

	targetID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid session ID", nil)
		return
	}

	if err := h.service.RevokeSession(r.Context(), targetID, accountID, currentSessionID, deviceInfo(r)); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, CodeSessionNotFound, "Session not found", nil)
		case errors.Is(err, ErrForbidden):
			h.writeError(w, http.StatusForbidden, CodeForbidden, "Session cannot be revoked through this endpoint", nil)
		default:
			h.writeInternalError(w, err)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Session revoked",
	})
}

// RevokeOtherSessions revokes every session except the caller's current one
// POST /api/v1/auth/sessions/revoke-others
func (h *Handler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountFromContext(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.sessionFromContext(w, r)
	if !ok {
		return
	}

	count, err := h.service.RevokeAllOtherSessions(r.Context(), accountID, sessionID, deviceInfo(r))
	if err != nil {
		h.writeInternalError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"revoked": count,
	})
}

// ChangePassword replaces the caller's credential and revokes other sessions
// POST /api/v1/auth/password/change
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountFromContext(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.sessionFromContext(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := h.validationDetails(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	count, err := h.service.ChangePassword(r.Context(), accountID, sessionID, req.CurrentPreHash, req.NewPreHash, deviceInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Current credential is incorrect", nil)
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, CodeAccountNotFound, "Account not found", nil)
		default:
			h.writeInternalError(w, err)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message":          "Password changed",
		"sessions_revoked": count,
	})
}

// RequestVerification issues a fresh email-verification token
// POST /api/v1/auth/verify-email/request
func (h *Handler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountFromContext(w, r)
	if !ok {
		return
	}

	token, err := h.service.RequestEmailVerification(r.Context(), accountID, deviceInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidOrExpiredToken):
			h.writeError(w, http.StatusConflict, CodeAlreadyVerified, "Account is already verified", nil)
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, CodeAccountNotFound, "Account not found", nil)
		default:
			h.writeInternalError(w, err)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"verification_token": token,
	})
}

// ConfirmVerification consumes a verification token and marks the account verified
// POST /api/v1/auth/verify-email/confirm
func (h *Handler) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountFromContext(w, r)
	if !ok {
		return
	}

	var req ConfirmVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if req.Token == "" {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "token is required", nil)
		return
	}

	if err := h.service.ConfirmEmailVerification(r.Context(), accountID, req.Token, deviceInfo(r)); err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			h.writeError(w, http.StatusUnauthorized, CodeInvalidToken, "Invalid or expired verification token", nil)
			return
		}
		h.writeInternalError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Email verified",
	})
}

// RequestPasswordReset issues a reset token and hands it to the delivery
// hook. The response is identical for known and unknown emails, and the token
// itself never enters the body, so the endpoint cannot be used to enumerate
// accounts or seize them.
// POST /api/v1/auth/password/reset/request
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := h.validationDetails(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	token, err := h.service.RequestPasswordReset(r.Context(), req.Email, deviceInfo(r))
	if err != nil {
		h.writeInternalError(w, err)
		return
	}

	if token != "" && h.resetDelivery != nil {
		h.resetDelivery(req.Email, token)
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "If the account exists, a reset token has been issued",
	})
}

// VerifyPasswordReset pre-validates a reset token without consuming it
// POST /api/v1/auth/password/reset/verify
func (h *Handler) VerifyPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if req.Token == "" {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "token is required", nil)
		return
	}

	valid, err := h.service.VerifyPasswordResetToken(r.Context(), req.Token)
	if err != nil {
		h.writeInternalError(w, err)
		return
	}
	if !valid {
		h.writeError(w, http.StatusUnauthorized, CodeInvalidToken, "Invalid or expired reset token", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]bool{
		"valid": true,
	})
}

// CompletePasswordReset consumes a reset token and installs the new credential
// POST /api/v1/auth/password/reset/complete
func (h *Handler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := h.validationDetails(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	if err := h.service.CompletePasswordReset(r.Context(), req.Token, req.NewPreHash, deviceInfo(r)); err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			h.writeError(w, http.StatusUnauthorized, CodeInvalidToken, "Invalid or expired reset token", nil)
			return
		}
		h.writeInternalError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Password reset complete",
	})
}

// UnlockAccount clears an account's lock state. Admin surface.
// POST /api/v1/admin/accounts/{accountID}/unlock
func (h *Handler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid account ID", nil)
		return
	}

	if err := h.service.UnlockAccount(r.Context(), targetID, deviceInfo(r)); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, CodeAccountNotFound, "Account not found", nil)
			return
		}
		h.writeInternalError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Account unlocked",
	})
}

// accountFromContext extracts the authenticated account ID, writing a 401 on
// failure.
func (h *Handler) accountFromContext(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := appctx.ExtractAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) sessionFromContext(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := appctx.ExtractSessionID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return uuid.Nil, false
	}
	return id, true
}

// validationDetails runs struct validation and converts failures into the
// per-field details map, or nil when the payload is valid.
func (h *Handler) validationDetails(payload interface{}) map[string][]string {
	err := h.validate.Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return map[string][]string{"request": {"invalid payload"}}
	}

	details := make(map[string][]string)
	for _, fieldErr := range validationErrs {
		field := strings.ToLower(fieldErr.Field())
		details[field] = append(details[field], "failed "+fieldErr.Tag()+" validation")
	}
	return details
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

func (h *Handler) writeInternalError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrStorageUnavailable) {
		h.writeError(w, http.StatusServiceUnavailable, CodeStorageUnavailable, "Storage is temporarily unavailable", nil)
		return
	}
	h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}

// deviceInfo extracts the client IP and user agent for session tracking
func deviceInfo(r *http.Request) DeviceInfo {
	return DeviceInfo{
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
