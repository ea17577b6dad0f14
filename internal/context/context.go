package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// AccountIDKey is the context key for the authenticated account ID
	AccountIDKey ContextKey = "account_id"
	// SessionIDKey is the context key for the session the access token belongs to
	SessionIDKey ContextKey = "session_id"
	// EmailKey is the context key for the authenticated account's email
	EmailKey ContextKey = "email"
)

// ExtractAccountID extracts the account ID from the request context
func ExtractAccountID(ctx context.Context) (string, bool) {
	accountID, ok := ctx.Value(AccountIDKey).(string)
	return accountID, ok
}

// ExtractSessionID extracts the session ID from the request context
func ExtractSessionID(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(SessionIDKey).(string)
	return sessionID, ok
}

// ExtractEmail extracts the email from the request context
func ExtractEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(EmailKey).(string)
	return email, ok
}
