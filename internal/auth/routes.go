package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers all credential and session routes with the Chi
// router. Public routes: register, login, refresh, and the password-reset
// flow. Everything else requires a valid access token.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", handler.Register)
		r.Post("/login", handler.Login)
		r.Post("/refresh", handler.Refresh)

		r.Route("/password/reset", func(r chi.Router) {
			r.Post("/request", handler.RequestPasswordReset)
			r.Post("/verify", handler.VerifyPasswordReset)
			r.Post("/complete", handler.CompletePasswordReset)
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout", handler.Logout)
			r.Get("/me", handler.GetMe)
			r.Post("/password/change", handler.ChangePassword)
			r.Get("/sessions", handler.ListSessions)
			r.Delete("/sessions/{sessionID}", handler.RevokeSession)
			r.Post("/sessions/revoke-others", handler.RevokeOtherSessions)
			r.Post("/verify-email/request", handler.RequestVerification)
			r.Post("/verify-email/confirm", handler.ConfirmVerification)
		})
	})
}

// RegisterAdminRoutes registers the admin surface. Callers are expected to
// guard these behind their own authorization middleware.
func RegisterAdminRoutes(r chi.Router, handler *Handler, adminMiddleware Middleware) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(adminMiddleware)
		r.Post("/accounts/{accountID}/unlock", handler.UnlockAccount)
	})
}
