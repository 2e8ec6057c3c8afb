package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"chat-relay/contract"
	"chat-relay/domain"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// UserFromContext returns the authenticated user injected by Middleware.
func UserFromContext(ctx context.Context) (domain.UserID, bool) {
	userID, ok := ctx.Value(UserIDKey).(domain.UserID)
	return userID, ok
}

// WithUser injects an authenticated user id, for handlers reached outside the
// HTTP middleware chain (the websocket gateway after its auth frame).
func WithUser(ctx context.Context, userID domain.UserID) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// Middleware rejects requests without a valid bearer token and injects the
// authenticated user id into the request context.
func Middleware(identity contract.IdentityProvider, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				http.Error(w, "authorization token is missing", http.StatusUnauthorized)
				return
			}

			userID, err := identity.Authenticate(r.Context(), token)
			if err != nil {
				log.Debug("Rejected request with invalid token", "path", r.URL.Path, "error", err)
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}
