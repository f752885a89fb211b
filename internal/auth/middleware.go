package auth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/kuitang/plansite/internal/obs"
)

type contextKey string

const userIDKey contextKey = "userID"

// Middleware provides authentication middleware for HTTP handlers.
type Middleware struct {
	sessionService *SessionService
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(sessionService *SessionService) *Middleware {
	return &Middleware{sessionService: sessionService}
}

// RequireAuth requires a valid session. Browsers are redirected to /login
// with a return path; other clients get 401.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.userFromRequest(r)
		if !ok {
			if r.Method == http.MethodGet {
				http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
	})
}

// OptionalAuth adds the user to the context when a valid session is present.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, ok := m.userFromRequest(r); ok {
			r = r.WithContext(withUser(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) userFromRequest(r *http.Request) (string, bool) {
	sessionID, err := GetFromRequest(r)
	if err != nil {
		return "", false
	}
	userID, err := m.sessionService.Validate(r.Context(), sessionID)
	if err != nil {
		return "", false
	}
	return userID, true
}

func withUser(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return obs.WithUserID(ctx, userID)
}

// GetUserID retrieves the user ID from the request context.
// Returns empty string if no user is authenticated.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// IsAuthenticated checks if the context has an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return GetUserID(ctx) != ""
}
