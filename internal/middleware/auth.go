package middleware

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Authenticator turns a bearer token into a Principal.
type Authenticator interface {
	Authenticate(token string) (Principal, error)
}

const bearerPrefix = "Bearer "

// RequireAuth rejects requests without a valid bearer token, or whose role is not in roles.
func RequireAuth(authn Authenticator, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) || strings.TrimSpace(header[len(bearerPrefix):]) == "" {
				WriteAPIError(w, r, http.StatusUnauthorized, "missing_token", "Authorization required", "")
				return
			}

			principal, err := authn.Authenticate(strings.TrimSpace(header[len(bearerPrefix):]))
			if err != nil {
				WriteAPIError(w, r, http.StatusUnauthorized, "invalid_token", "Token is invalid or expired", "")
				return
			}

			if len(roles) > 0 && !hasRole(principal.Role, roles) {
				WriteAPIError(w, r, http.StatusForbidden, "forbidden", "You do not have access to this resource", "")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func hasRole(role string, allowed []string) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// GetPrincipal retrieves the authenticated caller from request context
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}
