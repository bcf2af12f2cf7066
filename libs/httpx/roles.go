package httpx

import (
	"net/http"
	"strings"
)

// RoleHeader is set by the gateway after it has authenticated the caller.
const RoleHeader = "X-Role"

// RequireRole rejects requests whose gateway-asserted role is not one of roles.
func RequireRole(roles ...string) Middleware {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := strings.ToLower(strings.TrimSpace(r.Header.Get(RoleHeader)))
			if _, ok := allowed[role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
