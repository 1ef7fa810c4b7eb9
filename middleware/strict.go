package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	goLinkAuth "github.com/MrEthical07/goLinkAuth"
)

const (
	// HeaderGraceRemaining carries the whole seconds left before a required
	// second factor is enforced.
	HeaderGraceRemaining = "X-LinkAuth-Grace-Remaining"
	HeaderGraceDeadline  = "X-LinkAuth-Grace-Deadline"
)

// RequirePrivileged runs RequireSession and then enforces the second-factor
// grace period. While the countdown runs the grace headers are set on the
// response. Once it has expired the principal's sessions are already revoked
// by the Engine and the request is rejected with 403.
func RequirePrivileged(engine *goLinkAuth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, ok := authenticate(engine, w, r)
			if !ok {
				return
			}
			res, _ := AuthResultFromContext(r.Context())

			grace, err := engine.CheckPrivilegedAccess(r.Context(), res.PrincipalID)
			switch {
			case errors.Is(err, goLinkAuth.ErrGracePeriodExpired):
				http.Error(w, goLinkAuth.PublicMessage(err), http.StatusForbidden)
				return
			case errors.Is(err, goLinkAuth.ErrUnknownPrincipal):
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			case err != nil:
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			if grace != nil && !grace.SoleAdminBypass {
				remaining := int64((grace.Remaining + time.Second - 1) / time.Second)
				w.Header().Set(HeaderGraceRemaining, strconv.FormatInt(remaining, 10))
				w.Header().Set(HeaderGraceDeadline, grace.Deadline.UTC().Format(time.RFC3339))
			}
			next.ServeHTTP(w, r)
		})
	}
}
