package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/snapncook/snapclient/internal/services/session"
	"github.com/snapncook/snapclient/pkg/httpext"
)

// RequireSession rejects requests unless the client session is
// Authenticated. It waits for bootstrap to resolve first.
func RequireSession(sessionService *session.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, err := sessionService.WaitResolved(r.Context())
			if err != nil {
				httpext.JsonError(w, "Session not ready", http.StatusServiceUnavailable)
				return
			}

			if snap.State != session.StateAuthenticated {
				log.Debug().
					Str("path", r.URL.Path).
					Str("state", snap.State.String()).
					Msg("Rejected bridge request without a session")
				httpext.JsonError(w, "Not authenticated", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
