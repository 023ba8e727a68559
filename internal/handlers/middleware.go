package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wa-console/instance-manager/internal/auth"
	"github.com/wa-console/instance-manager/internal/service"
)

// RequireOwner rejects requests without a valid session and stores the
// caller's ID in the request context.
func RequireOwner(v auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, err := v.Verify(r)
			if err != nil {
				msg := "invalid session"
				if errors.Is(err, auth.ErrNoToken) {
					msg = "authentication required"
				}
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected request")
				writeError(w, r, service.NewUnauthorizedError(msg))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithOwner(r.Context(), owner)))
		})
	}
}
