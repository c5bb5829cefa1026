package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/services/iam"
)

// Policy is what the gate does with an unauthenticated request.
type Policy int

const (
	// PolicyRedirect remembers the requested URI and sends the browser to LoginPath.
	PolicyRedirect Policy = iota
	// PolicyReject answers 401 without touching the session.
	PolicyReject
)

// LoginPath is where PolicyRedirect sends unauthenticated browsers.
const LoginPath = "/login"

// RequireSession admits requests whose session carries an identity.
// It must run after NewSessionMiddleware.
func RequireSession(policy Policy, authn *iam.SessionAuthenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.IdentityFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			if policy == PolicyReject {
				writeError(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
				return
			}

			sess, ok := iam.SessionFromContext(r.Context())
			if !ok {
				logger.Error("redirect gate without session middleware", zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "session unavailable")
				return
			}

			sess.SetRedirect(r.URL.RequestURI())
			if err := authn.Save(r.Context(), w, sess); err != nil {
				logger.Error("failed to persist pending redirect", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "session unavailable")
				return
			}
			http.Redirect(w, r, LoginPath, http.StatusFound)
		})
	}
}

// RequireAdmin admits only identities holding the admin role.
// It must run after RequireSession.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
			return
		}
		if !identity.IsAdmin() {
			writeError(w, http.StatusForbidden, auth.ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
