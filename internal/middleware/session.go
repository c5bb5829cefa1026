package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/services/iam"
)

// NewSessionMiddleware loads the request's session, resolves its identity
// and stores both on the context.
//
// Authenticated sessions are saved before the handler runs so every request
// pushes the expiry forward and re-issues the cookie. Anonymous sessions are
// saved only once they carry state.
func NewSessionMiddleware(authn *iam.SessionAuthenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			sess, err := authn.Load(ctx, r)
			if err != nil {
				logger.Error("session load failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "session unavailable")
				return
			}

			identity, err := authn.Resolve(ctx, sess)
			if err != nil {
				logger.Error("identity resolution failed", zap.String("session_id", sess.ID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "session unavailable")
				return
			}

			if identity != nil || (sess.Persisted() && sess.Dirty()) {
				if err := authn.Save(ctx, w, sess); err != nil {
					logger.Error("session save failed", zap.String("session_id", sess.ID), zap.Error(err))
					writeError(w, http.StatusInternalServerError, "session unavailable")
					return
				}
			}

			ctx = iam.WithSession(ctx, sess)
			if identity != nil {
				ctx = auth.SetIdentityContext(ctx, identity)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
