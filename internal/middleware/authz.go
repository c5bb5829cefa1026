package middleware

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/telemetry"
)

// RuleSource supplies the ordered access rules for a mount.
type RuleSource interface {
	RuleSet(mount auth.Mount) (*auth.RuleSet, error)
}

// RoleRouterDependencies provides the collaborators needed for authorization decisions.
type RoleRouterDependencies struct {
	Rules RuleSource
	Mount auth.Mount
	// OpenWhenEmpty admits every authenticated identity while the mount has
	// no rules at all. The rule set is consulted on each request.
	OpenWhenEmpty bool
	Metrics       *telemetry.Metrics
	Logger        *zap.Logger
}

// NewRoleRouter constructs a Chi middleware that admits a request only when
// the first matching access rule for the mount admits the identity.
// A path no rule matches is denied. It must run after RequireSession.
func NewRoleRouter(deps RoleRouterDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Rules == nil {
		return nil, errors.New("role router requires a rule source")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
				return
			}

			rules, err := deps.Rules.RuleSet(deps.Mount)
			if err != nil {
				logger.Error("failed to load access rules", zap.String("mount", string(deps.Mount)), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "authorization error")
				return
			}

			if deps.OpenWhenEmpty && len(rules.Rules()) == 0 {
				deps.Metrics.RecordDecision(string(deps.Mount), "", true)
				next.ServeHTTP(w, r)
				return
			}

			decision := rules.Evaluate(identity, r.URL.Path)

			var mode, pattern string
			if decision.Rule != nil {
				mode, pattern = string(decision.Rule.Mode), decision.Rule.Pattern
			}
			deps.Metrics.RecordDecision(string(deps.Mount), mode, decision.Allowed)

			if !decision.Allowed {
				logger.Info("access denied",
					zap.String("user_id", identity.ID),
					zap.String("path", r.URL.Path),
					zap.String("rule_mode", mode),
					zap.String("rule_pattern", pattern))
				writeError(w, http.StatusForbidden, auth.ErrForbidden.Error())
				return
			}

			logger.Debug("access granted",
				zap.String("user_id", identity.ID),
				zap.String("path", r.URL.Path),
				zap.String("rule_mode", mode),
				zap.String("rule_pattern", pattern))
			next.ServeHTTP(w, r)
		})
	}, nil
}
