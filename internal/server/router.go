package server

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/terraconstructs/gridgate/internal/auth"
	gridmiddleware "github.com/terraconstructs/gridgate/internal/middleware"
	"github.com/terraconstructs/gridgate/internal/services/iam"
	"github.com/terraconstructs/gridgate/internal/telemetry"
)

// RouterOptions controls the construction of the gateway router.
type RouterOptions struct {
	Authenticator *iam.SessionAuthenticator
	Users         userAdminService
	Rules         gridmiddleware.RuleSource
	Throttle      *auth.LoginThrottle
	RelyingParty  *auth.RelyingParty

	// UI and API receive admitted traffic for their mounts.
	UI  http.Handler
	API http.Handler

	// TrustedProxies may supply the client address in forwarding headers.
	TrustedProxies []netip.Prefix

	Metrics        *telemetry.Metrics
	Logger         *zap.Logger
	VerboseLogging bool
	CORSOptions    *cors.Options
	HealthHandler  http.HandlerFunc
}

// DefaultCORSOptions returns a credentialed CORS policy for origins.
func DefaultCORSOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles the gateway: shared middleware, login endpoints, the
// admin API and the two proxied mounts behind their gates. It panics when a
// proxied mount is configured without Rules.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(gridmiddleware.TrustedRealIP(opts.TrustedProxies))
	r.Use(gridmiddleware.NewRequestLogger(logger.Named("http"), opts.Metrics, opts.VerboseLogging))
	r.Use(middleware.Recoverer)
	r.Use(gridmiddleware.RequireCanonicalPath)
	if opts.CORSOptions != nil {
		r.Use(cors.Handler(*opts.CORSOptions))
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/healthz", healthHandler)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, auth.DefaultRedirect, http.StatusFound)
	})
	r.Get("/app", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, auth.DefaultRedirect, http.StatusMovedPermanently)
	})

	authn := opts.Authenticator
	h := &authHandlers{
		authn:    authn,
		throttle: opts.Throttle,
		rp:       opts.RelyingParty,
		metrics:  opts.Metrics,
		logger:   logger.Named("auth"),
	}

	r.Group(func(r chi.Router) {
		r.Use(gridmiddleware.NewSessionMiddleware(authn, logger.Named("session")))

		r.Get(gridmiddleware.LoginPath, h.handleLoginPage)
		r.Post("/auth/local", h.handleLocalLogin)
		r.Get("/logout", h.handleLogout)
		r.Post("/logout", h.handleLogout)
		if opts.RelyingParty != nil {
			r.Get("/auth/oidc/login", opts.RelyingParty.LoginHandler())
			r.Get("/auth/oidc/callback", opts.RelyingParty.CallbackHandler(h.handleOIDCCallback))
		}

		// Browser pages: unauthenticated visitors are sent to the login page.
		r.Group(func(r chi.Router) {
			r.Use(gridmiddleware.RequireSession(gridmiddleware.PolicyRedirect, authn, logger))

			if opts.UI != nil {
				r.With(mustRoleRouter(opts, auth.MountUI, true, logger)).Handle("/app/*", opts.UI)
			}
		})

		// API clients: unauthenticated requests are rejected.
		r.Group(func(r chi.Router) {
			r.Use(gridmiddleware.RequireSession(gridmiddleware.PolicyReject, authn, logger))
			r.Get("/api/me", handleMe)

			if opts.Users != nil {
				users := &userHandlers{users: opts.Users, logger: logger.Named("users")}
				r.With(gridmiddleware.RequireAdmin).Route("/api/users", users.routes)
			}

			if opts.API != nil {
				r.Group(func(r chi.Router) {
					r.Use(mustRoleRouter(opts, auth.MountAPI, false, logger))
					r.Handle("/v2/*", opts.API)
					r.Handle("/middleend/*", opts.API)
				})
			}
		})
	})

	return r
}

func mustRoleRouter(opts RouterOptions, mount auth.Mount, openWhenEmpty bool, logger *zap.Logger) func(http.Handler) http.Handler {
	mw, err := gridmiddleware.NewRoleRouter(gridmiddleware.RoleRouterDependencies{
		Rules:         opts.Rules,
		Mount:         mount,
		OpenWhenEmpty: openWhenEmpty,
		Metrics:       opts.Metrics,
		Logger:        logger.Named("authz"),
	})
	if err != nil {
		panic(err)
	}
	return mw
}

// NewH2CHandler wraps the router with an h2c server to provide HTTP/2 over
// cleartext for upstream-facing clients.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}
