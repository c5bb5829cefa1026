package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/config"
	"github.com/terraconstructs/gridgate/internal/db/bunx"
	"github.com/terraconstructs/gridgate/internal/proxy"
	"github.com/terraconstructs/gridgate/internal/repository"
	"github.com/terraconstructs/gridgate/internal/server"
	"github.com/terraconstructs/gridgate/internal/services/iam"
	"github.com/terraconstructs/gridgate/internal/telemetry"
)

// sessionPurgeInterval is how often expired sessions are removed from the database store.
const sessionPurgeInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long:  `Starts the HTTP server that authenticates users and proxies the UI and API mounts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		shutdownTracing, err := telemetry.Init(ctx, cfg.Observability, cfg.Environment, logger.Named("otel"))
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()

		db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxConnections: cfg.MaxDBConnections})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)
		logger.Info("connected to database", zap.String("type", string(bunx.DetectDatabaseType(cfg.DatabaseURL))))

		userRepo := repository.NewBunUserRepository(db)

		var sessionRepo repository.SessionRepository
		switch cfg.Session.Store {
		case config.SessionStoreRedis:
			client, err := repository.OpenRedis(ctx, cfg.Session.RedisURL)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			defer client.Close()
			sessionRepo = repository.NewRedisSessionRepository(client)
			logger.Info("using redis session store")
		default:
			sessionRepo = repository.NewBunSessionRepository(db)
		}

		secret, err := sessionSecret()
		if err != nil {
			return err
		}
		cookies, err := auth.NewCookieCodec(secret, cfg.Session.TTL, cfg.IsProduction())
		if err != nil {
			return fmt.Errorf("failed to create cookie codec: %w", err)
		}

		authn := iam.NewSessionAuthenticator(userRepo, sessionRepo, cookies, logger.Named("session"))
		authn.RegisterVerifier(iam.StrategyLocal, iam.NewLocalVerifier(userRepo, logger.Named("verifier")))

		var relyingParty *auth.RelyingParty
		if cfg.OIDC.Enabled() {
			relyingParty, err = auth.NewRelyingParty(ctx, cfg.OIDC, cfg.IsProduction())
			if err != nil {
				return fmt.Errorf("failed to create relying party: %w", err)
			}
			authn.RegisterVerifier(iam.StrategyOIDC, iam.NewOIDCVerifier(userRepo, logger.Named("oidc")))
			logger.Info("OIDC login enabled", zap.String("issuer", cfg.OIDC.Issuer))
		}

		enforcer, err := auth.InitEnforcer(db)
		if err != nil {
			return fmt.Errorf("failed to initialize casbin enforcer: %w", err)
		}
		rules := auth.NewRuleStore(enforcer)
		if _, err := rules.RuleSet(auth.MountAPI); err != nil {
			return fmt.Errorf("failed to load access rules: %w", err)
		}
		trustedProxies, err := cfg.TrustedProxyPrefixes()
		if err != nil {
			return err
		}

		metrics := telemetry.NewMetrics()

		ui, err := proxy.New("ui", cfg.Upstreams.UI, proxy.Options{
			Timeout: cfg.Upstreams.Timeout,
			Metrics: metrics,
			Logger:  logger.Named("proxy.ui"),
		})
		if err != nil {
			return err
		}
		api, err := proxy.New("api", cfg.Upstreams.API, proxy.Options{
			Timeout: cfg.Upstreams.Timeout,
			Metrics: metrics,
			Logger:  logger.Named("proxy.api"),
		})
		if err != nil {
			return err
		}

		routerOpts := server.RouterOptions{
			Authenticator:  authn,
			Users:          iam.NewUserService(userRepo, sessionRepo),
			Rules:          rules,
			Throttle:       auth.NewLoginThrottle(cfg.Login.MaxFailures, cfg.Login.FailureWindow),
			RelyingParty:   relyingParty,
			UI:             ui,
			API:            api,
			TrustedProxies: trustedProxies,
			Metrics:        metrics,
			Logger:         logger,
			VerboseLogging: cfg.VerboseRequestLogging(),
		}
		if len(cfg.CORSAllowedOrigins) > 0 {
			corsOpts := server.DefaultCORSOptions(cfg.CORSAllowedOrigins)
			routerOpts.CORSOptions = &corsOpts
		}

		// No WriteTimeout: proxied responses may stream for as long as the upstream allows.
		srv := &http.Server{
			Addr:              cfg.ServerAddr,
			Handler:           server.NewH2CHandler(routerOpts),
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		purgeCtx, cancelPurge := context.WithCancel(ctx)
		defer cancelPurge()
		go purgeSessions(purgeCtx, authn)

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting gateway",
				zap.String("addr", cfg.ServerAddr),
				zap.String("ui", cfg.Upstreams.UI),
				zap.String("api", cfg.Upstreams.API))
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP reloads access rules edited with the rules command.
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-reload:
				if err := rules.Reload(); err != nil {
					logger.Error("access rule reload failed", zap.Stringer("signal", sig), zap.Error(err))
					continue
				}
				logger.Info("access rules reloaded", zap.Stringer("signal", sig))

			case sig := <-shutdown:
				logger.Info("shutting down gracefully", zap.Stringer("signal", sig))

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					_ = srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				logger.Info("server stopped")
				return nil
			}
		}
	},
}

// sessionSecret returns the configured signing key or a random one.
func sessionSecret() ([]byte, error) {
	if cfg.Session.Secret != "" {
		return cfg.SessionSecretBytes()
	}
	logger.Warn("GATEWAY_SESSION_SECRET not set; sessions will not survive a restart")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	return secret, nil
}

func purgeSessions(ctx context.Context, authn *iam.SessionAuthenticator) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := authn.PurgeExpired(ctx)
			if err != nil {
				logger.Error("expired session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("purged expired sessions", zap.Int64("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
