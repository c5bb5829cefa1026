package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "GATEWAY"

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
	EnvironmentTest        = "test"

	SessionStoreDatabase = "database"
	SessionStoreRedis    = "redis"
)

// ErrMissingDatabaseURL is returned when no backing-store connection target is configured.
var ErrMissingDatabaseURL = errors.New("GATEWAY_DATABASE_URL is required")

// Config holds the gateway configuration
type Config struct {
	// Database connection string (DSN). Required.
	DatabaseURL string

	// Server bind address (host:port)
	ServerAddr string

	// Deployment environment: development, production or test.
	// Production enables Secure cookies and disables verbose request logging.
	Environment string

	// Enable debug logging (forces request logging in production)
	Debug bool

	// Maximum database connection pool size
	MaxDBConnections int

	Upstreams     UpstreamConfig
	Session       SessionConfig
	Login         LoginConfig
	OIDC          OIDCConfig
	Observability ObservabilityConfig

	// Origins allowed to call the gateway cross-origin with credentials
	CORSAllowedOrigins []string

	// Proxy addresses or CIDR ranges whose X-Forwarded-For and X-Real-IP
	// headers name the client. Empty means the socket peer is the client.
	TrustedProxies []string
}

// UpstreamConfig names the proxied services.
type UpstreamConfig struct {
	UI      string
	API     string
	Timeout time.Duration
}

// SessionConfig controls the session cookie and its backing store.
type SessionConfig struct {
	// Secret is the hex encoded cookie signing key. A random key is generated
	// at startup when empty, which invalidates sessions on restart.
	Secret   string
	TTL      time.Duration
	Store    string
	RedisURL string
}

// LoginConfig throttles repeated failed logins per client address.
type LoginConfig struct {
	MaxFailures   int
	FailureWindow time.Duration
}

// OIDCConfig enables the optional federated credential strategy.
// Leave Issuer empty to disable it.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// Enabled reports whether the OIDC strategy is configured.
func (c OIDCConfig) Enabled() bool {
	return c.Issuer != ""
}

// ObservabilityConfig configures tracing export.
type ObservabilityConfig struct {
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
}

// SetDefaults registers default values on the global viper instance.
func SetDefaults() {
	viper.SetDefault("server_addr", ":3000")
	viper.SetDefault("environment", EnvironmentDevelopment)
	viper.SetDefault("debug", false)
	viper.SetDefault("max_db_connections", 25)
	viper.SetDefault("ui_upstream", "http://localhost:8080")
	viper.SetDefault("api_upstream", "http://localhost:9090")
	viper.SetDefault("upstream_timeout", "60s")
	viper.SetDefault("session_ttl", "24h")
	viper.SetDefault("session_store", SessionStoreDatabase)
	viper.SetDefault("login_max_failures", 10)
	viper.SetDefault("login_failure_window", "15m")
	viper.SetDefault("oidc.scopes", []string{"openid", "profile", "email"})
	viper.SetDefault("otel.service_name", "gridgate")
	viper.SetDefault("otel.service_version", "dev")
}

// Load reads configuration from GATEWAY_ prefixed environment variables,
// an optional config file already loaded into viper, and defaults.
func Load() (*Config, error) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	SetDefaults()

	cfg := &Config{
		DatabaseURL:      strings.TrimSpace(viper.GetString("database_url")),
		ServerAddr:       viper.GetString("server_addr"),
		Environment:      strings.ToLower(strings.TrimSpace(viper.GetString("environment"))),
		Debug:            viper.GetBool("debug"),
		MaxDBConnections: viper.GetInt("max_db_connections"),
		Upstreams: UpstreamConfig{
			UI:      viper.GetString("ui_upstream"),
			API:     viper.GetString("api_upstream"),
			Timeout: viper.GetDuration("upstream_timeout"),
		},
		Session: SessionConfig{
			Secret:   viper.GetString("session_secret"),
			TTL:      viper.GetDuration("session_ttl"),
			Store:    strings.ToLower(viper.GetString("session_store")),
			RedisURL: viper.GetString("redis_url"),
		},
		Login: LoginConfig{
			MaxFailures:   viper.GetInt("login_max_failures"),
			FailureWindow: viper.GetDuration("login_failure_window"),
		},
		OIDC: OIDCConfig{
			Issuer:       viper.GetString("oidc.issuer"),
			ClientID:     viper.GetString("oidc.client_id"),
			ClientSecret: viper.GetString("oidc.client_secret"),
			RedirectURI:  viper.GetString("oidc.redirect_uri"),
			Scopes:       viper.GetStringSlice("oidc.scopes"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint:   viper.GetString("otel.exporter_otlp_endpoint"),
			ServiceName:    viper.GetString("otel.service_name"),
			ServiceVersion: viper.GetString("otel.service_version"),
		},
		CORSAllowedOrigins: splitList(viper.GetStringSlice("cors_allowed_origins")),
		TrustedProxies:     splitList(viper.GetStringSlice("trusted_proxies")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and cross-field constraints.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}

	switch c.Environment {
	case EnvironmentDevelopment, EnvironmentProduction, EnvironmentTest:
	default:
		return fmt.Errorf("GATEWAY_ENVIRONMENT must be one of development, production, test (got %q)", c.Environment)
	}

	if err := validateUpstream("GATEWAY_UI_UPSTREAM", c.Upstreams.UI); err != nil {
		return err
	}
	if err := validateUpstream("GATEWAY_API_UPSTREAM", c.Upstreams.API); err != nil {
		return err
	}
	if c.Upstreams.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_UPSTREAM_TIMEOUT must be positive")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("GATEWAY_SESSION_TTL must be positive")
	}
	switch c.Session.Store {
	case SessionStoreDatabase:
	case SessionStoreRedis:
		if c.Session.RedisURL == "" {
			return fmt.Errorf("GATEWAY_REDIS_URL is required when GATEWAY_SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("GATEWAY_SESSION_STORE must be %q or %q (got %q)", SessionStoreDatabase, SessionStoreRedis, c.Session.Store)
	}
	if c.Session.Secret != "" {
		if _, err := c.SessionSecretBytes(); err != nil {
			return err
		}
	}

	if c.Login.MaxFailures < 0 {
		return fmt.Errorf("GATEWAY_LOGIN_MAX_FAILURES must not be negative")
	}

	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}

	if c.OIDC.Enabled() {
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("GATEWAY_OIDC_CLIENT_ID is required when GATEWAY_OIDC_ISSUER is set")
		}
		if c.OIDC.RedirectURI == "" {
			return fmt.Errorf("GATEWAY_OIDC_REDIRECT_URI is required when GATEWAY_OIDC_ISSUER is set")
		}
	}

	return nil
}

// IsProduction reports whether the gateway runs behind encrypted transport.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// VerboseRequestLogging reports whether every request is logged.
func (c *Config) VerboseRequestLogging() bool {
	return c.Debug || !c.IsProduction()
}

// SessionSecretBytes decodes the configured signing secret.
func (c *Config) SessionSecretBytes() ([]byte, error) {
	secret, err := hex.DecodeString(c.Session.Secret)
	if err != nil {
		return nil, fmt.Errorf("GATEWAY_SESSION_SECRET must be hex encoded: %w", err)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("GATEWAY_SESSION_SECRET must decode to at least 32 bytes (got %d)", len(secret))
	}
	return secret, nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("GATEWAY_TRUSTED_PROXIES entry %q: %w", raw, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("GATEWAY_TRUSTED_PROXIES entry %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func validateUpstream(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https (got %q)", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host (got %q)", name, raw)
	}
	return nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
