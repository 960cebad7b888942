package authcore

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/giantswarm/auth-core/session"
)

const (
	// DefaultCookieName is the session cookie name when none is configured.
	DefaultCookieName = "auth_session"

	// DefaultLoginPath is where the authorize endpoint sends unauthenticated
	// browsers.
	DefaultLoginPath = "/login"
)

// Config holds everything needed to assemble a Server. Provider sections are
// enabled by presence: a section with a non-empty ClientID is wired, an empty
// one is skipped. At least one provider must be configured.
type Config struct {
	// BaseURL is the externally visible base URL of this server, used for
	// security headers and redirect construction. Required.
	BaseURL string

	Google    GoogleConfig
	Microsoft MicrosoftConfig
	Apple     AppleConfig

	Session         SessionConfig
	Cookie          CookieConfig
	RateLimit       RateLimitConfig
	Security        SecurityConfig
	Storage         StorageConfig
	Instrumentation InstrumentationConfig

	// Logger is the structured logger for all components. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// HTTPClient overrides the outbound HTTP client used for provider
	// calls. Defaults to a client with a 30s timeout inside each provider.
	HTTPClient *http.Client
}

// GoogleConfig configures the Google OIDC provider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// MicrosoftConfig configures the Microsoft identity platform provider.
type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURL  string
	Scopes       []string
}

// AppleConfig configures Sign in with Apple. PrivateKey is the PEM-encoded
// PKCS#8 EC key downloaded from the Apple developer portal; the client
// secret JWT is minted from it on demand.
type AppleConfig struct {
	ClientID    string
	TeamID      string
	KeyID       string
	PrivateKey  string
	RedirectURL string
	Scopes      []string
}

// SessionConfig configures the encrypted session store.
type SessionConfig struct {
	// Timeout is the session lifetime. Default 24h.
	Timeout time.Duration

	// MaxConcurrent caps live sessions per user, oldest evicted first.
	// 0 uses the store default; negative disables the cap.
	MaxConcurrent int

	// StrictIPValidation makes a client IP change invalidate the session
	// instead of being tolerated.
	StrictIPValidation bool

	// CleanupInterval controls the background expiry sweep.
	CleanupInterval time.Duration
}

// CookieConfig configures the session cookie. The zero value produces a
// Secure, HttpOnly cookie; both attributes are opt-out.
type CookieConfig struct {
	Name   string
	Domain string
	Path   string

	// Insecure omits the Secure attribute so the cookie is sent over
	// plain HTTP. Only for local development.
	Insecure bool

	// ScriptReadable omits the HttpOnly attribute. Leave unset unless a
	// frontend genuinely must read the cookie from script.
	ScriptReadable bool

	SameSite http.SameSite
}

// RateLimitConfig configures the per-IP token bucket in front of the
// authentication endpoints.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client IP. Default 10.
	RequestsPerSecond int

	// Burst is the bucket size. Default 20.
	Burst int

	// TrustProxy enables X-Forwarded-For parsing. Only enable behind a
	// reverse proxy you control.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of this server,
	// used to pick the right hop out of X-Forwarded-For. Default 1.
	TrustedProxyCount int
}

// SecurityConfig holds key material and audit settings.
type SecurityConfig struct {
	// EncryptionKey is the 32-byte AES-256 key sealing session records.
	// Empty means a random ephemeral key is generated at startup, which
	// invalidates all sessions on restart.
	EncryptionKey []byte

	// StateKey is the HMAC key signing CSRF state values, at least 32
	// bytes. Empty means a random ephemeral key is generated at startup.
	StateKey []byte

	// EnableAuditLogging turns on structured security audit events.
	EnableAuditLogging bool

	// AuthorizationCodeTTL bounds locally issued authorization codes.
	// Default 10 minutes.
	AuthorizationCodeTTL time.Duration

	// LoginPath is where unauthenticated authorize requests are sent.
	LoginPath string
}

// InstrumentationConfig configures OpenTelemetry metrics and traces. When
// Enabled is false the no-op providers are used and recording costs nothing.
type InstrumentationConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// LogClientIPs controls whether client IPs appear in trace attributes.
	LogClientIPs bool
}

// Storage backend names.
const (
	StorageBackendMemory = "memory"
	StorageBackendSQLite = "sqlite"
	StorageBackendValkey = "valkey"
)

// StorageConfig selects the backend for authorization codes and client
// registrations. Sessions always live in the in-process encrypted store.
type StorageConfig struct {
	// Backend is one of "memory", "sqlite", or "valkey". Default "memory".
	Backend string

	// SQLitePath is the database file path for the sqlite backend.
	SQLitePath string

	Valkey ValkeyConfig
}

// ValkeyConfig configures the valkey storage backend.
type ValkeyConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// Validate checks the configuration for problems that would otherwise only
// surface at request time.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.Google.ClientID == "" && c.Microsoft.ClientID == "" && c.Apple.ClientID == "" {
		return fmt.Errorf("at least one provider must be configured")
	}
	if len(c.Security.EncryptionKey) != 0 && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(c.Security.EncryptionKey))
	}
	if len(c.Security.StateKey) != 0 && len(c.Security.StateKey) < 32 {
		return fmt.Errorf("state key must be at least 32 bytes, got %d", len(c.Security.StateKey))
	}
	switch c.Storage.Backend {
	case "", StorageBackendMemory:
	case StorageBackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite storage requires a database path")
		}
	case StorageBackendValkey:
		if c.Storage.Valkey.Address == "" {
			return fmt.Errorf("valkey storage requires an address")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// applyDefaults fills zero values in place.
func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Session.Timeout <= 0 {
		c.Session.Timeout = session.DefaultSessionTimeout
	}
	if c.Cookie.Name == "" {
		c.Cookie.Name = DefaultCookieName
	}
	if c.Cookie.Path == "" {
		c.Cookie.Path = "/"
	}
	if c.Cookie.SameSite == 0 {
		c.Cookie.SameSite = http.SameSiteLaxMode
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.TrustedProxyCount <= 0 {
		c.RateLimit.TrustedProxyCount = 1
	}
	if c.Security.LoginPath == "" {
		c.Security.LoginPath = DefaultLoginPath
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendMemory
	}
}

// envConfig is the flat environment representation of Config. Keys holding
// binary material (encryption and state signing keys) are base64 encoded.
type envConfig struct {
	BaseURL string `env:"AUTH_CORE_BASE_URL"`

	GoogleClientID     string   `env:"AUTH_CORE_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string   `env:"AUTH_CORE_GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string   `env:"AUTH_CORE_GOOGLE_REDIRECT_URL"`
	GoogleScopes       []string `env:"AUTH_CORE_GOOGLE_SCOPES" envSeparator:","`

	MicrosoftClientID     string   `env:"AUTH_CORE_MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string   `env:"AUTH_CORE_MICROSOFT_CLIENT_SECRET"`
	MicrosoftTenantID     string   `env:"AUTH_CORE_MICROSOFT_TENANT_ID" envDefault:"common"`
	MicrosoftRedirectURL  string   `env:"AUTH_CORE_MICROSOFT_REDIRECT_URL"`
	MicrosoftScopes       []string `env:"AUTH_CORE_MICROSOFT_SCOPES" envSeparator:","`

	AppleClientID    string   `env:"AUTH_CORE_APPLE_CLIENT_ID"`
	AppleTeamID      string   `env:"AUTH_CORE_APPLE_TEAM_ID"`
	AppleKeyID       string   `env:"AUTH_CORE_APPLE_KEY_ID"`
	ApplePrivateKey  string   `env:"AUTH_CORE_APPLE_PRIVATE_KEY"`
	AppleRedirectURL string   `env:"AUTH_CORE_APPLE_REDIRECT_URL"`
	AppleScopes      []string `env:"AUTH_CORE_APPLE_SCOPES" envSeparator:","`

	SessionTimeout         time.Duration `env:"AUTH_CORE_SESSION_TIMEOUT" envDefault:"24h"`
	SessionMaxConcurrent   int           `env:"AUTH_CORE_SESSION_MAX_CONCURRENT" envDefault:"3"`
	SessionStrictIP        bool          `env:"AUTH_CORE_SESSION_STRICT_IP" envDefault:"false"`
	SessionCleanupInterval time.Duration `env:"AUTH_CORE_SESSION_CLEANUP_INTERVAL" envDefault:"1m"`

	CookieName     string `env:"AUTH_CORE_COOKIE_NAME" envDefault:"auth_session"`
	CookieDomain   string `env:"AUTH_CORE_COOKIE_DOMAIN"`
	CookiePath     string `env:"AUTH_CORE_COOKIE_PATH" envDefault:"/"`
	CookieSecure   bool   `env:"AUTH_CORE_COOKIE_SECURE" envDefault:"true"`
	CookieHTTPOnly bool   `env:"AUTH_CORE_COOKIE_HTTP_ONLY" envDefault:"true"`
	CookieSameSite string `env:"AUTH_CORE_COOKIE_SAME_SITE" envDefault:"lax"`

	RateLimitRPS      int  `env:"AUTH_CORE_RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst    int  `env:"AUTH_CORE_RATE_LIMIT_BURST" envDefault:"20"`
	TrustProxy        bool `env:"AUTH_CORE_TRUST_PROXY" envDefault:"false"`
	TrustedProxyCount int  `env:"AUTH_CORE_TRUSTED_PROXY_COUNT" envDefault:"1"`

	EncryptionKey        string        `env:"AUTH_CORE_ENCRYPTION_KEY"`
	StateKey             string        `env:"AUTH_CORE_STATE_KEY"`
	EnableAuditLogging   bool          `env:"AUTH_CORE_AUDIT_LOGGING" envDefault:"true"`
	AuthorizationCodeTTL time.Duration `env:"AUTH_CORE_CODE_TTL" envDefault:"10m"`
	LoginPath            string        `env:"AUTH_CORE_LOGIN_PATH" envDefault:"/login"`

	InstrumentationEnabled bool   `env:"AUTH_CORE_INSTRUMENTATION_ENABLED" envDefault:"false"`
	ServiceName            string `env:"AUTH_CORE_SERVICE_NAME" envDefault:"auth-core"`
	ServiceVersion         string `env:"AUTH_CORE_SERVICE_VERSION" envDefault:"unknown"`
	LogClientIPs           bool   `env:"AUTH_CORE_LOG_CLIENT_IPS" envDefault:"false"`

	StorageBackend  string `env:"AUTH_CORE_STORAGE_BACKEND" envDefault:"memory"`
	SQLitePath      string `env:"AUTH_CORE_SQLITE_PATH"`
	ValkeyAddress   string `env:"AUTH_CORE_VALKEY_ADDRESS"`
	ValkeyPassword  string `env:"AUTH_CORE_VALKEY_PASSWORD"`
	ValkeyDB        int    `env:"AUTH_CORE_VALKEY_DB" envDefault:"0"`
	ValkeyKeyPrefix string `env:"AUTH_CORE_VALKEY_KEY_PREFIX" envDefault:"auth:"`
}

// LoadConfigFromEnv builds a Config from AUTH_CORE_* environment variables.
// The result still goes through Validate and applyDefaults inside New.
func LoadConfigFromEnv() (*Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	sameSite, err := parseSameSite(raw.CookieSameSite)
	if err != nil {
		return nil, err
	}

	encryptionKey, err := decodeKey("AUTH_CORE_ENCRYPTION_KEY", raw.EncryptionKey)
	if err != nil {
		return nil, err
	}
	stateKey, err := decodeKey("AUTH_CORE_STATE_KEY", raw.StateKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		BaseURL: raw.BaseURL,
		Google: GoogleConfig{
			ClientID:     raw.GoogleClientID,
			ClientSecret: raw.GoogleClientSecret,
			RedirectURL:  raw.GoogleRedirectURL,
			Scopes:       raw.GoogleScopes,
		},
		Microsoft: MicrosoftConfig{
			ClientID:     raw.MicrosoftClientID,
			ClientSecret: raw.MicrosoftClientSecret,
			TenantID:     raw.MicrosoftTenantID,
			RedirectURL:  raw.MicrosoftRedirectURL,
			Scopes:       raw.MicrosoftScopes,
		},
		Apple: AppleConfig{
			ClientID:    raw.AppleClientID,
			TeamID:      raw.AppleTeamID,
			KeyID:       raw.AppleKeyID,
			PrivateKey:  raw.ApplePrivateKey,
			RedirectURL: raw.AppleRedirectURL,
			Scopes:      raw.AppleScopes,
		},
		Session: SessionConfig{
			Timeout:            raw.SessionTimeout,
			MaxConcurrent:      raw.SessionMaxConcurrent,
			StrictIPValidation: raw.SessionStrictIP,
			CleanupInterval:    raw.SessionCleanupInterval,
		},
		Cookie: CookieConfig{
			Name:           raw.CookieName,
			Domain:         raw.CookieDomain,
			Path:           raw.CookiePath,
			Insecure:       !raw.CookieSecure,
			ScriptReadable: !raw.CookieHTTPOnly,
			SameSite:       sameSite,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: raw.RateLimitRPS,
			Burst:             raw.RateLimitBurst,
			TrustProxy:        raw.TrustProxy,
			TrustedProxyCount: raw.TrustedProxyCount,
		},
		Security: SecurityConfig{
			EncryptionKey:        encryptionKey,
			StateKey:             stateKey,
			EnableAuditLogging:   raw.EnableAuditLogging,
			AuthorizationCodeTTL: raw.AuthorizationCodeTTL,
			LoginPath:            raw.LoginPath,
		},
		Instrumentation: InstrumentationConfig{
			Enabled:        raw.InstrumentationEnabled,
			ServiceName:    raw.ServiceName,
			ServiceVersion: raw.ServiceVersion,
			LogClientIPs:   raw.LogClientIPs,
		},
		Storage: StorageConfig{
			Backend:    raw.StorageBackend,
			SQLitePath: raw.SQLitePath,
			Valkey: ValkeyConfig{
				Address:   raw.ValkeyAddress,
				Password:  raw.ValkeyPassword,
				DB:        raw.ValkeyDB,
				KeyPrefix: raw.ValkeyKeyPrefix,
			},
		},
	}, nil
}

func parseSameSite(value string) (http.SameSite, error) {
	switch strings.ToLower(value) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("invalid SameSite value %q (want lax, strict, or none)", value)
	}
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return key, nil
}
