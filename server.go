// Package authcore is the authentication and session core for multi-tenant
// application servers. It normalizes Google, Microsoft, and Apple sign-in
// behind a single orchestrated flow, keeps sessions in an encrypted
// in-process store, and runs a local OAuth 2.1 authorization server so
// tools and agents can obtain scoped bearer tokens via the
// authorization-code grant with PKCE.
//
// Server is the assembly point: it builds providers, storage, and the
// security services from a Config and exposes the HTTP surface through
// Handler(). The pieces compose individually as well; see the server,
// session, providers, security, and storage packages.
package authcore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/auth-core/instrumentation"
	"github.com/giantswarm/auth-core/providers"
	"github.com/giantswarm/auth-core/providers/apple"
	"github.com/giantswarm/auth-core/providers/google"
	"github.com/giantswarm/auth-core/providers/microsoft"
	"github.com/giantswarm/auth-core/security"
	"github.com/giantswarm/auth-core/server"
	"github.com/giantswarm/auth-core/session"
	"github.com/giantswarm/auth-core/storage"
	"github.com/giantswarm/auth-core/storage/memory"
	"github.com/giantswarm/auth-core/storage/sqlite"
	"github.com/giantswarm/auth-core/storage/valkey"
)

// Server wires the whole stack together: providers, session store, CSRF
// state codec, rate limiter, auditor, storage backend, orchestrator, local
// authorization server, and HTTP handler.
type Server struct {
	config *Config
	logger *slog.Logger

	orchestrator *server.Orchestrator
	local        *server.LocalAuthServer
	sessions     *session.Store
	auditor      *security.Auditor
	limiter      *security.RateLimiter
	eventLimiter *security.WindowedRateLimiter
	clients      storage.ClientStore
	telemetry    *instrumentation.Instrumentation

	handler *Handler
	routes  http.Handler

	closeStorage func() error
}

// New assembles a Server from the config. The user repository is where
// callback identities are persisted and roles are read back from; it is
// always supplied by the embedding application.
func New(cfg *Config, users server.UserRepository) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := cfg.Logger

	encryptionKey := cfg.Security.EncryptionKey
	if len(encryptionKey) == 0 {
		key, err := security.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate encryption key: %w", err)
		}
		encryptionKey = key
		logger.Warn("Generated ephemeral session encryption key; sessions will not survive a restart")
	}
	stateKey := cfg.Security.StateKey
	if len(stateKey) == 0 {
		key, err := security.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate state key: %w", err)
		}
		stateKey = key
		logger.Warn("Generated ephemeral state signing key; in-flight logins will not survive a restart")
	}

	encryptor, err := security.NewEncryptor(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("create encryptor: %w", err)
	}
	states, err := security.NewStateCodec(stateKey)
	if err != nil {
		return nil, fmt.Errorf("create state codec: %w", err)
	}

	auditor := security.NewAuditor(logger, cfg.Security.EnableAuditLogging)
	limiter := security.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	eventLimiter := security.NewWindowedRateLimiter(logger)

	telemetry, err := instrumentation.New(instrumentation.Config{
		ServiceName:    cfg.Instrumentation.ServiceName,
		ServiceVersion: cfg.Instrumentation.ServiceVersion,
		Enabled:        cfg.Instrumentation.Enabled,
		LogClientIPs:   cfg.Instrumentation.LogClientIPs,
	})
	if err != nil {
		return nil, fmt.Errorf("create instrumentation: %w", err)
	}

	providerList, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}

	codes, clients, closeStorage, err := buildStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	auditor.SetMetrics(telemetry.Metrics())

	sessions, err := session.NewWithOptions(encryptor, session.Options{
		MaxConcurrentSessions: cfg.Session.MaxConcurrent,
		SessionTimeout:        cfg.Session.Timeout,
		StrictIPValidation:    cfg.Session.StrictIPValidation,
		CleanupInterval:       cfg.Session.CleanupInterval,
		Logger:                logger,
		Auditor:               auditor,
		Metrics:               telemetry.Metrics(),
	})
	if err != nil {
		_ = closeStorage()
		return nil, fmt.Errorf("create session store: %w", err)
	}

	orchestrator, err := server.NewOrchestrator(server.OrchestratorOptions{
		Providers: providerList,
		Sessions:  sessions,
		States:    states,
		Limiter:   limiter,
		Auditor:   auditor,
		Users:     users,
		Metrics:   telemetry.Metrics(),
		Logger:    logger,
	})
	if err != nil {
		sessions.Stop()
		_ = closeStorage()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	local, err := server.NewLocalAuthServer(server.LocalAuthOptions{
		Codes:        codes,
		Clients:      clients,
		Sessions:     sessions,
		Auditor:      auditor,
		EventLimiter: eventLimiter,
		Metrics:      telemetry.Metrics(),
		Logger:       logger,
		CodeTTL:      cfg.Security.AuthorizationCodeTTL,
		LoginPath:    cfg.Security.LoginPath,
	})
	if err != nil {
		sessions.Stop()
		_ = closeStorage()
		return nil, fmt.Errorf("create local authorization server: %w", err)
	}

	sessionCount := func() int64 { return int64(sessions.Count()) }
	if err := telemetry.RegisterSizeCallbacks(nil, nil, sessionCount); err != nil {
		logger.Warn("Failed to register size gauges", "error", err)
	}

	handler, err := NewHandler(HandlerOptions{
		Orchestrator:      orchestrator,
		Local:             local,
		Cookie:            cfg.Cookie,
		SessionTimeout:    cfg.Session.Timeout,
		Limiter:           limiter,
		TrustProxy:        cfg.RateLimit.TrustProxy,
		TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
		Metrics:           telemetry.Metrics(),
		BaseURL:           cfg.BaseURL,
		Logger:            logger,
	})
	if err != nil {
		sessions.Stop()
		_ = closeStorage()
		return nil, fmt.Errorf("create handler: %w", err)
	}

	return &Server{
		config:       cfg,
		logger:       logger,
		orchestrator: orchestrator,
		local:        local,
		sessions:     sessions,
		auditor:      auditor,
		limiter:      limiter,
		eventLimiter: eventLimiter,
		clients:      clients,
		telemetry:    telemetry,
		handler:      handler,
		routes:       handler.Routes(),
		closeStorage: closeStorage,
	}, nil
}

// buildProviders constructs every provider with a non-empty client ID.
func buildProviders(cfg *Config) ([]providers.Provider, error) {
	var list []providers.Provider

	if cfg.Google.ClientID != "" {
		p, err := google.NewProvider(&google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Scopes:       cfg.Google.Scopes,
			HTTPClient:   cfg.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if cfg.Microsoft.ClientID != "" {
		p, err := microsoft.NewProvider(&microsoft.Config{
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			TenantID:     cfg.Microsoft.TenantID,
			RedirectURL:  cfg.Microsoft.RedirectURL,
			Scopes:       cfg.Microsoft.Scopes,
			HTTPClient:   cfg.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if cfg.Apple.ClientID != "" {
		p, err := apple.NewProvider(&apple.Config{
			ClientID:    cfg.Apple.ClientID,
			TeamID:      cfg.Apple.TeamID,
			KeyID:       cfg.Apple.KeyID,
			PrivateKey:  cfg.Apple.PrivateKey,
			RedirectURL: cfg.Apple.RedirectURL,
			Scopes:      cfg.Apple.Scopes,
			HTTPClient:  cfg.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	return list, nil
}

// buildStorage opens the configured backend. The returned close function is
// safe to call exactly once.
func buildStorage(cfg *Config, logger *slog.Logger) (storage.AuthorizationCodeStore, storage.ClientStore, func() error, error) {
	switch cfg.Storage.Backend {
	case StorageBackendMemory:
		store := memory.New()
		store.SetLogger(logger)
		return store, store, func() error {
			store.Stop()
			return nil
		}, nil

	case StorageBackendSQLite:
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		store.SetLogger(logger)
		return store, store, store.Close, nil

	case StorageBackendValkey:
		store, err := valkey.New(valkey.Config{
			Address:   cfg.Storage.Valkey.Address,
			Password:  cfg.Storage.Valkey.Password,
			DB:        cfg.Storage.Valkey.DB,
			KeyPrefix: cfg.Storage.Valkey.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect valkey storage: %w", err)
		}
		return store, store, func() error {
			store.Close()
			return nil
		}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Handler returns the complete HTTP route set, ready to mount.
func (s *Server) Handler() http.Handler {
	return s.routes
}

// RequireSession wraps next and rejects requests without a live session;
// see Handler.RequireSession.
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return s.handler.RequireSession(next)
}

// Orchestrator exposes the login orchestrator for embedding applications
// that need session validation outside the HTTP surface.
func (s *Server) Orchestrator() *server.Orchestrator {
	return s.orchestrator
}

// LocalAuth exposes the local authorization server.
func (s *Server) LocalAuth() *server.LocalAuthServer {
	return s.local
}

// Sessions exposes the session store.
func (s *Server) Sessions() *session.Store {
	return s.sessions
}

// RegisterClient registers an OAuth client for the local grant. A non-empty
// secret marks the client confidential and is stored bcrypt-hashed; public
// clients pass an empty secret and rely on PKCE.
func (s *Server) RegisterClient(ctx context.Context, client *storage.Client, secret string) error {
	if client == nil {
		return fmt.Errorf("client is required")
	}
	if client.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}

	if secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash client secret: %w", err)
		}
		client.ClientSecretHash = string(hash)
		client.ClientType = "confidential"
	} else if client.ClientType == "" {
		client.ClientType = "public"
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	return s.clients.SaveClient(ctx, client)
}

// Close releases background loops and the storage backend. The server must
// not be used afterwards.
func (s *Server) Close() error {
	s.sessions.Stop()
	s.limiter.Stop()
	s.eventLimiter.Stop()
	if err := s.telemetry.Shutdown(context.Background()); err != nil {
		s.logger.Warn("Instrumentation shutdown failed", "error", err)
	}
	return s.closeStorage()
}
