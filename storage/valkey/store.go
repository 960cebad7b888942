// Package valkey provides a Valkey/Redis-compatible implementation of the
// storage interfaces for multi-instance deployments. Authorization codes are
// stored with a native TTL matching their expiry, and redemption runs as a
// Lua script so the check-and-mark is atomic across server instances.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/auth-core/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "auth:"

	// connectionVerifyTimeout bounds initial connection verification.
	connectionVerifyTimeout = 5 * time.Second

	// scanBatchSize is the number of keys to fetch per SCAN iteration.
	scanBatchSize = 100
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379".
	Address string

	// Password is the optional password for Valkey authentication.
	Password string

	// DB is the optional database number (default 0).
	DB int

	// KeyPrefix is the prefix for all keys (default "auth:").
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections.
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of AuthorizationCodeStore and
// ClientStore.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

var (
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.ClientStore            = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance. Returns an error if the
// connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// calculateTTL calculates the TTL for a key based on expiry time.
// Returns 0 if the key has already expired.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// luaRedeemAuthorizationCode atomically checks that an authorization code is
// unused and marks it as used. Only one concurrent redemption of the same
// code can succeed; the rest observe the used flag.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns:
//   - original JSON data if the code was unused and is now marked used
//   - "NOT_FOUND" if the key doesn't exist
//   - "EXPIRED" if the code has expired
//   - "ALREADY_USED:<json>" if the code was already used (data returned for
//     reuse detection)
const luaRedeemAuthorizationCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`
