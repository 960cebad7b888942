// Package session provides the encrypted in-memory session store. Records
// are serialized and sealed with AES-256-GCM before they touch the shared
// maps, device fingerprints are checked on every validation, and each user
// is capped at a configurable number of concurrent sessions with
// oldest-first eviction.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/auth-core/security"
)

const (
	// sessionTokenBytes gives 256 bits of entropy per token.
	sessionTokenBytes = 32

	// DefaultMaxConcurrentSessions caps live sessions per user.
	DefaultMaxConcurrentSessions = 3

	// DefaultSessionTimeout is the session lifetime when none is configured.
	DefaultSessionTimeout = 24 * time.Hour

	defaultCleanupInterval = time.Minute
)

// Sentinel errors returned by Validate and Invalidate.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrFingerprintMismatch = errors.New("session fingerprint mismatch")
)

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	// MaxConcurrentSessions limits live sessions per user. 0 uses
	// DefaultMaxConcurrentSessions; negative disables the cap.
	MaxConcurrentSessions int

	// SessionTimeout is the lifetime of a newly created session.
	SessionTimeout time.Duration

	// StrictIPValidation makes an IP change fatal instead of tolerated.
	// The User-Agent hash is always checked regardless of this setting.
	StrictIPValidation bool

	// CleanupInterval controls the background expiry sweep. 0 uses one
	// minute; negative disables the sweep (call CleanupExpired manually).
	CleanupInterval time.Duration

	Logger  *slog.Logger
	Auditor *security.Auditor

	// Metrics, when set, receives session lifecycle counters.
	Metrics Metrics
}

// Metrics receives session lifecycle and crypto counters. All methods must
// be safe for concurrent use; instrumentation.Metrics satisfies this.
type Metrics interface {
	RecordSessionCreated(ctx context.Context, provider string)
	RecordSessionEvicted(ctx context.Context)
	RecordSessionValidation(ctx context.Context, result string)
	RecordFingerprintMismatch(ctx context.Context)
	RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64)
}

// Store holds encrypted session records keyed by opaque token, plus a
// per-user index in insertion order used for concurrency-cap eviction.
//
// Lock order: sessionsMu before usersMu, always. Encryption and decryption
// happen outside the write locks so the critical sections stay short.
type Store struct {
	sessionsMu sync.RWMutex
	sessions   map[string]string // token -> sealed record

	usersMu sync.Mutex
	users   map[string][]string // user ID -> tokens, oldest first

	encryptor *security.Encryptor
	auditor   *security.Auditor
	logger    *slog.Logger
	metrics   Metrics

	maxConcurrent  int
	sessionTimeout time.Duration
	strictIP       bool

	now func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// CreateParams carries everything needed to mint a session. Role flags come
// from the authoritative user record, never from provider claims.
type CreateParams struct {
	UserID   string
	Provider string
	Email    string
	Name     string
	IsAdmin  bool
	IsEditor bool
	Resource string

	IPAddress string
	UserAgent string
}

// New creates a Store with default options. The encryptor is required; pass
// one built from an empty key to store records unencrypted (development only).
func New(encryptor *security.Encryptor) (*Store, error) {
	return NewWithOptions(encryptor, Options{})
}

// NewWithOptions creates a Store with explicit options.
func NewWithOptions(encryptor *security.Encryptor, opts Options) (*Store, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}

	maxConcurrent := opts.MaxConcurrentSessions
	if maxConcurrent == 0 {
		maxConcurrent = DefaultMaxConcurrentSessions
	} else if maxConcurrent < 0 {
		maxConcurrent = 0 // unbounded
	}

	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		sessions:       make(map[string]string),
		users:          make(map[string][]string),
		encryptor:      encryptor,
		auditor:        opts.Auditor,
		logger:         logger,
		metrics:        opts.Metrics,
		maxConcurrent:  maxConcurrent,
		sessionTimeout: timeout,
		strictIP:       opts.StrictIPValidation,
		now:            time.Now,
		stopCleanup:    make(chan struct{}),
	}

	interval := opts.CleanupInterval
	if interval == 0 {
		interval = defaultCleanupInterval
	}
	if interval > 0 {
		go s.cleanupLoop(interval)
	}

	return s, nil
}

// Stop halts the background cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// Create mints a new session for the user and returns its opaque token.
// If the user is at the concurrency cap, their oldest session is evicted
// first. Eviction order is strictly insertion order, not last access.
func (s *Store) Create(params CreateParams) (string, error) {
	if params.UserID == "" {
		return "", fmt.Errorf("user ID cannot be empty")
	}
	if params.IPAddress == "" {
		return "", fmt.Errorf("IP address cannot be empty")
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	record := &Record{
		ID:         token,
		UserID:     params.UserID,
		Provider:   params.Provider,
		Email:      params.Email,
		Name:       params.Name,
		IsAdmin:    params.IsAdmin,
		IsEditor:   params.IsEditor,
		Resource:   params.Resource,
		CreatedAt:  now,
		LastAccess: now,
		ExpiresAt:  now.Add(s.sessionTimeout),
		Fingerprint: Fingerprint{
			IPAddress:          params.IPAddress,
			UserAgentHash:      security.HashUserAgent(params.UserAgent),
			StrictIPValidation: s.strictIP,
		},
	}

	sealed, err := s.seal(record)
	if err != nil {
		return "", err
	}

	evicted := s.insert(params.UserID, token, sealed)
	if evicted != "" {
		s.logger.Info("Evicted oldest session at concurrency limit",
			"user_id", security.HashUserID(params.UserID),
			"limit", s.maxConcurrent)
		if s.auditor != nil {
			s.auditor.LogSessionEvicted(params.UserID, s.maxConcurrent)
		}
		if s.metrics != nil {
			s.metrics.RecordSessionEvicted(context.Background())
		}
	}

	if s.auditor != nil {
		s.auditor.LogSessionCreated(params.UserID, params.Provider, params.IPAddress)
	}
	if s.metrics != nil {
		s.metrics.RecordSessionCreated(context.Background(), params.Provider)
	}
	s.logger.Debug("Created session",
		"user_id", security.HashUserID(params.UserID),
		"provider", params.Provider)

	return token, nil
}

// insert stores the sealed record and updates the per-user index, evicting
// the user's oldest session if they are at the cap. Returns the evicted
// token, or "" when nothing was evicted.
func (s *Store) insert(userID, token, sealed string) (evicted string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	if s.maxConcurrent > 0 && len(s.users[userID]) >= s.maxConcurrent {
		evicted = s.users[userID][0]
		s.users[userID] = s.users[userID][1:]
		delete(s.sessions, evicted)
	}

	s.sessions[token] = sealed
	s.users[userID] = append(s.users[userID], token)
	return evicted
}

// Validate checks the token against the caller's fingerprint and returns the
// session record. The User-Agent hash must match exactly. An IP change is
// tolerated only in non-strict mode, in which case the stored IP is updated
// and the event is audited as suspicious. On success the record's LastAccess
// is bumped and it is re-encrypted with a fresh nonce.
func (s *Store) Validate(token, ipAddress, userAgent string) (*Record, error) {
	s.sessionsMu.RLock()
	sealed, ok := s.sessions[token]
	s.sessionsMu.RUnlock()
	if !ok {
		s.recordValidation("not_found")
		return nil, ErrSessionNotFound
	}

	record, err := s.open(sealed)
	if err != nil {
		return nil, err
	}

	if record.IsExpired(s.now()) {
		s.remove(token, record.UserID)
		s.recordValidation("expired")
		return nil, ErrSessionExpired
	}

	if security.HashUserAgent(userAgent) != record.Fingerprint.UserAgentHash {
		if s.auditor != nil {
			s.auditor.LogSuspiciousActivity(record.UserID, ipAddress,
				security.EventSessionFingerprintMismatch,
				map[string]any{"reason": "user_agent_changed"})
		}
		s.recordFingerprintMismatch()
		return nil, ErrFingerprintMismatch
	}

	if ipAddress != record.Fingerprint.IPAddress {
		if record.Fingerprint.StrictIPValidation {
			if s.auditor != nil {
				s.auditor.LogSuspiciousActivity(record.UserID, ipAddress,
					security.EventSessionIPMismatch,
					map[string]any{"reason": "ip_changed_strict_mode"})
			}
			s.recordFingerprintMismatch()
			return nil, ErrFingerprintMismatch
		}
		// Non-strict mode follows the client to its new address but still
		// surfaces the drift for downstream threat scoring.
		if s.auditor != nil {
			s.auditor.LogSuspiciousActivity(record.UserID, ipAddress,
				security.EventSessionIPMismatch,
				map[string]any{"previous_ip": record.Fingerprint.IPAddress})
		}
		record.Fingerprint.IPAddress = ipAddress
	}

	record.LastAccess = s.now()

	sealed, err = s.seal(record)
	if err != nil {
		return nil, err
	}

	s.sessionsMu.Lock()
	if _, still := s.sessions[token]; !still {
		// Invalidated between our read and this write.
		s.sessionsMu.Unlock()
		return nil, ErrSessionNotFound
	}
	s.sessions[token] = sealed
	s.sessionsMu.Unlock()

	s.recordValidation("ok")
	out := *record
	return &out, nil
}

func (s *Store) recordValidation(result string) {
	if s.metrics != nil {
		s.metrics.RecordSessionValidation(context.Background(), result)
	}
}

func (s *Store) recordFingerprintMismatch() {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordFingerprintMismatch(context.Background())
	s.metrics.RecordSessionValidation(context.Background(), "fingerprint_mismatch")
}

// Invalidate destroys the session. Returns ErrSessionNotFound when the token
// is unknown, so callers can tell double-invalidation from success.
func (s *Store) Invalidate(token string) error {
	s.sessionsMu.Lock()
	sealed, ok := s.sessions[token]
	if ok {
		delete(s.sessions, token)
	}
	s.sessionsMu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	record, err := s.open(sealed)
	if err != nil {
		// The entry is gone from the token map; scan the index so a
		// corrupt record cannot orphan an index slot.
		s.removeFromIndexByScan(token)
		s.logger.Warn("Invalidated session with undecryptable record", "error", err)
		return nil
	}

	s.removeFromIndex(record.UserID, token)
	s.logger.Debug("Invalidated session",
		"user_id", security.HashUserID(record.UserID))
	return nil
}

// CleanupExpired removes every expired session and returns how many were
// purged. Intended for the background sweep rather than per-request use.
func (s *Store) CleanupExpired() int {
	s.sessionsMu.RLock()
	snapshot := make(map[string]string, len(s.sessions))
	for token, sealed := range s.sessions {
		snapshot[token] = sealed
	}
	s.sessionsMu.RUnlock()

	now := s.now()
	removed := 0
	for token, sealed := range snapshot {
		record, err := s.open(sealed)
		if err != nil {
			// Unreadable records can never validate; purge them too.
			s.sessionsMu.Lock()
			delete(s.sessions, token)
			s.sessionsMu.Unlock()
			s.removeFromIndexByScan(token)
			removed++
			continue
		}
		if record.IsExpired(now) {
			s.remove(token, record.UserID)
			removed++
		}
	}
	return removed
}

// Count returns the number of stored sessions.
func (s *Store) Count() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// Timeout returns the configured session lifetime.
func (s *Store) Timeout() time.Duration {
	return s.sessionTimeout
}

// UserSessionCount returns the number of live sessions for one user.
func (s *Store) UserSessionCount(userID string) int {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	return len(s.users[userID])
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.CleanupExpired(); removed > 0 {
				s.logger.Debug("Cleaned up expired sessions", "count", removed)
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// remove deletes the token from both indexes.
func (s *Store) remove(token, userID string) {
	s.sessionsMu.Lock()
	delete(s.sessions, token)
	s.sessionsMu.Unlock()
	s.removeFromIndex(userID, token)
}

func (s *Store) removeFromIndex(userID, token string) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	s.users[userID] = deleteToken(s.users[userID], token)
	if len(s.users[userID]) == 0 {
		delete(s.users, userID)
	}
}

func (s *Store) removeFromIndexByScan(token string) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	for userID, tokens := range s.users {
		trimmed := deleteToken(tokens, token)
		if len(trimmed) != len(tokens) {
			if len(trimmed) == 0 {
				delete(s.users, userID)
			} else {
				s.users[userID] = trimmed
			}
			return
		}
	}
}

func deleteToken(tokens []string, token string) []string {
	for i, t := range tokens {
		if t == token {
			return append(tokens[:i:i], tokens[i+1:]...)
		}
	}
	return tokens
}

func (s *Store) seal(record *Record) (string, error) {
	plain, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to serialize session: %w", err)
	}
	start := time.Now()
	sealed, err := s.encryptor.Encrypt(string(plain))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordEncryptionOperation(context.Background(), "encrypt",
			float64(time.Since(start).Milliseconds()))
	}
	return sealed, nil
}

func (s *Store) open(sealed string) (*Record, error) {
	start := time.Now()
	plain, err := s.encryptor.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordEncryptionOperation(context.Background(), "decrypt",
			float64(time.Since(start).Milliseconds()))
	}
	var record Record
	if err := json.Unmarshal([]byte(plain), &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	return &record, nil
}

func generateToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
