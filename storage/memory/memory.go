// Package memory provides an in-memory implementation of the storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/auth-core/storage"
)

// Store is an in-memory implementation of AuthorizationCodeStore and
// ClientStore. All operations take place under a single mutex, which is what
// makes RedeemAuthorizationCode's check-and-mark atomic.
type Store struct {
	mu sync.RWMutex

	codes   map[string]*storage.AuthorizationCode
	clients map[string]*storage.Client

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger

	now func() time.Time
}

var (
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.ClientStore            = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute is
// used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		codes:           make(map[string]*storage.AuthorizationCode),
		clients:         make(map[string]*storage.Client),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
		now:             time.Now,
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Stop gracefully stops the cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode persists a newly issued code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *code
	s.codes[code.Code] = &stored

	s.logger.Debug("Saved authorization code",
		"client_id", code.ClientID,
		"expires_at", code.ExpiresAt)
	return nil
}

// GetAuthorizationCode retrieves a code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if s.now().After(stored.ExpiresAt) {
		return nil, storage.ErrAuthorizationCodeExpired
	}

	out := *stored
	return &out, nil
}

// RedeemAuthorizationCode atomically checks the code is live and unused and
// marks it used. Holding the write lock across the check and the mark is what
// guarantees exactly one concurrent redemption can succeed.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if s.now().After(stored.ExpiresAt) {
		return nil, storage.ErrAuthorizationCodeExpired
	}
	if stored.Used {
		// Return the record alongside the error so reuse detection can
		// identify the affected user and client.
		out := *stored
		return &out, storage.ErrAuthorizationCodeUsed
	}

	stored.Used = true

	s.logger.Debug("Marked authorization code as used", "client_id", stored.ClientID)

	out := *stored
	return &out, nil
}

// DeleteAuthorizationCode removes a code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}

// CleanupExpiredCodes removes expired codes and reports how many were deleted.
func (s *Store) CleanupExpiredCodes(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for code, stored := range s.codes {
		if now.After(stored.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}
	return removed, nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient stores or replaces a client registration.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *client
	s.clients[client.ClientID] = &stored

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}

	out := *client
	return &out, nil
}

// ValidateClientSecret checks a client's secret in constant time. The bcrypt
// comparison runs even for unknown clients so lookup failures are not
// distinguishable by timing.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		client = nil
	}
	return storage.CheckClientSecret(client, clientSecret)
}

// ListClients returns all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		out := *client
		clients = append(clients, &out)
	}
	return clients, nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, _ := s.CleanupExpiredCodes(context.Background())
			if removed > 0 {
				s.logger.Debug("Cleaned up expired authorization codes", "count", removed)
			}
		case <-s.stopCleanup:
			return
		}
	}
}
