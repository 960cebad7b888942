// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/auth-core/storage"
)

// MockCodeStore is a mock implementation of AuthorizationCodeStore for
// testing. Default implementations back onto an in-memory map with a mutex so
// tests exercising concurrent redemption still see exactly-once semantics;
// individual Func fields can be overridden to inject failures.
type MockCodeStore struct {
	mu         sync.Mutex
	codes      map[string]*storage.AuthorizationCode
	CallCounts map[string]int

	SaveFunc    func(ctx context.Context, code *storage.AuthorizationCode) error
	GetFunc     func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	RedeemFunc  func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	DeleteFunc  func(ctx context.Context, code string) error
	CleanupFunc func(ctx context.Context) (int, error)
}

var _ storage.AuthorizationCodeStore = (*MockCodeStore)(nil)

// NewMockCodeStore creates a new mock code store with working defaults.
func NewMockCodeStore() *MockCodeStore {
	m := &MockCodeStore{
		codes:      make(map[string]*storage.AuthorizationCode),
		CallCounts: make(map[string]int),
	}

	m.SaveFunc = func(ctx context.Context, code *storage.AuthorizationCode) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		stored := *code
		m.codes[code.Code] = &stored
		return nil
	}

	m.GetFunc = func(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		stored, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		out := *stored
		return &out, nil
	}

	m.RedeemFunc = func(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		stored, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		if stored.Used {
			out := *stored
			return &out, storage.ErrAuthorizationCodeUsed
		}
		stored.Used = true
		out := *stored
		return &out, nil
	}

	m.DeleteFunc = func(ctx context.Context, code string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.codes, code)
		return nil
	}

	m.CleanupFunc = func(ctx context.Context) (int, error) {
		return 0, nil
	}

	return m
}

func (m *MockCodeStore) count(method string) {
	m.mu.Lock()
	m.CallCounts[method]++
	m.mu.Unlock()
}

func (m *MockCodeStore) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.count("SaveAuthorizationCode")
	return m.SaveFunc(ctx, code)
}

func (m *MockCodeStore) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.count("GetAuthorizationCode")
	return m.GetFunc(ctx, code)
}

func (m *MockCodeStore) RedeemAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.count("RedeemAuthorizationCode")
	return m.RedeemFunc(ctx, code)
}

func (m *MockCodeStore) DeleteAuthorizationCode(ctx context.Context, code string) error {
	m.count("DeleteAuthorizationCode")
	return m.DeleteFunc(ctx, code)
}

func (m *MockCodeStore) CleanupExpiredCodes(ctx context.Context) (int, error) {
	m.count("CleanupExpiredCodes")
	return m.CleanupFunc(ctx)
}

// GetCallCount returns how many times a method was invoked.
func (m *MockCodeStore) GetCallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[method]
}

// MockClientStore is a mock implementation of ClientStore for testing.
type MockClientStore struct {
	mu         sync.Mutex
	clients    map[string]*storage.Client
	CallCounts map[string]int

	SaveClientFunc     func(ctx context.Context, client *storage.Client) error
	GetClientFunc      func(ctx context.Context, clientID string) (*storage.Client, error)
	ValidateSecretFunc func(ctx context.Context, clientID, clientSecret string) error
	ListClientsFunc    func(ctx context.Context) ([]*storage.Client, error)
}

var _ storage.ClientStore = (*MockClientStore)(nil)

// NewMockClientStore creates a new mock client store with working defaults.
func NewMockClientStore() *MockClientStore {
	m := &MockClientStore{
		clients:    make(map[string]*storage.Client),
		CallCounts: make(map[string]int),
	}

	m.SaveClientFunc = func(ctx context.Context, client *storage.Client) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		stored := *client
		m.clients[client.ClientID] = &stored
		return nil
	}

	m.GetClientFunc = func(ctx context.Context, clientID string) (*storage.Client, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		client, ok := m.clients[clientID]
		if !ok {
			return nil, storage.ErrClientNotFound
		}
		out := *client
		return &out, nil
	}

	m.ValidateSecretFunc = func(ctx context.Context, clientID, clientSecret string) error {
		client, err := m.GetClientFunc(ctx, clientID)
		if err != nil {
			client = nil
		}
		return storage.CheckClientSecret(client, clientSecret)
	}

	m.ListClientsFunc = func(ctx context.Context) ([]*storage.Client, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		clients := make([]*storage.Client, 0, len(m.clients))
		for _, client := range m.clients {
			out := *client
			clients = append(clients, &out)
		}
		return clients, nil
	}

	return m
}

func (m *MockClientStore) count(method string) {
	m.mu.Lock()
	m.CallCounts[method]++
	m.mu.Unlock()
}

func (m *MockClientStore) SaveClient(ctx context.Context, client *storage.Client) error {
	m.count("SaveClient")
	return m.SaveClientFunc(ctx, client)
}

func (m *MockClientStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClient")
	return m.GetClientFunc(ctx, clientID)
}

func (m *MockClientStore) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	m.count("ValidateClientSecret")
	return m.ValidateSecretFunc(ctx, clientID, clientSecret)
}

func (m *MockClientStore) ListClients(ctx context.Context) ([]*storage.Client, error) {
	m.count("ListClients")
	return m.ListClientsFunc(ctx)
}

// GetCallCount returns how many times a method was invoked.
func (m *MockClientStore) GetCallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[method]
}
