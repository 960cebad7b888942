// Package mock provides mock implementations of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/giantswarm/auth-core/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(state string, opts *providers.AuthOptions) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code string, opts *providers.ExchangeOptions) (*providers.TokenResponse, error)

	// GetUserInfoFunc is called when GetUserInfo() is invoked
	GetUserInfoFunc func(ctx context.Context, accessToken, idToken string) (*providers.IdentityClaims, error)

	// RefreshTokenFunc is called when RefreshToken() is invoked
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*providers.TokenResponse, error)

	// RevokeTokenFunc is called when RevokeToken() is invoked
	RevokeTokenFunc func(ctx context.Context, token string) error

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

// NewMockProvider creates a new mock provider with default implementations
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(state string, opts *providers.AuthOptions) string {
			u := "https://mock.example.com/authorize?state=" + state
			if opts != nil && opts.CodeChallenge != "" {
				u += "&code_challenge=" + opts.CodeChallenge + "&code_challenge_method=" + opts.CodeChallengeMethod
			}
			return u
		},
		ExchangeCodeFunc: func(ctx context.Context, code string, opts *providers.ExchangeOptions) (*providers.TokenResponse, error) {
			return &providers.TokenResponse{
				AccessToken:  "mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "mock-refresh-token",
				ExpiresIn:    3600,
			}, nil
		},
		GetUserInfoFunc: func(ctx context.Context, accessToken, idToken string) (*providers.IdentityClaims, error) {
			return &providers.IdentityClaims{
				ProviderUserID: "mock-user-123",
				Email:          "mock@example.com",
				EmailVerified:  true,
				Name:           "Mock User",
				GivenName:      "Mock",
				FamilyName:     "User",
			}, nil
		},
		RefreshTokenFunc: func(ctx context.Context, refreshToken string) (*providers.TokenResponse, error) {
			return &providers.TokenResponse{
				AccessToken:  "new-mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "new-mock-refresh-token",
				ExpiresIn:    3600,
			}, nil
		},
		RevokeTokenFunc: func(ctx context.Context, token string) error {
			return nil
		},
	}
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	// LOCK PATTERN: Lock only to update counter and read function reference
	// Release lock BEFORE calling user function to prevent deadlocks
	// (user function might call other mock methods)
	m.mu.Lock()
	m.CallCounts["Name"]++
	fn := m.NameFunc
	m.mu.Unlock()

	// Call user function WITHOUT holding lock (deadlock prevention)
	if fn == nil {
		return "mock" // Safe default
	}
	return fn()
}

// AuthorizationURL generates the URL to redirect users for authentication
func (m *MockProvider) AuthorizationURL(state string, opts *providers.AuthOptions) string {
	m.mu.Lock()
	m.CallCounts["AuthorizationURL"]++
	fn := m.AuthorizationURLFunc
	m.mu.Unlock()
	if fn == nil {
		return "https://mock.example.com/authorize?state=" + state // Safe default
	}
	return fn(state, opts)
}

// ExchangeCode exchanges an authorization code for tokens
func (m *MockProvider) ExchangeCode(ctx context.Context, code string, opts *providers.ExchangeOptions) (*providers.TokenResponse, error) {
	m.mu.Lock()
	m.CallCounts["ExchangeCode"]++
	fn := m.ExchangeCodeFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("ExchangeCodeFunc not configured")
	}
	return fn(ctx, code, opts)
}

// GetUserInfo resolves identity claims for the given tokens
func (m *MockProvider) GetUserInfo(ctx context.Context, accessToken, idToken string) (*providers.IdentityClaims, error) {
	m.mu.Lock()
	m.CallCounts["GetUserInfo"]++
	fn := m.GetUserInfoFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("GetUserInfoFunc not configured")
	}
	return fn(ctx, accessToken, idToken)
}

// RefreshToken refreshes an expired token using a refresh token
func (m *MockProvider) RefreshToken(ctx context.Context, refreshToken string) (*providers.TokenResponse, error) {
	m.mu.Lock()
	m.CallCounts["RefreshToken"]++
	fn := m.RefreshTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("RefreshTokenFunc not configured")
	}
	return fn(ctx, refreshToken)
}

// RevokeToken revokes a token at the provider
func (m *MockProvider) RevokeToken(ctx context.Context, token string) error {
	m.mu.Lock()
	m.CallCounts["RevokeToken"]++
	fn := m.RevokeTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("RevokeTokenFunc not configured")
	}
	return fn(ctx, token)
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}
