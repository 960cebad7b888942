// Package storage defines the persistence contracts for the local
// authorization-code grant: one-time codes with exactly-once redemption, and
// registered tool clients with bcrypt-hashed secrets.
package storage

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors returned by storage implementations. Callers map these onto
// RFC 6749 error codes; backends must return them (possibly wrapped) rather
// than backend-specific errors so errors.Is works across implementations.
var (
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeExpired  = errors.New("authorization code expired")
	ErrAuthorizationCodeUsed     = errors.New("authorization code already used")
	ErrClientNotFound            = errors.New("client not found")
	ErrInvalidClientSecret       = errors.New("invalid client credentials")
)

// AuthorizationCode is a one-time code issued by the authorize endpoint and
// redeemed exactly once by the token endpoint.
type AuthorizationCode struct {
	Code                string
	UserID              string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string

	// Resource is the RFC 8707 resource indicator the code was issued for.
	Resource string

	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// AuthorizationCodeStore persists one-time authorization codes.
//
// RedeemAuthorizationCode is the security-critical operation: it must
// atomically observe used=false and flip it to true, so that of any number of
// concurrent redemptions of the same code exactly one succeeds. Backends use
// whatever exclusion primitive fits (in-process mutex, row locking, Lua
// script); a plain read-then-write is never acceptable.
type AuthorizationCodeStore interface {
	// SaveAuthorizationCode persists a newly issued code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves a code without consuming it. Use
	// RedeemAuthorizationCode for the actual exchange.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// RedeemAuthorizationCode atomically checks the code is live and unused
	// and marks it used. Returns ErrAuthorizationCodeNotFound,
	// ErrAuthorizationCodeExpired, or ErrAuthorizationCodeUsed on rejection.
	// On ErrAuthorizationCodeUsed the stored record is returned alongside the
	// error so reuse detection can identify the affected user and client.
	RedeemAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code outright.
	DeleteAuthorizationCode(ctx context.Context, code string) error

	// CleanupExpiredCodes removes expired codes and reports how many were
	// deleted. Backends with native TTL support may return 0.
	CleanupExpiredCodes(ctx context.Context) (int, error)
}

// Client is a registered tool client allowed to use the local grant.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash; empty for public clients
	ClientType       string // "public" or "confidential"
	ClientName       string
	RedirectURIs     []string
	Scopes           []string
	CreatedAt        time.Time
}

// ClientStore persists registered clients.
type ClientStore interface {
	// SaveClient stores or replaces a client registration.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID, or ErrClientNotFound.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret checks a client's secret in constant time.
	// Public clients validate with an empty secret. Failures return
	// ErrInvalidClientSecret without distinguishing unknown clients from
	// wrong secrets.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients returns all registered clients.
	ListClients(ctx context.Context) ([]*Client, error)
}

// HashClientSecret bcrypt-hashes a client secret for storage.
func HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// dummyBcryptHash is compared against when a client does not exist, so
// ValidateClientSecret always performs one bcrypt comparison regardless of
// whether the lookup succeeded. It is the hash of an arbitrary constant.
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// CheckClientSecret implements the shared constant-time secret check used by
// the backends. A nil client (lookup failure) still costs one bcrypt
// comparison to keep timing uniform.
func CheckClientSecret(client *Client, clientSecret string) error {
	hashToCompare := dummyBcryptHash
	isPublic := false

	if client != nil {
		if client.ClientType == "public" {
			isPublic = true
		} else if client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if isPublic {
		return nil
	}
	if client == nil || bcryptErr != nil {
		return ErrInvalidClientSecret
	}
	return nil
}
