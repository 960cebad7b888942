package server

import "context"

// CsrfStateCodec mints and validates the opaque state tokens carried through
// the provider round trip. A state binds the provider name, the client IP it
// was minted for, and an optional post-login redirect target.
// security.StateCodec is the reference implementation.
type CsrfStateCodec interface {
	// CreateState mints a state token bound to provider+ip+redirect.
	CreateState(provider, ipAddress, redirect string) (string, error)

	// ValidateState checks signature, expiry, and the provider/IP binding.
	ValidateState(state, provider, ipAddress string) error

	// ExtractRedirect recovers the redirect target from a state token.
	ExtractRedirect(state string) (string, error)
}

// RateLimiter gates callback processing per client identifier.
// security.RateLimiter is the reference implementation.
type RateLimiter interface {
	Allow(identifier string) bool
}

// SecurityAuditor receives security-relevant events from the login flow.
// Implementations must never log raw user identifiers; security.Auditor
// hashes them before emission.
type SecurityAuditor interface {
	LogAuthAttempt(provider, ipAddress string)
	LogAuthSuccess(userID, provider, ipAddress string)
	LogAuthFailure(userID, provider, ipAddress, reason string)
	LogSuspiciousActivity(userID, ipAddress, activity string, details map[string]any)
}

// FlowMetrics receives counters and timings from the login and token flows.
// All methods must be safe for concurrent use; instrumentation.Metrics is
// the reference implementation.
type FlowMetrics interface {
	RecordCodeExchange(ctx context.Context, clientID, pkceMethod string)
	RecordPKCEValidationFailed(ctx context.Context, method string)
	RecordCodeReuseDetected(ctx context.Context)
	RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64)
	RecordProviderAPICall(ctx context.Context, provider, operation string, statusCode int, durationMs float64, err error)
}

// User carries the authoritative role flags read back from the user
// repository after upsert. Provider claims are never used for authorization.
type User struct {
	ID             string
	Email          string
	Name           string
	Provider       string
	ProviderUserID string
	IsAdmin        bool
	IsEditor       bool
}

// UserRepository is the external user record store. UpsertUser owns
// bootstrap-admin promotion by email allow-list; GetUser returns the
// authoritative role flags.
type UserRepository interface {
	UpsertUser(ctx context.Context, email, name, provider, providerUserID string) (string, error)
	GetUser(ctx context.Context, userID string) (*User, error)
}
