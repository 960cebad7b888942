// Package providers defines the identity provider interface and the types
// exchanged between providers and the authentication orchestrator.
package providers

import (
	"context"
	"fmt"
)

// Provider defines the contract for OAuth2/OIDC identity providers.
// The provider set is closed (google, microsoft, apple); each implementation
// is stateless between calls given its configuration.
type Provider interface {
	// Name returns the provider name (e.g., "google", "microsoft", "apple")
	Name() string

	// AuthorizationURL generates the URL to redirect users for authentication.
	// opts carries the OIDC nonce, PKCE challenge, and RFC 8707 resource indicator
	// (pass nil to disable all of them).
	AuthorizationURL(state string, opts *AuthOptions) string

	// ExchangeCode exchanges an authorization code for tokens.
	// Non-2xx provider responses surface as *OAuth2Error.
	ExchangeCode(ctx context.Context, code string, opts *ExchangeOptions) (*TokenResponse, error)

	// GetUserInfo resolves normalized identity claims for the authenticated user.
	// When idToken is non-empty the provider verifies it against its JWKS instead
	// of calling the userinfo endpoint; pass an empty string to force the fallback.
	GetUserInfo(ctx context.Context, accessToken, idToken string) (*IdentityClaims, error)

	// RefreshToken re-issues tokens using a refresh token. Providers that omit
	// the refresh token from the response re-attach the original one.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)

	// RevokeToken revokes a token at the provider. Providers without a
	// revocation endpoint treat this as a no-op.
	RevokeToken(ctx context.Context, token string) error
}

// AuthOptions carries optional parameters for authorization URL generation.
type AuthOptions struct {
	// Nonce is the OIDC nonce bound into the ID token
	Nonce string

	// CodeChallenge and CodeChallengeMethod enable PKCE (RFC 7636)
	CodeChallenge       string
	CodeChallengeMethod string

	// Resource is the RFC 8707 resource indicator (Microsoft passthrough)
	Resource string
}

// ExchangeOptions carries optional parameters for the code exchange.
type ExchangeOptions struct {
	// CodeVerifier is the PKCE verifier matching the challenge sent at authorize time
	CodeVerifier string

	// Resource is the RFC 8707 resource indicator
	Resource string
}

// TokenResponse represents the provider's token endpoint response.
// It is transient: passed by value through the orchestrator to session
// creation and then discarded, never persisted.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64 // seconds; 0 means the provider did not report an expiry
	RefreshToken string
	IDToken      string
	Scope        string
}

// IdentityClaims is the normalized user info produced once per login.
type IdentityClaims struct {
	// ProviderUserID is the stable unique identifier at the provider (OIDC sub)
	ProviderUserID string

	Email         string
	EmailVerified bool

	Name       string
	GivenName  string
	FamilyName string
	Picture    string
	Locale     string

	// Raw holds the provider-specific claims bag for audit and debugging.
	// It is never used for authorization decisions.
	Raw map[string]any
}

// ConfigError indicates a misconfigured provider. It is fatal at startup and
// never produced per request.
type ConfigError struct {
	Provider string
	Reason   string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s provider configuration invalid: %s", e.Provider, e.Reason)
}

// OAuth2Error represents a non-2xx response from a provider endpoint.
// The body is logged server-side and never exposed to the browser.
type OAuth2Error struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s provider returned status %d", e.Provider, e.StatusCode)
}

// ParseBoolClaim normalizes a claim that may arrive as a JSON bool or as the
// string "true"/"false". Apple reports email_verified as a string, so both
// encodings must parse without crashing.
func ParseBoolClaim(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true"
	default:
		return false
	}
}

// StringClaim extracts a string claim from a raw claims bag, returning the
// empty string when absent or of the wrong type.
func StringClaim(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
