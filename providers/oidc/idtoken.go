package oidc

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JwtError wraps an ID-token verification failure. It is surfaced to callers
// as a generic authentication failure; the detail stays in server logs.
type JwtError struct {
	Reason string
	Err    error
}

// Error implements the error interface
func (e *JwtError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("id token verification failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("id token verification failed: %s", e.Reason)
}

// Unwrap returns the underlying error
func (e *JwtError) Unwrap() error { return e.Err }

// VerifyIDToken verifies an OIDC ID token: RS256 signature against the
// provider's JWKS (key selected by the token's kid header), audience equal to
// the client ID, and issuer within the allow-list. It returns the full claim
// set for normalization by the caller.
//
// Google publishes two issuer spellings (accounts.google.com and the https
// variant), so issuers is a list rather than a single value.
func VerifyIDToken(ctx context.Context, rawToken string, keys *KeySet, audience string, issuers []string) (map[string]any, error) {
	claims := jwt.MapClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)

	_, err := parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("id token missing kid header")
		}
		return keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, &JwtError{Reason: "signature or claim validation", Err: err}
	}

	iss, err := claims.GetIssuer()
	if err != nil {
		return nil, &JwtError{Reason: "missing issuer", Err: err}
	}
	if !issuerAllowed(iss, issuers) {
		return nil, &JwtError{Reason: fmt.Sprintf("unexpected issuer %q", iss)}
	}

	return claims, nil
}

func issuerAllowed(iss string, allowed []string) bool {
	for _, a := range allowed {
		if iss == a {
			return true
		}
	}
	return false
}
