// Package google provides the Google OAuth 2.0 / OIDC provider implementation.
//
// The authorization URL always requests access_type=offline with
// prompt=consent so that Google issues a refresh token on every login.
// Identity claims are resolved by verifying the OIDC ID token against
// Google's JWKS; the userinfo endpoint is only used as a fallback when no
// ID token is available.
package google
