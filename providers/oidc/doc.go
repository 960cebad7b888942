// Package oidc provides the shared OIDC plumbing used by the provider
// implementations: JWKS fetching with a TTL cache, RSA public key construction
// from JWK material, and ID-token verification.
//
// Verifying the ID token is preferred over calling a userinfo endpoint because
// it avoids a round trip and the claims are provider-authoritative. JWKS
// caching is a performance optimization only: a stale key set simply causes
// signature verification to reject tokens signed by a now-unlisted key.
package oidc
