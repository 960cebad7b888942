// Package security provides the security primitives behind the
// authentication core: AES-256-GCM payload encryption, HMAC-signed CSRF
// state, browser fingerprinting, client IP extraction behind proxies,
// token-bucket and windowed rate limiting, audit logging with PII hashing,
// security headers, and request ID propagation.
//
// # Rate Limiting
//
// Two limiters cover different threat shapes. RateLimiter is a per-identifier
// token bucket for request-frequency limits (login starts, callbacks).
// WindowedRateLimiter counts attempts over a fixed window and is meant for
// sensitive low-frequency operations, such as authorization-code redemption,
// where a refilling bucket would let a slow brute force through.
//
// Both bound their memory with LRU eviction and background cleanup:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // 429
//	}
//
// GetStats() on either limiter exposes entry counts, evictions, and memory
// pressure for monitoring.
//
// # Encryption
//
// Encryptor seals payloads with AES-256-GCM, a fresh nonce per call,
// nonce-prefixed and base64-encoded. It backs the session store's at-rest
// encryption.
//
// # CSRF State
//
// StateCodec mints and validates HMAC-SHA256 signed state values binding a
// login flow to its callback, carrying the post-login redirect without
// server-side storage.
package security
