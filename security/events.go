package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Authentication flow events

	// EventAuthAttempt is logged when a login flow starts
	EventAuthAttempt = "auth_attempt"

	// EventAuthSuccess is logged when a callback completes and a session is issued
	EventAuthSuccess = "auth_success"

	// EventAuthFailure is logged when authentication fails (state mismatch, exchange error, etc.)
	EventAuthFailure = "auth_failure"

	// EventProviderStateMismatch is logged when the CSRF state parameter doesn't validate
	EventProviderStateMismatch = "provider_state_mismatch"

	// EventProviderCodeExchangeFailed is logged when code exchange with the provider fails
	EventProviderCodeExchangeFailed = "provider_code_exchange_failed"

	// Session lifecycle events

	// EventSessionCreated is logged when a session is created
	EventSessionCreated = "session_created"

	// EventSessionEvicted is logged when an oldest session is evicted over the per-user limit
	EventSessionEvicted = "session_evicted"

	// EventSessionFingerprintMismatch is logged when a session is presented from a
	// different browser identity than it was issued to
	EventSessionFingerprintMismatch = "session_fingerprint_mismatch"

	// EventSessionIPMismatch is logged in strict mode when a session is presented
	// from a different IP than it was issued to
	EventSessionIPMismatch = "session_ip_mismatch"

	// Token lifecycle events

	// EventTokenRevoked is logged when an upstream token is revoked
	EventTokenRevoked = "token_revoked"

	// Local authorization grant events

	// EventAuthorizationCodeIssued is logged when a local authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when an authorization code is reused (attack)
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventInvalidPKCE is logged when PKCE validation fails
	EventInvalidPKCE = "invalid_pkce"

	// EventInvalidRedirect is logged when an unregistered redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventResourceMismatch is logged when the resource parameter doesn't match (RFC 8707)
	EventResourceMismatch = "resource_mismatch"

	// General security events

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventSuspiciousActivity is logged for general suspicious behavior
	EventSuspiciousActivity = "suspicious_activity"
)
