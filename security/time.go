package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for expiry
	// checks. It prevents false expiration errors due to clock drift
	// between client, server, and provider; 5 seconds covers typical NTP
	// drift while extending effective token lifetime only marginally.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsTokenExpired checks if a token is expired with the default clock skew grace period
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod checks if a token is expired with a custom grace period
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false // No expiration
	}

	return time.Now().After(expiresAt.Add(gracePeriod))
}

// IsTokenExpiringSoon checks if a token will expire within the given threshold
func IsTokenExpiringSoon(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}

	return time.Now().Add(threshold).After(expiresAt)
}
