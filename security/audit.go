// Package security provides security features for the authentication core
// including encryption, CSRF state, rate limiting, audit logging, and secure
// header management.
package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	metrics AuditMetrics
}

// AuditMetrics counts emitted audit events by type.
// instrumentation.Metrics satisfies this.
type AuditMetrics interface {
	RecordAuditEvent(ctx context.Context, eventType string)
}

// SetMetrics attaches an audit event counter. Call during setup, before the
// auditor is shared across goroutines.
func (a *Auditor) SetMetrics(m AuditMetrics) {
	a.metrics = m
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	Provider  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	if a.metrics != nil {
		a.metrics.RecordAuditEvent(context.Background(), event.Type)
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"provider", event.Provider,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthAttempt logs the start of a login flow
func (a *Auditor) LogAuthAttempt(provider, ipAddress string) {
	a.LogEvent(Event{
		Type:      "auth_attempt",
		Provider:  provider,
		IPAddress: ipAddress,
	})
}

// LogAuthSuccess logs a completed authentication
func (a *Auditor) LogAuthSuccess(userID, provider, ipAddress string) {
	a.LogEvent(Event{
		Type:      "auth_success",
		UserID:    userID,
		Provider:  provider,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, provider, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		UserID:    userID,
		Provider:  provider,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogSuspiciousActivity logs anomalies such as fingerprint mismatches or
// authorization-code replay.
func (a *Auditor) LogSuspiciousActivity(userID, ipAddress, activity string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["activity"] = activity
	a.LogEvent(Event{
		Type:      "suspicious_activity",
		UserID:    userID,
		IPAddress: ipAddress,
		Details:   details,
	})
}

// LogSessionCreated logs session issuance
func (a *Auditor) LogSessionCreated(userID, provider, ipAddress string) {
	a.LogEvent(Event{
		Type:      "session_created",
		UserID:    userID,
		Provider:  provider,
		IPAddress: ipAddress,
	})
}

// LogSessionEvicted logs an oldest-first eviction for a user over the
// concurrent session limit
func (a *Auditor) LogSessionEvicted(userID string, limit int) {
	a.LogEvent(Event{
		Type:   "session_evicted",
		UserID: userID,
		Details: map[string]any{
			"limit": limit,
		},
	})
}

// LogTokenRevoked logs when an upstream token is revoked
func (a *Auditor) LogTokenRevoked(userID, provider, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      "token_revoked",
		UserID:    userID,
		Provider:  provider,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, userID string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// HashUserID returns a short hash of a user ID suitable for log output.
// Other packages use this so user identifiers never appear raw in logs.
func HashUserID(userID string) string {
	return hashForLogging(userID)
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
