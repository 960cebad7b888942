package authcore

import (
	"errors"
	"net/http"

	"github.com/giantswarm/auth-core/server"
	"github.com/giantswarm/auth-core/session"
)

// Error codes surfaced to browsers on the login endpoints. The token and
// authorize endpoints use the RFC 6749 codes from the server package.
const (
	ErrorCodeAuthenticationFailed = "authentication_failed"
	ErrorCodeInvalidRequest       = server.ErrorCodeInvalidRequest
	ErrorCodeAccessDenied         = server.ErrorCodeAccessDenied
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
)

// ErrorResponse is the JSON error body for all endpoints.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// callbackError maps a HandleCallback failure to the response sent to the
// browser. Provider and exchange internals collapse into a generic
// authentication_failed so upstream error detail never reaches the client;
// the full error is logged and audited server side.
func callbackError(err error) (code, description string, status int) {
	switch {
	case errors.Is(err, server.ErrInvalidState):
		return ErrorCodeInvalidRequest, "state validation failed", http.StatusBadRequest
	case errors.Is(err, server.ErrUnsupportedProvider):
		return ErrorCodeInvalidRequest, "unknown provider", http.StatusNotFound
	case errors.Is(err, server.ErrRateLimitExceeded):
		return ErrorCodeRateLimitExceeded, "too many authentication attempts", http.StatusTooManyRequests
	case errors.Is(err, server.ErrEmailNotVerified):
		return ErrorCodeAccessDenied, "email address not verified by provider", http.StatusForbidden
	default:
		return ErrorCodeAuthenticationFailed, "authentication failed", http.StatusUnauthorized
	}
}

// sessionError maps a session validation failure to a response. All causes
// look identical to the client.
func sessionError(err error) (code, description string, status int) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrFingerprintMismatch):
		return ErrorCodeAuthenticationFailed, "not authenticated", http.StatusUnauthorized
	default:
		return server.ErrorCodeServerError, "internal error", http.StatusInternalServerError
	}
}
