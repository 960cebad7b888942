package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/auth-core/storage"
)

const (
	// MinCodeVerifierLength and MaxCodeVerifierLength bound the PKCE
	// code_verifier per RFC 7636
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128

	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"

	// authorizationCodePrefix marks codes issued by the local grant
	authorizationCodePrefix = "code_"
)

// DangerousSchemes lists URI schemes that must never be allowed for security
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// ValidatePKCE validates the PKCE code verifier against the challenge per RFC 7636.
// An empty challenge means PKCE was not used for this code; a stored challenge
// makes the verifier mandatory.
func ValidatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}

	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxCodeVerifierLength)
	}

	// RFC 7636: code_verifier can only contain [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~"
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computedChallenge string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		computedChallenge = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s (supported: %s, %s)", method, PKCEMethodS256, PKCEMethodPlain)
	}

	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}

	return nil
}

// validateCodeShape rejects anything that was not issued by Authorize
// before touching the store.
func validateCodeShape(code string) error {
	if code == "" {
		return fmt.Errorf("code is required")
	}
	if !strings.HasPrefix(code, authorizationCodePrefix) {
		return fmt.Errorf("malformed authorization code")
	}
	return nil
}

// validateRedirectURI checks the redirect target at authorize time: it must
// parse, must not use a dangerous scheme, and when the client is registered
// it must match one of the client's registered URIs exactly.
func validateRedirectURI(redirectURI string, client *storage.Client) error {
	if redirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}

	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("redirect_uri is not a valid URI: %w", err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("redirect_uri must be absolute")
	}

	scheme := strings.ToLower(parsed.Scheme)
	for _, dangerous := range DangerousSchemes {
		if scheme == dangerous {
			return fmt.Errorf("redirect_uri scheme '%s' is not allowed for security reasons", parsed.Scheme)
		}
	}

	if client != nil {
		for _, registered := range client.RedirectURIs {
			if redirectURI == registered {
				return nil
			}
		}
		return fmt.Errorf("redirect_uri is not registered for client %s", client.ClientID)
	}

	return nil
}

// isCustomScheme reports whether the redirect target uses a non-HTTP scheme
// (e.g. vscode://). Raw HTTP redirects are unreliable for those, so the
// handler serves an HTML auto-redirect page instead (RFC 8252).
func isCustomScheme(redirectURI string) bool {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return scheme != "" && scheme != "http" && scheme != "https"
}

// buildRedirectURL appends code and state to the redirect target, using '&'
// when the target already carries a query string.
func buildRedirectURL(redirectURI, code, state string) string {
	var sb strings.Builder
	sb.WriteString(redirectURI)
	if strings.Contains(redirectURI, "?") {
		sb.WriteString("&")
	} else {
		sb.WriteString("?")
	}
	sb.WriteString("code=")
	sb.WriteString(url.QueryEscape(code))
	if state != "" {
		sb.WriteString("&state=")
		sb.WriteString(url.QueryEscape(state))
	}
	return sb.String()
}
