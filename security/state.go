package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultStateTTL bounds how long a login flow may sit between the redirect
// to the provider and the callback.
const DefaultStateTTL = 10 * time.Minute

// StateCodec mints and validates HMAC-SHA256 signed CSRF state values.
// The state binds a login flow to the provider and client IP that started it
// and carries the post-login redirect target, so no server-side state is
// needed between the two legs.
type StateCodec struct {
	key []byte
	ttl time.Duration

	// now is injectable for expiry tests
	now func() time.Time
}

// statePayload is the signed content of a state value
type statePayload struct {
	Nonce     string `json:"n"`
	Provider  string `json:"p"`
	IPAddress string `json:"i"`
	Redirect  string `json:"r,omitempty"`
	ExpiresAt int64  `json:"e"`
}

// NewStateCodec creates a state codec with the given signing key.
// The key must be at least 32 bytes.
func NewStateCodec(key []byte) (*StateCodec, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("state signing key must be at least 32 bytes, got %d", len(key))
	}
	return &StateCodec{
		key: key,
		ttl: DefaultStateTTL,
		now: time.Now,
	}, nil
}

// SetTTL overrides the state lifetime
func (c *StateCodec) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		c.ttl = ttl
	}
}

// CreateState mints a signed state value bound to the provider and client IP
// that started the flow, carrying the post-login redirect. redirect may be
// empty.
func (c *StateCodec) CreateState(provider, ipAddress, redirect string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}

	payload := statePayload{
		Nonce:     base64.RawURLEncoding.EncodeToString(nonce),
		Provider:  provider,
		IPAddress: ipAddress,
		Redirect:  redirect,
		ExpiresAt: c.now().Add(c.ttl).Unix(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(encoded)
	return body + "." + c.sign(body), nil
}

// ValidateState verifies the signature and expiry of a state value and that
// it was minted for the same provider and client IP now presenting it.
func (c *StateCodec) ValidateState(state, provider, ipAddress string) error {
	payload, err := c.decode(state)
	if err != nil {
		return err
	}
	if payload.Provider != provider {
		return fmt.Errorf("state minted for a different provider")
	}
	if payload.IPAddress != ipAddress {
		return fmt.Errorf("state minted for a different client address")
	}
	return nil
}

// ExtractRedirect validates a state value and returns the redirect target it
// carries, which may be empty.
func (c *StateCodec) ExtractRedirect(state string) (string, error) {
	payload, err := c.decode(state)
	if err != nil {
		return "", err
	}
	return payload.Redirect, nil
}

func (c *StateCodec) decode(state string) (*statePayload, error) {
	body, mac, ok := strings.Cut(state, ".")
	if !ok {
		return nil, fmt.Errorf("malformed state")
	}

	// Constant-time signature check before touching the payload
	if !hmac.Equal([]byte(c.sign(body)), []byte(mac)) {
		return nil, fmt.Errorf("state signature mismatch")
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("malformed state body")
	}

	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("malformed state payload")
	}

	if c.now().Unix() > payload.ExpiresAt {
		return nil, fmt.Errorf("state expired")
	}

	return &payload, nil
}

func (c *StateCodec) sign(body string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// HashUserAgent derives the browser fingerprint stored with a session.
// Only the hash is ever persisted or logged.
func HashUserAgent(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])
}
