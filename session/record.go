package session

import "time"

// Fingerprint binds a session to the device that created it. The User-Agent
// is stored only as a SHA-256 hash so raw client metadata never sits in the
// store and entries have a bounded size.
type Fingerprint struct {
	IPAddress          string `json:"ip_address"`
	UserAgentHash      string `json:"user_agent_hash"`
	StrictIPValidation bool   `json:"strict_ip_validation"`
}

// Record is the plaintext form of a stored session. It exists unencrypted
// only inside the store's critical sections; at rest it is serialized and
// sealed with AES-256-GCM.
type Record struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
	IsEditor bool   `json:"is_editor"`

	// Resource is the RFC 8707 audience a locally-minted bearer token was
	// issued for. Empty for browser sessions.
	Resource string `json:"resource,omitempty"`

	CreatedAt   time.Time   `json:"created_at"`
	LastAccess  time.Time   `json:"last_access"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

// IsExpired reports whether the record's lifetime has passed at the given time.
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
