package authcore

import "time"

// ProviderInfo describes one configured identity provider.
type ProviderInfo struct {
	Name     string `json:"name"`
	LoginURL string `json:"login_url"`
}

// ProviderListResponse is the body of GET /login.
type ProviderListResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

// StatusResponse is the body of GET /status. The zero value with
// Authenticated false is returned for anonymous requests.
type StatusResponse struct {
	Authenticated bool      `json:"authenticated"`
	UserID        string    `json:"user_id,omitempty"`
	Email         string    `json:"email,omitempty"`
	Name          string    `json:"name,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	IsAdmin       bool      `json:"is_admin,omitempty"`
	IsEditor      bool      `json:"is_editor,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}
