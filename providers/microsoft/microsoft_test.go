package microsoft

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/auth-core/providers"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				ClientID:     "test-client-id",
				ClientSecret: "test-client-secret",
				RedirectURL:  "https://example.com/callback",
				TenantID:     "my-tenant",
			},
			wantErr: false,
		},
		{
			name: "missing client ID",
			config: &Config{
				ClientSecret: "test-client-secret",
				RedirectURL:  "https://example.com/callback",
			},
			wantErr: true,
		},
		{
			name: "missing client secret",
			config: &Config{
				ClientID:    "test-client-id",
				RedirectURL: "https://example.com/callback",
			},
			wantErr: true,
		},
		{
			name: "missing redirect URL",
			config: &Config{
				ClientID:     "test-client-id",
				ClientSecret: "test-client-secret",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewProvider_TenantDefaults(t *testing.T) {
	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://example.com/callback",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	if provider.tenant != "common" {
		t.Errorf("tenant = %q, want %q", provider.tenant, "common")
	}
	wantIssuer := "https://login.microsoftonline.com/common/v2.0"
	if got := provider.issuer(); got != wantIssuer {
		t.Errorf("issuer() = %q, want %q", got, wantIssuer)
	}
}

func TestNewProvider_TenantScopedEndpoints(t *testing.T) {
	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://example.com/callback",
		TenantID:     "my-tenant",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	if !strings.Contains(provider.config.Endpoint.AuthURL, "my-tenant") {
		t.Errorf("AuthURL = %q, want tenant-scoped", provider.config.Endpoint.AuthURL)
	}
	wantIssuer := "https://login.microsoftonline.com/my-tenant/v2.0"
	if got := provider.issuer(); got != wantIssuer {
		t.Errorf("issuer() = %q, want %q", got, wantIssuer)
	}
}

func TestProvider_Name(t *testing.T) {
	provider := newTestProvider(t)
	if got := provider.Name(); got != "microsoft" {
		t.Errorf("Name() = %q, want %q", got, "microsoft")
	}
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://example.com/callback",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return provider
}

func TestProvider_AuthorizationURL(t *testing.T) {
	provider := newTestProvider(t)

	tests := []struct {
		name         string
		opts         *providers.AuthOptions
		wantContains []string
	}{
		{
			name:         "basic URL",
			opts:         nil,
			wantContains: []string{"state=test-state", "client_id=test-client-id"},
		},
		{
			name: "PKCE and nonce passthrough",
			opts: &providers.AuthOptions{
				Nonce:               "test-nonce",
				CodeChallenge:       "test-challenge",
				CodeChallengeMethod: "S256",
			},
			wantContains: []string{
				"nonce=test-nonce",
				"code_challenge=test-challenge",
				"code_challenge_method=S256",
			},
		},
		{
			name: "resource indicator passthrough",
			opts: &providers.AuthOptions{
				Resource: "https://api.example.com",
			},
			wantContains: []string{"resource=" + url.QueryEscape("https://api.example.com")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authURL := provider.AuthorizationURL("test-state", tt.opts)
			for _, want := range tt.wantContains {
				if !strings.Contains(authURL, want) {
					t.Errorf("AuthorizationURL() missing %q in URL %q", want, authURL)
				}
			}
		})
	}
}

func TestProvider_ExchangeCode(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}
		if r.FormValue("code") != "test-code" {
			http.Error(w, "invalid code", http.StatusBadRequest)
			return
		}
		if r.FormValue("code_verifier") != "test-verifier" {
			http.Error(w, "missing code_verifier", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "test-access-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "test-refresh-token",
		})
	}))
	defer server.Close()

	provider := newTestProvider(t)
	provider.config.Endpoint.TokenURL = server.URL + "/token"

	token, err := provider.ExchangeCode(ctx, "test-code", &providers.ExchangeOptions{CodeVerifier: "test-verifier"})
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if token.AccessToken != "test-access-token" {
		t.Errorf("AccessToken = %q, want %q", token.AccessToken, "test-access-token")
	}
	if token.RefreshToken != "test-refresh-token" {
		t.Errorf("RefreshToken = %q, want %q", token.RefreshToken, "test-refresh-token")
	}
}

func TestProvider_GetUserInfo_GraphFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-access-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":                "user-oid-123",
			"displayName":       "Test User",
			"givenName":         "Test",
			"surname":           "User",
			"mail":              "test@example.com",
			"userPrincipalName": "test@example.onmicrosoft.com",
		})
	}))
	defer server.Close()

	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://example.com/callback",
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{server: server, match: "graph.microsoft.com"},
		},
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	claims, err := provider.GetUserInfo(context.Background(), "test-access-token", "")
	if err != nil {
		t.Fatalf("GetUserInfo() error = %v", err)
	}

	if claims.ProviderUserID != "user-oid-123" {
		t.Errorf("ProviderUserID = %q, want %q", claims.ProviderUserID, "user-oid-123")
	}
	if claims.Email != "test@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "test@example.com")
	}
	if !claims.EmailVerified {
		t.Error("EmailVerified should be true when a mail claim is present")
	}
	if claims.Name != "Test User" {
		t.Errorf("Name = %q, want %q", claims.Name, "Test User")
	}
}

func TestProvider_GetUserInfo_GraphFallback_UPNOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":                "user-oid-123",
			"displayName":       "Test User",
			"userPrincipalName": "test@example.onmicrosoft.com",
		})
	}))
	defer server.Close()

	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://example.com/callback",
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{server: server, match: "graph.microsoft.com"},
		},
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	claims, err := provider.GetUserInfo(context.Background(), "test-access-token", "")
	if err != nil {
		t.Fatalf("GetUserInfo() error = %v", err)
	}

	if claims.Email != "test@example.onmicrosoft.com" {
		t.Errorf("Email = %q, want the userPrincipalName fallback", claims.Email)
	}
}

func TestClaimsFromIDToken(t *testing.T) {
	tests := []struct {
		name              string
		claims            map[string]any
		wantEmail         string
		wantEmailVerified bool
	}{
		{
			name: "email claim present",
			claims: map[string]any{
				"oid":   "user-oid-123",
				"email": "test@example.com",
			},
			wantEmail:         "test@example.com",
			wantEmailVerified: true,
		},
		{
			name: "preferred_username fallback",
			claims: map[string]any{
				"oid":                "user-oid-123",
				"preferred_username": "test@example.onmicrosoft.com",
			},
			wantEmail:         "test@example.onmicrosoft.com",
			wantEmailVerified: true,
		},
		{
			name: "no email at all",
			claims: map[string]any{
				"oid": "user-oid-123",
			},
			wantEmail:         "",
			wantEmailVerified: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := claimsFromIDToken(tt.claims)
			if got.Email != tt.wantEmail {
				t.Errorf("Email = %q, want %q", got.Email, tt.wantEmail)
			}
			if got.EmailVerified != tt.wantEmailVerified {
				t.Errorf("EmailVerified = %v, want %v", got.EmailVerified, tt.wantEmailVerified)
			}
			if got.ProviderUserID != "user-oid-123" {
				t.Errorf("ProviderUserID = %q, want %q", got.ProviderUserID, "user-oid-123")
			}
		})
	}
}

func TestProvider_RefreshToken_ReattachesRefreshToken(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}
		if r.FormValue("refresh_token") != "test-refresh-token" {
			http.Error(w, "invalid refresh_token", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "new-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	provider := newTestProvider(t)
	provider.config.Endpoint.TokenURL = server.URL + "/token"

	token, err := provider.RefreshToken(ctx, "test-refresh-token")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}

	if token.AccessToken != "new-access-token" {
		t.Errorf("AccessToken = %q, want %q", token.AccessToken, "new-access-token")
	}
	if token.RefreshToken != "test-refresh-token" {
		t.Errorf("RefreshToken = %q, want the original token re-attached", token.RefreshToken)
	}
}

func TestProvider_RevokeToken_NoOp(t *testing.T) {
	provider := newTestProvider(t)
	if err := provider.RevokeToken(context.Background(), "any-token"); err != nil {
		t.Errorf("RevokeToken() = %v, want nil (no revocation endpoint)", err)
	}
}

// rewriteTransport redirects requests whose URL contains match to the test
// server, so fixed production endpoints can be exercised without real calls.
type rewriteTransport struct {
	server *httptest.Server
	match  string
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.Contains(req.URL.String(), rt.match) {
		testURL, _ := url.Parse(rt.server.URL)
		req.URL.Scheme = testURL.Scheme
		req.URL.Host = testURL.Host
	}
	return http.DefaultTransport.RoundTrip(req)
}
