package microsoft

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	oauth2microsoft "golang.org/x/oauth2/microsoft"

	"github.com/giantswarm/auth-core/providers"
	"github.com/giantswarm/auth-core/providers/oidc"
)

const graphMeURL = "https://graph.microsoft.com/v1.0/me"

// Provider implements providers.Provider for the Microsoft identity platform.
// All endpoints are tenant-scoped: multi-tenant deployments use the "common"
// or "organizations" pseudo-tenants.
type Provider struct {
	config     *oauth2.Config
	tenant     string
	httpClient *http.Client
	keys       *oidc.KeySet
}

// Config holds Microsoft identity platform configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TenantID scopes the endpoints and the ID-token issuer. Defaults to "common".
	TenantID   string
	Scopes     []string
	HTTPClient *http.Client // Optional custom HTTP client
}

// NewProvider creates a new Microsoft identity platform provider
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, &providers.ConfigError{Provider: "microsoft", Reason: "client ID is required"}
	}
	if cfg.ClientSecret == "" {
		return nil, &providers.ConfigError{Provider: "microsoft", Reason: "client secret is required"}
	}
	if cfg.RedirectURL == "" {
		return nil, &providers.ConfigError{Provider: "microsoft", Reason: "redirect URL is required"}
	}

	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile", "User.Read"}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = providers.NewHTTPClient()
	}

	jwksURL := fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", tenant)

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     oauth2microsoft.AzureADEndpoint(tenant),
		},
		tenant:     tenant,
		httpClient: httpClient,
		keys:       oidc.NewKeySet(jwksURL, httpClient),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "microsoft"
}

// issuer returns the tenant-scoped ID-token issuer
func (p *Provider) issuer() string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", p.tenant)
}

// AuthorizationURL generates the Microsoft authorization URL. The RFC 8707
// resource indicator is passed through when present.
func (p *Provider) AuthorizationURL(state string, opts *providers.AuthOptions) string {
	if opts == nil {
		opts = &providers.AuthOptions{}
	}

	var oauth2Opts []oauth2.AuthCodeOption

	if opts.Nonce != "" {
		oauth2Opts = append(oauth2Opts, oauth2.SetAuthURLParam("nonce", opts.Nonce))
	}
	if opts.CodeChallenge != "" {
		oauth2Opts = append(oauth2Opts,
			oauth2.SetAuthURLParam("code_challenge", opts.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", opts.CodeChallengeMethod),
		)
	}
	if opts.Resource != "" {
		oauth2Opts = append(oauth2Opts, oauth2.SetAuthURLParam("resource", opts.Resource))
	}

	return p.config.AuthCodeURL(state, oauth2Opts...)
}

// ExchangeCode exchanges an authorization code for tokens
func (p *Provider) ExchangeCode(ctx context.Context, code string, opts *providers.ExchangeOptions) (*providers.TokenResponse, error) {
	if opts == nil {
		opts = &providers.ExchangeOptions{}
	}

	var oauth2Opts []oauth2.AuthCodeOption
	if opts.CodeVerifier != "" {
		oauth2Opts = append(oauth2Opts, oauth2.VerifierOption(opts.CodeVerifier))
	}
	if opts.Resource != "" {
		oauth2Opts = append(oauth2Opts, oauth2.SetAuthURLParam("resource", opts.Resource))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code, oauth2Opts...)
	if err != nil {
		if rErr, ok := err.(*oauth2.RetrieveError); ok {
			return nil, &providers.OAuth2Error{
				Provider:   "microsoft",
				StatusCode: rErr.Response.StatusCode,
				Body:       string(rErr.Body),
			}
		}
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return providers.FromOAuth2Token(token), nil
}

// GetUserInfo resolves identity claims. The ID token is preferred; without
// one the Graph API /me endpoint is used.
//
// Microsoft has no authoritative email-verified signal. The presence of a
// mail or preferred_username claim is treated as verified-enough, mirroring
// upstream behavior. This is a documented approximation, weaker than the
// Google/Apple checks, and deliberately not strengthened.
func (p *Provider) GetUserInfo(ctx context.Context, accessToken, idToken string) (*providers.IdentityClaims, error) {
	if idToken != "" {
		claims, err := oidc.VerifyIDToken(ctx, idToken, p.keys, p.config.ClientID, []string{p.issuer()})
		if err != nil {
			return nil, err
		}
		return claimsFromIDToken(claims), nil
	}
	return p.fetchGraphMe(ctx, accessToken)
}

func claimsFromIDToken(claims map[string]any) *providers.IdentityClaims {
	email := providers.StringClaim(claims, "email")
	if email == "" {
		email = providers.StringClaim(claims, "preferred_username")
	}
	return &providers.IdentityClaims{
		ProviderUserID: providers.StringClaim(claims, "oid"),
		Email:          email,
		EmailVerified:  email != "",
		Name:           providers.StringClaim(claims, "name"),
		Raw:            claims,
	}
}

// fetchGraphMe calls the Graph API /me endpoint as the userinfo fallback.
func (p *Provider) fetchGraphMe(ctx context.Context, accessToken string) (*providers.IdentityClaims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphMeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &providers.OAuth2Error{Provider: "microsoft", StatusCode: resp.StatusCode}
	}

	var me struct {
		ID                string `json:"id"`
		DisplayName       string `json:"displayName"`
		GivenName         string `json:"givenName"`
		Surname           string `json:"surname"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		PreferredLanguage string `json:"preferredLanguage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}

	return &providers.IdentityClaims{
		ProviderUserID: me.ID,
		Email:          email,
		EmailVerified:  email != "",
		Name:           me.DisplayName,
		GivenName:      me.GivenName,
		FamilyName:     me.Surname,
		Locale:         me.PreferredLanguage,
		Raw: map[string]any{
			"id":                me.ID,
			"displayName":       me.DisplayName,
			"mail":              me.Mail,
			"userPrincipalName": me.UserPrincipalName,
		},
	}, nil
}

// RefreshToken refreshes an expired token, re-attaching the original refresh
// token when the response omits one.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*providers.TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tokenSource := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	resp := providers.FromOAuth2Token(newToken)
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

// RevokeToken is a no-op: the Microsoft identity platform exposes no
// OAuth token revocation endpoint.
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	return nil
}
