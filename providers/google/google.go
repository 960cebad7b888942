package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	oauth2google "golang.org/x/oauth2/google"

	"github.com/giantswarm/auth-core/providers"
	"github.com/giantswarm/auth-core/providers/oidc"
)

const (
	jwksURL     = "https://www.googleapis.com/oauth2/v3/certs"
	userInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	revokeURL   = "https://oauth2.googleapis.com/revoke"
)

// issuers lists the accepted ID-token issuers. Google signs with both the
// bare and the https-prefixed spelling depending on the token's age.
var issuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Provider implements providers.Provider for Google OAuth 2.0 / OIDC.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client
	keys       *oidc.KeySet
}

// Config holds Google OAuth configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client // Optional custom HTTP client
}

// NewProvider creates a new Google OAuth provider
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, &providers.ConfigError{Provider: "google", Reason: "client ID is required"}
	}
	if cfg.ClientSecret == "" {
		return nil, &providers.ConfigError{Provider: "google", Reason: "client secret is required"}
	}
	if cfg.RedirectURL == "" {
		return nil, &providers.ConfigError{Provider: "google", Reason: "redirect URL is required"}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = providers.NewHTTPClient()
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     oauth2google.Endpoint,
		},
		httpClient: httpClient,
		keys:       oidc.NewKeySet(jwksURL, httpClient),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "google"
}

// AuthorizationURL generates the Google OAuth authorization URL.
// access_type=offline and prompt=consent force Google to issue a refresh
// token on every login, not only the first consent.
func (p *Provider) AuthorizationURL(state string, opts *providers.AuthOptions) string {
	if opts == nil {
		opts = &providers.AuthOptions{}
	}

	oauth2Opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	}

	if opts.Nonce != "" {
		oauth2Opts = append(oauth2Opts, oauth2.SetAuthURLParam("nonce", opts.Nonce))
	}
	if opts.CodeChallenge != "" {
		oauth2Opts = append(oauth2Opts,
			oauth2.SetAuthURLParam("code_challenge", opts.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", opts.CodeChallengeMethod),
		)
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

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code, oauth2Opts...)
	if err != nil {
		if rErr, ok := err.(*oauth2.RetrieveError); ok {
			return nil, &providers.OAuth2Error{
				Provider:   "google",
				StatusCode: rErr.Response.StatusCode,
				Body:       string(rErr.Body),
			}
		}
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return providers.FromOAuth2Token(token), nil
}

// GetUserInfo resolves identity claims, preferring ID-token verification over
// the userinfo endpoint.
func (p *Provider) GetUserInfo(ctx context.Context, accessToken, idToken string) (*providers.IdentityClaims, error) {
	if idToken != "" {
		claims, err := oidc.VerifyIDToken(ctx, idToken, p.keys, p.config.ClientID, issuers)
		if err != nil {
			return nil, err
		}
		return claimsFromMap(claims), nil
	}
	return p.fetchUserInfo(ctx, accessToken)
}

// fetchUserInfo calls Google's OIDC userinfo endpoint (used when no id_token
// is available, e.g. after a refresh).
func (p *Provider) fetchUserInfo(ctx context.Context, accessToken string) (*providers.IdentityClaims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &providers.OAuth2Error{Provider: "google", StatusCode: resp.StatusCode}
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	return claimsFromMap(claims), nil
}

// claimsFromMap normalizes Google's claim names into IdentityClaims.
func claimsFromMap(claims map[string]any) *providers.IdentityClaims {
	return &providers.IdentityClaims{
		ProviderUserID: providers.StringClaim(claims, "sub"),
		Email:          providers.StringClaim(claims, "email"),
		EmailVerified:  providers.ParseBoolClaim(claims["email_verified"]),
		Name:           providers.StringClaim(claims, "name"),
		GivenName:      providers.StringClaim(claims, "given_name"),
		FamilyName:     providers.StringClaim(claims, "family_name"),
		Picture:        providers.StringClaim(claims, "picture"),
		Locale:         providers.StringClaim(claims, "locale"),
		Raw:            claims,
	}
}

// RefreshToken refreshes an expired token. Google does not always return a
// new refresh token, so the original is re-attached when the response omits it.
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

// RevokeToken revokes a token at Google's revocation endpoint
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	form := url.Values{}
	form.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &providers.OAuth2Error{Provider: "google", StatusCode: resp.StatusCode}
	}
	return nil
}
