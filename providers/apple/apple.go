package apple

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/auth-core/providers"
	"github.com/giantswarm/auth-core/providers/oidc"
)

const (
	authorizeURL = "https://appleid.apple.com/auth/authorize"
	tokenURL     = "https://appleid.apple.com/auth/token"
	revokeURL    = "https://appleid.apple.com/auth/revoke"
	jwksURL      = "https://appleid.apple.com/auth/keys"
	issuer       = "https://appleid.apple.com"

	// clientSecretTTL bounds the lifetime of generated client secrets.
	// Apple accepts up to six months; a short window is sufficient because
	// the secret is regenerated on every call.
	clientSecretTTL = 5 * time.Minute
)

// Provider implements providers.Provider for Sign in with Apple.
//
// Apple rejects static client secrets: every token-endpoint call must carry a
// freshly signed ES256 JWT identifying the developer team and key. Note the
// asymmetry: the client secret is ES256-signed, but Apple signs ID tokens
// with RS256.
type Provider struct {
	clientID    string
	teamID      string
	keyID       string
	privateKey  *ecdsa.PrivateKey
	redirectURL string
	scopes      []string
	httpClient  *http.Client
	keys        *oidc.KeySet

	// now is injectable for client-secret expiry tests
	now func() time.Time
}

// Config holds Sign in with Apple configuration. Instead of a client secret,
// Apple issues a PEM-encoded ES256 signing key tied to a team and key ID.
type Config struct {
	ClientID    string // the Services ID (acts as OAuth client_id)
	TeamID      string
	KeyID       string
	PrivateKey  string // PEM-encoded PKCS#8 EC private key from Apple
	RedirectURL string
	Scopes      []string
	HTTPClient  *http.Client // Optional custom HTTP client
}

// NewProvider creates a new Sign in with Apple provider
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, &providers.ConfigError{Provider: "apple", Reason: "client ID is required"}
	}
	if cfg.TeamID == "" {
		return nil, &providers.ConfigError{Provider: "apple", Reason: "team ID is required"}
	}
	if cfg.KeyID == "" {
		return nil, &providers.ConfigError{Provider: "apple", Reason: "key ID is required"}
	}
	if cfg.RedirectURL == "" {
		return nil, &providers.ConfigError{Provider: "apple", Reason: "redirect URL is required"}
	}

	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, &providers.ConfigError{Provider: "apple", Reason: err.Error()}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"name", "email"}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = providers.NewHTTPClient()
	}

	return &Provider{
		clientID:    cfg.ClientID,
		teamID:      cfg.TeamID,
		keyID:       cfg.KeyID,
		privateKey:  key,
		redirectURL: cfg.RedirectURL,
		scopes:      scopes,
		httpClient:  httpClient,
		keys:        oidc.NewKeySet(jwksURL, httpClient),
		now:         time.Now,
	}, nil
}

// parsePrivateKey decodes the PEM-encoded PKCS#8 EC key Apple issues.
func parsePrivateKey(pemKey string) (*ecdsa.PrivateKey, error) {
	if pemKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("private key is not valid PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("private key is not valid PKCS#8: %v", err)
	}
	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not an EC key")
	}
	return ecKey, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "apple"
}

// AuthorizationURL generates the Apple authorization URL. Apple requires
// response_mode=form_post whenever the name or email scope is requested.
func (p *Provider) AuthorizationURL(state string, opts *providers.AuthOptions) string {
	if opts == nil {
		opts = &providers.AuthOptions{}
	}

	q := url.Values{}
	q.Set("client_id", p.clientID)
	q.Set("redirect_uri", p.redirectURL)
	q.Set("response_type", "code")
	q.Set("response_mode", "form_post")
	q.Set("scope", strings.Join(p.scopes, " "))
	q.Set("state", state)
	if opts.Nonce != "" {
		q.Set("nonce", opts.Nonce)
	}
	if opts.CodeChallenge != "" {
		q.Set("code_challenge", opts.CodeChallenge)
		q.Set("code_challenge_method", opts.CodeChallengeMethod)
	}

	return authorizeURL + "?" + q.Encode()
}

// clientSecret signs a fresh ES256 client-secret JWT for the token endpoint.
// Apple rejects static secrets, so this runs on every call.
func (p *Provider) clientSecret() (string, error) {
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    p.teamID,
		Subject:   p.clientID,
		Audience:  jwt.ClaimStrings{issuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(clientSecretTTL)),
	})
	token.Header["kid"] = p.keyID

	signed, err := token.SignedString(p.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign client secret: %w", err)
	}
	return signed, nil
}

// ExchangeCode exchanges an authorization code for tokens
func (p *Provider) ExchangeCode(ctx context.Context, code string, opts *providers.ExchangeOptions) (*providers.TokenResponse, error) {
	if opts == nil {
		opts = &providers.ExchangeOptions{}
	}

	secret, err := p.clientSecret()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", p.clientID)
	form.Set("client_secret", secret)
	form.Set("redirect_uri", p.redirectURL)
	if opts.CodeVerifier != "" {
		form.Set("code_verifier", opts.CodeVerifier)
	}

	return providers.PostTokenRequest(ctx, p.httpClient, "apple", tokenURL, form)
}

// GetUserInfo resolves identity claims from the ID token. Apple has no
// userinfo endpoint, so an ID token is mandatory.
//
// Apple encodes email_verified as the string "true"/"false" rather than a
// JSON boolean; ParseBoolClaim accepts both so the quirk cannot crash the
// parser.
func (p *Provider) GetUserInfo(ctx context.Context, accessToken, idToken string) (*providers.IdentityClaims, error) {
	if idToken == "" {
		return nil, fmt.Errorf("apple requires an id_token for user info")
	}

	claims, err := oidc.VerifyIDToken(ctx, idToken, p.keys, p.clientID, []string{issuer})
	if err != nil {
		return nil, err
	}

	return &providers.IdentityClaims{
		ProviderUserID: providers.StringClaim(claims, "sub"),
		Email:          providers.StringClaim(claims, "email"),
		EmailVerified:  providers.ParseBoolClaim(claims["email_verified"]),
		Raw:            claims,
	}, nil
}

// RefreshToken refreshes an access token, re-attaching the original refresh
// token when Apple omits one from the response.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*providers.TokenResponse, error) {
	secret, err := p.clientSecret()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", p.clientID)
	form.Set("client_secret", secret)

	resp, err := providers.PostTokenRequest(ctx, p.httpClient, "apple", tokenURL, form)
	if err != nil {
		return nil, err
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

// RevokeToken revokes a token at Apple's revocation endpoint
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	secret, err := p.clientSecret()
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("client_id", p.clientID)
	form.Set("client_secret", secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &providers.OAuth2Error{Provider: "apple", StatusCode: resp.StatusCode}
	}
	return nil
}
