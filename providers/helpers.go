package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout is the hard timeout applied to every outbound provider
// call (token exchange, JWKS fetch, userinfo). A timeout surfaces as an error,
// never as success.
const DefaultHTTPTimeout = 30 * time.Second

// NewHTTPClient returns the HTTP client used for provider calls when the
// configuration does not supply a custom one.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultHTTPTimeout}
}

// wireTokenResponse is the RFC 6749 token endpoint response shape shared by
// providers that POST token requests directly rather than through x/oauth2.
type wireTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
}

// PostTokenRequest POSTs a form-encoded token request and decodes the standard
// token response. Non-2xx responses surface as *OAuth2Error carrying the body.
func PostTokenRequest(ctx context.Context, client *http.Client, providerName, tokenURL string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &OAuth2Error{Provider: providerName, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var wire wireTokenResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &TokenResponse{
		AccessToken:  wire.AccessToken,
		TokenType:    wire.TokenType,
		ExpiresIn:    wire.ExpiresIn,
		RefreshToken: wire.RefreshToken,
		IDToken:      wire.IDToken,
		Scope:        wire.Scope,
	}, nil
}

// FromOAuth2Token converts an x/oauth2 token into the transient TokenResponse,
// pulling the id_token and scope out of the extra fields.
func FromOAuth2Token(token *oauth2.Token) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		if secs := int64(time.Until(token.Expiry).Seconds()); secs > 0 {
			resp.ExpiresIn = secs
		}
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	return resp
}
