package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/giantswarm/auth-core/internal/util"
	"github.com/giantswarm/auth-core/providers"
	"github.com/giantswarm/auth-core/session"
)

// Orchestrator drives the provider login flow: login start, callback
// handling, session validation, token refresh, and logout. It is stateless
// between calls; all long-lived state lives in the session store and the
// external collaborators.
type Orchestrator struct {
	providers map[string]providers.Provider
	sessions  *session.Store
	states    CsrfStateCodec
	limiter   RateLimiter
	auditor   SecurityAuditor
	users     UserRepository
	metrics   FlowMetrics
	logger    *slog.Logger
}

// OrchestratorOptions configures an Orchestrator. Providers, Sessions,
// States, and Users are required; Limiter, Auditor, and Metrics are
// optional.
type OrchestratorOptions struct {
	Providers []providers.Provider
	Sessions  *session.Store
	States    CsrfStateCodec
	Limiter   RateLimiter
	Auditor   SecurityAuditor
	Users     UserRepository
	Metrics   FlowMetrics
	Logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator from the given options.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if len(opts.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.States == nil {
		return nil, fmt.Errorf("state codec is required")
	}
	if opts.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := make(map[string]providers.Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		if _, ok := registry[p.Name()]; ok {
			return nil, fmt.Errorf("duplicate provider: %s", p.Name())
		}
		registry[p.Name()] = p
	}

	return &Orchestrator{
		providers: registry,
		sessions:  opts.Sessions,
		states:    opts.States,
		limiter:   opts.Limiter,
		auditor:   opts.Auditor,
		users:     opts.Users,
		metrics:   opts.Metrics,
		logger:    logger,
	}, nil
}

// ProviderNames returns the configured provider names in sorted order.
func (o *Orchestrator) ProviderNames() []string {
	names := make([]string, 0, len(o.providers))
	for name := range o.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoginStart is the result of StartLogin: the URL to redirect the browser to
// and the state token bound into it.
type LoginStart struct {
	AuthorizationURL string
	State            string
}

// StartLogin begins a login flow with the named provider. redirect is the
// optional post-login target carried through the state token. No session or
// token exists until the callback completes.
func (o *Orchestrator) StartLogin(provider, clientIP, redirect string) (*LoginStart, error) {
	p, ok := o.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	state, err := o.states.CreateState(provider, clientIP, redirect)
	if err != nil {
		return nil, fmt.Errorf("failed to create state: %w", err)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	authURL := p.AuthorizationURL(state, &providers.AuthOptions{Nonce: nonce})

	if o.auditor != nil {
		o.auditor.LogAuthAttempt(provider, clientIP)
	}
	o.logger.Info("Login started", "provider", provider)

	return &LoginStart{AuthorizationURL: authURL, State: state}, nil
}

// CallbackResult carries the minted session token and the post-login
// redirect target recovered from the state.
type CallbackResult struct {
	SessionToken string
	Redirect     string
}

// HandleCallback processes the provider callback. State validation runs
// before anything else and any failure is fatal; the rate limiter gates the
// expensive exchange; the email_verified claim gates session creation; role
// flags come from the authoritative user record, never from provider claims.
func (o *Orchestrator) HandleCallback(ctx context.Context, provider, code, state, clientIP, userAgent string) (*CallbackResult, error) {
	p, ok := o.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	if err := o.states.ValidateState(state, provider, clientIP); err != nil {
		if o.auditor != nil {
			o.auditor.LogAuthFailure("", provider, clientIP, "invalid_state")
			o.auditor.LogSuspiciousActivity("", clientIP, "provider_state_mismatch", map[string]any{
				"provider": provider,
			})
		}
		o.logger.Warn("State validation failed", "provider", provider, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	if o.limiter != nil && !o.limiter.Allow(clientIP) {
		if o.auditor != nil {
			o.auditor.LogAuthFailure("", provider, clientIP, "rate_limit_exceeded")
		}
		return nil, ErrRateLimitExceeded
	}

	exchangeStart := time.Now()
	tokens, err := p.ExchangeCode(ctx, code, nil)
	o.recordProviderCall(ctx, provider, "exchange_code", exchangeStart, err)
	if err != nil {
		o.auditFailureAsync("", provider, clientIP, "code_exchange_failed")
		o.logger.Warn("Code exchange failed", "provider", provider, "error", err)
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	claimsStart := time.Now()
	claims, err := p.GetUserInfo(ctx, tokens.AccessToken, tokens.IDToken)
	o.recordProviderCall(ctx, provider, "get_user_info", claimsStart, err)
	if err != nil {
		o.auditFailureAsync("", provider, clientIP, "identity_claims_failed")
		o.logger.Warn("Identity claims fetch failed", "provider", provider, "error", err)
		return nil, fmt.Errorf("failed to fetch identity claims: %w", err)
	}

	if !claims.EmailVerified {
		if o.auditor != nil {
			o.auditor.LogAuthFailure("", provider, clientIP, "email_not_verified")
		}
		o.logger.Warn("Rejected login with unverified email", "provider", provider)
		return nil, ErrEmailNotVerified
	}

	userID, err := o.users.UpsertUser(ctx, claims.Email, claims.Name, provider, claims.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// Re-read so role flags reflect the stored record, including any
	// bootstrap-admin promotion applied by the repository.
	user, err := o.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	token, err := o.sessions.Create(session.CreateParams{
		UserID:    userID,
		Provider:  provider,
		Email:     claims.Email,
		Name:      claims.Name,
		IsAdmin:   user.IsAdmin,
		IsEditor:  user.IsEditor,
		IPAddress: clientIP,
		UserAgent: userAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if o.auditor != nil {
		o.auditor.LogAuthSuccess(userID, provider, clientIP)
	}

	redirect, err := o.states.ExtractRedirect(state)
	if err != nil {
		// The state already validated; a redirect extraction failure only
		// loses the post-login target.
		o.logger.Warn("Failed to extract redirect from state", "error", err)
		redirect = ""
	}

	return &CallbackResult{SessionToken: token, Redirect: redirect}, nil
}

// ValidateSession checks the token against the presented fingerprint and
// returns the owning user ID.
func (o *Orchestrator) ValidateSession(token, clientIP, userAgent string) (string, error) {
	record, err := o.sessions.Validate(token, clientIP, userAgent)
	if err != nil {
		return "", err
	}
	return record.UserID, nil
}

// GetSession returns the full session record after fingerprint validation.
func (o *Orchestrator) GetSession(token, clientIP, userAgent string) (*session.Record, error) {
	return o.sessions.Validate(token, clientIP, userAgent)
}

// ValidateSessionWithResource validates the session and additionally rejects
// replay of a session minted for a narrower resource audience (RFC 8707)
// against a different resource. Sessions without a resource binding pass.
func (o *Orchestrator) ValidateSessionWithResource(token, clientIP, userAgent, resource string) (*session.Record, error) {
	record, err := o.sessions.Validate(token, clientIP, userAgent)
	if err != nil {
		return nil, err
	}
	// Trailing slashes are not significant in audience comparison.
	if record.Resource != "" && util.NormalizeURL(record.Resource) != util.NormalizeURL(resource) {
		if o.auditor != nil {
			o.auditor.LogSuspiciousActivity(record.UserID, clientIP, "resource_mismatch", map[string]any{
				"expected_resource": record.Resource,
				"provided_resource": resource,
			})
		}
		return nil, ErrResourceMismatch
	}
	return record, nil
}

// RefreshToken re-issues provider tokens using a refresh token.
func (o *Orchestrator) RefreshToken(ctx context.Context, provider, refreshToken string) (*providers.TokenResponse, error) {
	p, ok := o.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	return p.RefreshToken(ctx, refreshToken)
}

// Logout destroys the local session and, when oauthToken is non-empty,
// attempts upstream revocation at the named provider. Local destruction
// always wins: a revocation failure is logged and never propagated.
func (o *Orchestrator) Logout(ctx context.Context, token, provider, oauthToken string) error {
	err := o.sessions.Invalidate(token)

	if oauthToken != "" {
		if p, ok := o.providers[provider]; ok {
			if revokeErr := p.RevokeToken(ctx, oauthToken); revokeErr != nil {
				o.logger.Warn("Upstream token revocation failed",
					"provider", provider,
					"error", revokeErr)
			}
		}
	}

	return err
}

func (o *Orchestrator) auditFailureAsync(userID, provider, clientIP, reason string) {
	if o.auditor == nil {
		return
	}
	go o.auditor.LogAuthFailure(userID, provider, clientIP, reason)
}

// recordProviderCall reports one upstream provider call. The status code
// comes from the provider's wire error when there is one; transport-level
// failures report status 0.
func (o *Orchestrator) recordProviderCall(ctx context.Context, provider, operation string, start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	status := 200
	if err != nil {
		status = 0
		var oauthErr *providers.OAuth2Error
		if errors.As(err, &oauthErr) {
			status = oauthErr.StatusCode
		}
	}
	o.metrics.RecordProviderAPICall(ctx, provider, operation, status,
		float64(time.Since(start).Milliseconds()), err)
}

func generateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
