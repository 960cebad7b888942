package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/auth-core/internal/util"
	"github.com/giantswarm/auth-core/security"
	"github.com/giantswarm/auth-core/session"
	"github.com/giantswarm/auth-core/storage"
)

const (
	// DefaultAuthorizationCodeTTL is the lifetime of issued authorization codes
	DefaultAuthorizationCodeTTL = 10 * time.Minute

	// DefaultLoginPath is where unauthenticated authorize requests are sent
	DefaultLoginPath = "/login"

	// LocalProviderName marks sessions minted by the local token endpoint
	LocalProviderName = "local"
)

// LocalAuthServer implements the authorization-code + PKCE grant for
// first-party tool clients. It does not invent its own identity check:
// unauthenticated callers are bounced to the login page and the flow resumes
// against the caller's first-party session.
type LocalAuthServer struct {
	codes        storage.AuthorizationCodeStore
	clients      storage.ClientStore
	sessions     *session.Store
	auditor      *security.Auditor
	eventLimiter RateLimiter
	metrics      FlowMetrics
	logger       *slog.Logger
	codeTTL      time.Duration
	loginPath    string
	now          func() time.Time
}

// LocalAuthOptions configures a LocalAuthServer. Codes and Sessions are
// required. Clients enables registered-client enforcement (redirect URI
// allow-lists, confidential client secrets); without it any client_id with a
// well-formed redirect_uri is accepted, which is only suitable for
// single-tenant deployments. EventLimiter rate-limits reuse-detection logging
// so an attacker replaying codes cannot flood the log.
type LocalAuthOptions struct {
	Codes        storage.AuthorizationCodeStore
	Clients      storage.ClientStore
	Sessions     *session.Store
	Auditor      *security.Auditor
	EventLimiter RateLimiter
	Metrics      FlowMetrics
	Logger       *slog.Logger
	CodeTTL      time.Duration
	LoginPath    string
}

// NewLocalAuthServer creates a local authorization server from the options.
func NewLocalAuthServer(opts LocalAuthOptions) (*LocalAuthServer, error) {
	if opts.Codes == nil {
		return nil, fmt.Errorf("authorization code store is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	codeTTL := opts.CodeTTL
	if codeTTL <= 0 {
		codeTTL = DefaultAuthorizationCodeTTL
	}
	loginPath := opts.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}

	return &LocalAuthServer{
		codes:        opts.Codes,
		clients:      opts.Clients,
		sessions:     opts.Sessions,
		auditor:      opts.Auditor,
		eventLimiter: opts.EventLimiter,
		metrics:      opts.Metrics,
		logger:       logger,
		codeTTL:      codeTTL,
		loginPath:    loginPath,
		now:          time.Now,
	}, nil
}

// AuthorizeRequest carries the query parameters of an authorize request.
// OriginalURI is the full request URI (path and query) so an unauthenticated
// flow can resume after login.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
	OriginalURI         string
}

// AuthorizeResult tells the handler where to send the browser next.
// LoginRequired means the caller had no valid session and RedirectURL points
// at the login page. CustomScheme means RedirectURL uses a non-HTTP scheme
// and should be delivered via an HTML auto-redirect page rather than a raw
// 302 (RFC 8252).
type AuthorizeResult struct {
	RedirectURL   string
	LoginRequired bool
	CustomScheme  bool
}

// Authorize handles an authorization request from an authenticated or
// anonymous caller. sess is the caller's first-party session record, or nil.
func (s *LocalAuthServer) Authorize(ctx context.Context, req AuthorizeRequest, sess *session.Record) (*AuthorizeResult, error) {
	if req.ResponseType != "code" {
		return nil, ErrUnsupportedResponseType(fmt.Sprintf("unsupported response_type: %s", req.ResponseType))
	}
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	var client *storage.Client
	if s.clients != nil {
		found, err := s.clients.GetClient(ctx, req.ClientID)
		switch {
		case errors.Is(err, storage.ErrClientNotFound):
			return nil, ErrInvalidClient(fmt.Sprintf("unknown client: %s", req.ClientID))
		case err != nil:
			return nil, ErrServerError("failed to load client")
		}
		client = found
	}

	// The redirect target is untrusted until validated, so failures here
	// return an error page rather than redirecting.
	if err := validateRedirectURI(req.RedirectURI, client); err != nil {
		if s.auditor != nil {
			s.auditor.LogEvent(security.Event{
				Type: security.EventInvalidRedirect,
				Details: map[string]any{
					"client_id":    req.ClientID,
					"redirect_uri": util.SafeTruncate(req.RedirectURI, 128),
				},
			})
		}
		return nil, ErrInvalidRequest(err.Error())
	}

	challengeMethod := req.CodeChallengeMethod
	if req.CodeChallenge != "" {
		if challengeMethod == "" {
			// RFC 7636: the method defaults to plain when omitted
			challengeMethod = PKCEMethodPlain
		}
		if challengeMethod != PKCEMethodS256 && challengeMethod != PKCEMethodPlain {
			return nil, ErrInvalidRequest(fmt.Sprintf("unsupported code_challenge_method: %s", challengeMethod))
		}
	}

	if sess == nil {
		return &AuthorizeResult{
			RedirectURL:   s.loginPath + "?redirect=" + url.QueryEscape(req.OriginalURI),
			LoginRequired: true,
		}, nil
	}

	code := authorizationCodePrefix + uuid.NewString()
	now := s.now()
	record := &storage.AuthorizationCode{
		Code:                code,
		UserID:              sess.UserID,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: challengeMethod,
		Resource:            req.Resource,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.codeTTL),
	}
	saveStart := time.Now()
	if err := s.codes.SaveAuthorizationCode(ctx, record); err != nil {
		s.recordStorageOp(ctx, "save_code", "error", saveStart)
		s.logger.Error("Failed to save authorization code", "error", err)
		return nil, ErrServerError("failed to issue authorization code")
	}
	s.recordStorageOp(ctx, "save_code", "ok", saveStart)

	if s.auditor != nil {
		s.auditor.LogEvent(security.Event{
			Type:   security.EventAuthorizationCodeIssued,
			UserID: sess.UserID,
			Details: map[string]any{
				"client_id": req.ClientID,
				"scope":     req.Scope,
			},
		})
	}
	s.logger.Info("Authorization code issued",
		"client_id", req.ClientID,
		"code_prefix", util.SafeTruncate(code, 13))

	return &AuthorizeResult{
		RedirectURL:  buildRedirectURL(req.RedirectURI, code, req.State),
		CustomScheme: isCustomScheme(req.RedirectURI),
	}, nil
}

// TokenRequest carries the form parameters of a token request plus the
// client fingerprint used to mint the resulting session.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	ClientID     string
	ClientSecret string
	IPAddress    string
	UserAgent    string
}

// TokenResult is the successful token endpoint response body.
type TokenResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// Token redeems an authorization code for a session token. Redemption is
// exactly-once: the store marks the code used atomically before any further
// validation, so concurrent redemption attempts cannot both succeed.
func (s *LocalAuthServer) Token(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	if req.GrantType != "authorization_code" {
		return nil, ErrUnsupportedGrantType(fmt.Sprintf("unsupported grant_type: %s", req.GrantType))
	}
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	if err := validateCodeShape(req.Code); err != nil {
		return nil, ErrInvalidGrant(err.Error())
	}

	if s.clients != nil && req.ClientID != "" {
		if err := s.clients.ValidateClientSecret(ctx, req.ClientID, req.ClientSecret); err != nil {
			if s.auditor != nil {
				s.auditor.LogAuthFailure("", LocalProviderName, req.IPAddress, "client_authentication_failed")
			}
			return nil, ErrInvalidClient("client authentication failed")
		}
	}

	redeemStart := time.Now()
	redeemed, err := s.codes.RedeemAuthorizationCode(ctx, req.Code)
	if err != nil {
		s.recordStorageOp(ctx, "redeem_code", "rejected", redeemStart)
		return nil, s.redeemFailure(ctx, req, redeemed, err)
	}
	s.recordStorageOp(ctx, "redeem_code", "ok", redeemStart)

	if req.ClientID != "" && redeemed.ClientID != req.ClientID {
		s.logger.Debug("Authorization code validation failed",
			"reason", "client_id_mismatch",
			"expected_client_id", redeemed.ClientID,
			"provided_client_id", req.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, 13))
		if s.auditor != nil {
			s.auditor.LogAuthFailure("", LocalProviderName, req.IPAddress, "client_id_mismatch")
		}
		return nil, ErrInvalidGrant("invalid authorization code")
	}

	if redeemed.RedirectURI != req.RedirectURI {
		s.logger.Debug("Authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"code_prefix", util.SafeTruncate(req.Code, 13))
		if s.auditor != nil {
			s.auditor.LogAuthFailure("", LocalProviderName, req.IPAddress, "redirect_uri_mismatch")
		}
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if err := ValidatePKCE(redeemed.CodeChallenge, redeemed.CodeChallengeMethod, req.CodeVerifier); err != nil {
		if s.auditor != nil {
			s.auditor.LogEvent(security.Event{
				Type:   security.EventInvalidPKCE,
				UserID: redeemed.UserID,
				Details: map[string]any{
					"client_id": req.ClientID,
					"reason":    err.Error(),
				},
			})
			s.auditor.LogAuthFailure(redeemed.UserID, LocalProviderName, req.IPAddress, "pkce_validation_failed")
		}
		if s.metrics != nil {
			s.metrics.RecordPKCEValidationFailed(ctx, redeemed.CodeChallengeMethod)
		}
		return nil, ErrInvalidGrant(fmt.Sprintf("PKCE validation failed: %v", err))
	}

	// Role flags are stamped false here rather than read from the user
	// repository; tool sessions carry no admin or editor rights.
	token, err := s.sessions.Create(session.CreateParams{
		UserID:    redeemed.UserID,
		Provider:  LocalProviderName,
		Resource:  redeemed.Resource,
		IsAdmin:   false,
		IsEditor:  false,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		s.logger.Error("Failed to create session for redeemed code", "error", err)
		return nil, ErrServerError("failed to create session")
	}

	if s.metrics != nil {
		s.metrics.RecordCodeExchange(ctx, redeemed.ClientID, redeemed.CodeChallengeMethod)
	}

	return &TokenResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.sessions.Timeout().Seconds()),
		Scope:       redeemed.Scope,
	}, nil
}

// recordStorageOp reports the duration of one authorization code store call.
func (s *LocalAuthServer) recordStorageOp(ctx context.Context, operation, result string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordStorageOperation(ctx, operation, result,
		float64(time.Since(start).Milliseconds()))
}

// redeemFailure maps store errors to RFC 6749 responses. All three cases are
// invalid_grant; used vs expired differ only in the description. A used code
// is a reuse attempt and a potential token theft indicator, so it is audited
// with the affected user and the code is deleted.
func (s *LocalAuthServer) redeemFailure(ctx context.Context, req TokenRequest, redeemed *storage.AuthorizationCode, err error) error {
	switch {
	case errors.Is(err, storage.ErrAuthorizationCodeUsed):
		userID := ""
		if redeemed != nil {
			userID = redeemed.UserID
		}
		if s.eventLimiter == nil || s.eventLimiter.Allow(userID+":"+req.ClientID) {
			s.logger.Error("Authorization code reuse detected",
				"user_id_hash", security.HashUserID(userID),
				"client_id", req.ClientID,
				"code_prefix", util.SafeTruncate(req.Code, 13))
		}
		if s.auditor != nil {
			s.auditor.LogEvent(security.Event{
				Type:      security.EventAuthorizationCodeReuseDetected,
				UserID:    userID,
				IPAddress: req.IPAddress,
				Details: map[string]any{
					"client_id": req.ClientID,
					"severity":  "critical",
				},
			})
			s.auditor.LogAuthFailure(userID, LocalProviderName, req.IPAddress, "authorization_code_reuse")
		}
		if s.metrics != nil {
			s.metrics.RecordCodeReuseDetected(ctx)
		}
		_ = s.codes.DeleteAuthorizationCode(ctx, req.Code)
		return ErrInvalidGrant("authorization code already used")

	case errors.Is(err, storage.ErrAuthorizationCodeExpired):
		if s.auditor != nil {
			s.auditor.LogAuthFailure("", LocalProviderName, req.IPAddress, "authorization_code_expired")
		}
		return ErrInvalidGrant("authorization code expired")

	case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
		if s.auditor != nil {
			s.auditor.LogAuthFailure("", LocalProviderName, req.IPAddress, "invalid_authorization_code")
		}
		return ErrInvalidGrant("invalid authorization code")

	default:
		s.logger.Error("Authorization code redemption failed", "error", err)
		return ErrServerError("failed to redeem authorization code")
	}
}
