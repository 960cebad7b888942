package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/auth-core/instrumentation"
	"github.com/giantswarm/auth-core/security"
	"github.com/giantswarm/auth-core/server"
	"github.com/giantswarm/auth-core/session"
)

// Handler is the HTTP adapter in front of the orchestrator and the local
// authorization server. It owns cookie handling and response encoding;
// all authentication decisions happen in the layers below.
type Handler struct {
	orchestrator *server.Orchestrator
	local        *server.LocalAuthServer

	cookie         CookieConfig
	sessionTimeout time.Duration

	limiter           server.RateLimiter
	trustProxy        bool
	trustedProxyCount int

	metrics *instrumentation.Metrics

	baseURL string
	logger  *slog.Logger
}

// HandlerOptions configures a Handler. Orchestrator and Local are required.
type HandlerOptions struct {
	Orchestrator *server.Orchestrator
	Local        *server.LocalAuthServer

	Cookie         CookieConfig
	SessionTimeout time.Duration

	// Limiter gates the login and token endpoints per client IP. The
	// callback endpoint is gated inside the orchestrator instead.
	Limiter server.RateLimiter

	TrustProxy        bool
	TrustedProxyCount int

	// Metrics receives request and flow counters; nil disables recording.
	Metrics *instrumentation.Metrics

	BaseURL string
	Logger  *slog.Logger
}

// NewHandler creates a Handler from the options.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if opts.Local == nil {
		return nil, errors.New("local authorization server is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cookie := opts.Cookie
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	if cookie.SameSite == 0 {
		cookie.SameSite = http.SameSiteLaxMode
	}
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = session.DefaultSessionTimeout
	}
	proxyCount := opts.TrustedProxyCount
	if proxyCount <= 0 {
		proxyCount = 1
	}

	return &Handler{
		orchestrator:      opts.Orchestrator,
		local:             opts.Local,
		cookie:            cookie,
		sessionTimeout:    timeout,
		limiter:           opts.Limiter,
		trustProxy:        opts.TrustProxy,
		trustedProxyCount: proxyCount,
		metrics:           opts.Metrics,
		baseURL:           opts.BaseURL,
		logger:            logger,
	}, nil
}

// Routes returns the full route set wrapped in the request ID middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /login", h.handleProviderList)
	mux.HandleFunc("GET /login/{provider}", h.handleLogin)
	// Apple delivers its callback as a POST form (response_mode=form_post);
	// the other providers redirect with GET query parameters.
	mux.HandleFunc("GET /callback/{provider}", h.handleCallback)
	mux.HandleFunc("POST /callback/{provider}", h.handleCallback)
	mux.HandleFunc("GET /logout", h.handleLogout)
	mux.HandleFunc("POST /logout", h.handleLogout)
	mux.HandleFunc("GET /status", h.handleStatus)

	mux.HandleFunc("GET /oauth2/authorize", h.handleAuthorize)
	mux.HandleFunc("GET /authorize", h.handleAuthorize)
	mux.HandleFunc("POST /oauth2/token", h.handleToken)
	mux.HandleFunc("POST /token", h.handleToken)

	return security.RequestIDMiddleware(h.measure(mux))
}

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// measure records per-request HTTP metrics.
func (h *Handler) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		h.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, recorder.status,
			float64(time.Since(start).Milliseconds()))
	})
}

// handleProviderList returns the configured providers as JSON so a login
// page can be rendered without hardcoding the provider set.
func (h *Handler) handleProviderList(w http.ResponseWriter, r *http.Request) {
	names := h.orchestrator.ProviderNames()
	resp := ProviderListResponse{Providers: make([]ProviderInfo, 0, len(names))}
	for _, name := range names {
		resp.Providers = append(resp.Providers, ProviderInfo{
			Name:     name,
			LoginURL: "/login/" + name,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleLogin starts the flow for one provider and redirects the browser to
// the provider's authorization endpoint. An optional redirect query
// parameter is carried through the signed state and honored after callback.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	if !h.allow(clientIP) {
		h.writeRateLimited(w, r)
		return
	}

	providerName := r.PathValue("provider")
	start, err := h.orchestrator.StartLogin(providerName, clientIP, r.URL.Query().Get("redirect"))
	if err != nil {
		if errors.Is(err, server.ErrUnsupportedProvider) {
			h.writeError(w, ErrorCodeInvalidRequest, "unknown provider", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to start login", "provider", providerName, "error", err)
		h.writeError(w, server.ErrorCodeServerError, "failed to start login", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordLoginStarted(r.Context(), providerName)
	}
	security.SetSecurityHeaders(w, h.baseURL)
	http.Redirect(w, r, start.AuthorizationURL, http.StatusFound)
}

// handleCallback finishes the flow: the orchestrator validates state,
// exchanges the code, and mints a session, which lands in the cookie.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := r.PathValue("provider")

	// FormValue reads the query string on GET callbacks and the form body
	// on Apple's form_post callbacks.
	if providerErr := r.FormValue("error"); providerErr != "" {
		// The provider's error detail is logged but never echoed back.
		h.logger.Warn("Provider returned error on callback",
			"provider", providerName,
			"error", providerErr,
			"description", r.FormValue("error_description"))
		h.writeError(w, ErrorCodeAuthenticationFailed, "authentication failed", http.StatusUnauthorized)
		return
	}

	code := r.FormValue("code")
	state := r.FormValue("state")
	if code == "" || state == "" {
		h.writeError(w, ErrorCodeInvalidRequest, "code and state are required", http.StatusBadRequest)
		return
	}

	clientIP := h.clientIP(r)
	result, err := h.orchestrator.HandleCallback(r.Context(), providerName, code, state, clientIP, r.UserAgent())
	if h.metrics != nil {
		h.metrics.RecordCallbackProcessed(r.Context(), providerName, err == nil)
	}
	if err != nil {
		h.logger.Warn("Login callback failed", "provider", providerName, "error", err)
		errCode, description, status := callbackError(err)
		h.writeError(w, errCode, description, status)
		return
	}

	h.setSessionCookie(w, result.SessionToken)
	security.SetSecurityHeaders(w, h.baseURL)

	target := result.Redirect
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleLogout invalidates the session and clears the cookie. Logout is
// idempotent: a missing or already-dead session still clears the cookie and
// redirects.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cookie.Name); err == nil && cookie.Value != "" {
		providerName := ""
		if record, err := h.orchestrator.GetSession(cookie.Value, h.clientIP(r), r.UserAgent()); err == nil {
			providerName = record.Provider
		}
		if err := h.orchestrator.Logout(r.Context(), cookie.Value, providerName, ""); err != nil &&
			!errors.Is(err, session.ErrSessionNotFound) {
			h.logger.Warn("Logout failed to invalidate session", "error", err)
		}
	}

	h.clearSessionCookie(w)
	security.SetSecurityHeaders(w, h.baseURL)

	target := r.URL.Query().Get("redirect")
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleStatus reports whether the caller holds a live session.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	record, ok := h.sessionFromRequest(r)
	if !ok {
		h.writeJSON(w, http.StatusOK, StatusResponse{Authenticated: false})
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{
		Authenticated: true,
		UserID:        record.UserID,
		Email:         record.Email,
		Name:          record.Name,
		Provider:      record.Provider,
		IsAdmin:       record.IsAdmin,
		IsEditor:      record.IsEditor,
		ExpiresAt:     record.ExpiresAt,
	})
}

// handleAuthorize serves the local authorization-code grant. Unauthenticated
// browsers are bounced to the login page and resume afterwards.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := server.AuthorizeRequest{
		ResponseType:        query.Get("response_type"),
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		Scope:               query.Get("scope"),
		State:               query.Get("state"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
		Resource:            query.Get("resource"),
		OriginalURI:         r.URL.RequestURI(),
	}

	sess, _ := h.sessionFromRequest(r)
	result, err := h.local.Authorize(r.Context(), req, sess)
	if err != nil {
		h.writeGrantError(w, err)
		return
	}

	if result.CustomScheme {
		h.serveInterstitial(w, result.RedirectURL)
		return
	}
	security.SetSecurityHeaders(w, h.baseURL)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// handleToken redeems an authorization code for a bearer token. Confidential
// clients may authenticate with either a Basic header or form credentials.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	if !h.allow(clientIP) {
		h.writeRateLimited(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "malformed form body", http.StatusBadRequest)
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		clientID = basicID
		clientSecret = basicSecret
	}

	result, err := h.local.Token(r.Context(), server.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		IPAddress:    clientIP,
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.writeGrantError(w, err)
		return
	}

	// writeJSON applies the no-store cache headers RFC 6749 requires for
	// token responses.
	h.writeJSON(w, http.StatusOK, result)
}

type sessionContextKey struct{}

// SessionFromContext returns the session record attached by RequireSession.
func SessionFromContext(ctx context.Context) (*session.Record, bool) {
	record, ok := ctx.Value(sessionContextKey{}).(*session.Record)
	return record, ok
}

// RequireSession guards application routes: requests without a live session
// get a 401 JSON body, authenticated ones proceed with the session record
// attached to the request context.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(h.cookie.Name)
		if err != nil || cookie.Value == "" {
			h.writeError(w, ErrorCodeAuthenticationFailed, "not authenticated", http.StatusUnauthorized)
			return
		}
		record, err := h.orchestrator.GetSession(cookie.Value, h.clientIP(r), r.UserAgent())
		if err != nil {
			code, description, status := sessionError(err)
			h.writeError(w, code, description, status)
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, record)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionFromRequest resolves the session cookie against the store.
func (h *Handler) sessionFromRequest(r *http.Request) (*session.Record, bool) {
	cookie, err := r.Cookie(h.cookie.Name)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	record, err := h.orchestrator.GetSession(cookie.Value, h.clientIP(r), r.UserAgent())
	if err != nil {
		return nil, false
	}
	return record, true
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Domain:   h.cookie.Domain,
		Path:     h.cookie.Path,
		MaxAge:   int(h.sessionTimeout.Seconds()),
		Secure:   !h.cookie.Insecure,
		HttpOnly: !h.cookie.ScriptReadable,
		SameSite: h.cookie.SameSite,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Domain:   h.cookie.Domain,
		Path:     h.cookie.Path,
		MaxAge:   -1,
		Secure:   !h.cookie.Insecure,
		HttpOnly: !h.cookie.ScriptReadable,
		SameSite: h.cookie.SameSite,
	})
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.trustProxy, h.trustedProxyCount)
}

func (h *Handler) allow(clientIP string) bool {
	return h.limiter == nil || h.limiter.Allow(clientIP)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.baseURL)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	h.writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

func (h *Handler) writeRateLimited(w http.ResponseWriter, r *http.Request) {
	if h.metrics != nil {
		h.metrics.RecordRateLimitExceeded(r.Context(), "ip")
	}
	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "too many requests", http.StatusTooManyRequests)
}

// writeGrantError renders an authorize or token failure. OAuthErrors carry
// their own status and RFC 6749 code; anything else is a server_error.
func (h *Handler) writeGrantError(w http.ResponseWriter, err error) {
	var oauthErr *server.OAuthError
	if errors.As(err, &oauthErr) {
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}
	h.logger.Error("Grant endpoint failed", "error", err)
	h.writeError(w, server.ErrorCodeServerError, "internal error", http.StatusInternalServerError)
}

// schemeAppNames maps well-known custom URL schemes to display names for
// the interstitial page.
var schemeAppNames = map[string]string{
	"cursor":   "Cursor",
	"vscode":   "Visual Studio Code",
	"code":     "Visual Studio Code",
	"codium":   "VSCodium",
	"zed":      "Zed",
	"windsurf": "Windsurf",
	"obsidian": "Obsidian",
	"slack":    "Slack",
}

// appNameFromScheme derives a display name from a custom-scheme redirect.
func appNameFromScheme(redirectURL string) string {
	u, err := url.Parse(redirectURL)
	if err != nil || u.Scheme == "" {
		return "your application"
	}
	if name, ok := schemeAppNames[strings.ToLower(u.Scheme)]; ok {
		return name
	}
	return u.Scheme
}

// interstitialTemplate is served instead of a 302 when the redirect target
// uses a custom URL scheme. Browsers may silently drop such redirects, so
// the page confirms success, attempts the redirect from script, and leaves
// a manual link as fallback (RFC 8252 section 7.1).
var interstitialTemplate = template.Must(template.New("interstitial").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Sign-in Complete</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
       display: flex; align-items: center; justify-content: center; min-height: 100vh;
       margin: 0; background: #f5f5f7; color: #1d1d1f; }
.card { background: #fff; border-radius: 12px; padding: 2.5rem 3rem; text-align: center;
        box-shadow: 0 4px 24px rgba(0,0,0,.08); max-width: 24rem; }
.card a { display: inline-block; margin-top: 1.25rem; padding: .6rem 1.4rem;
          background: #0071e3; color: #fff; border-radius: 8px; text-decoration: none; }
p.hint { color: #6e6e73; font-size: .85rem; margin-top: 1.5rem; }
</style>
</head>
<body>
<div class="card">
<h1>Sign-in complete</h1>
<p>Returning you to {{.AppName}}.</p>
<a id="continue" href="{{.RedirectURL}}">Open {{.AppName}}</a>
<p class="hint">You can close this window once the application has opened.</p>
</div>
<script>{{.Script}}</script>
</body>
</html>
`))

func (h *Handler) serveInterstitial(w http.ResponseWriter, redirectURL string) {
	// The redirect URI already passed scheme validation, and html/template
	// would otherwise reject custom schemes like vscode:// in href context.
	// The script is injected from the same constant its CSP hash covers.
	data := struct {
		RedirectURL template.URL
		AppName     string
		Script      template.JS
	}{
		RedirectURL: template.URL(redirectURL),
		AppName:     appNameFromScheme(redirectURL),
		Script:      template.JS(security.InterstitialScript),
	}

	security.SetInterstitialSecurityHeaders(w, h.baseURL)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := interstitialTemplate.Execute(w, data); err != nil {
		h.logger.Error("Failed to render interstitial", "error", err)
	}
}
