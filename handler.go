package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/plugin-oauth/instrumentation"
	"github.com/giantswarm/plugin-oauth/internal/util"
	"github.com/giantswarm/plugin-oauth/security"
	"github.com/giantswarm/plugin-oauth/server"
	"github.com/giantswarm/plugin-oauth/storage"
)

const tokenTypeBearer = "Bearer"

// AuthInfo describes the authorization attached to a verified bearer token
type AuthInfo = server.AuthInfo

// authInfoContextKey is the context key type for AuthInfo
type authInfoContextKey struct{}

// ContextWithAuthInfo returns a context carrying the given AuthInfo
func ContextWithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoContextKey{}, info)
}

// AuthInfoFromContext extracts the AuthInfo attached by the bearer middleware.
// Returns nil when the request did not pass through RequireScopes.
func AuthInfoFromContext(ctx context.Context) *AuthInfo {
	info, _ := ctx.Value(authInfoContextKey{}).(*AuthInfo)
	return info
}

// Handler is a thin HTTP adapter for the OAuth server.
// It parses requests, authenticates clients, and delegates to the server
// for protocol logic.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if inst := srv.Instrumentation(); inst != nil {
		h.tracer = inst.Tracer("http")
	}

	return h
}

// RegisterRoutes registers the OAuth endpoints on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(server.PathAuthorization, h.ServeAuthorization)
	mux.HandleFunc(server.PathToken, h.ServeToken)
	mux.HandleFunc(server.PathRevocation, h.ServeTokenRevocation)
	mux.HandleFunc(server.PathRegistration, h.ServeClientRegistration)
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
}

// RequireScopes is middleware that validates a bearer access token and
// requires the given scopes. On success the request context carries the
// token's AuthInfo, retrievable with AuthInfoFromContext.
func (h *Handler) RequireScopes(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

			if h.checkIPRateLimit(w, r, clientIP) {
				return
			}

			accessToken, ok := h.extractBearerToken(w, r)
			if !ok {
				return
			}

			info, err := h.server.VerifyAccessToken(r.Context(), accessToken)
			if err != nil {
				h.logger.Warn("Token verification failed", "ip", clientIP, "error", err)
				h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Access token is invalid or expired")
				return
			}

			if !util.ContainsAll(info.Scopes, required) {
				h.logger.Warn("Insufficient scope",
					"client_id", info.ClientID,
					"required_scope", util.JoinScopes(required),
					"granted_scope", util.JoinScopes(info.Scopes))
				h.writeInsufficientScopeError(w, required, "Token is missing a required scope")
				return
			}

			ctx := ContextWithAuthInfo(r.Context(), info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ServeAuthorization handles the OAuth authorization endpoint
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorization")
		defer span.End()
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	query := r.URL.Query()
	clientID := query.Get("client_id")
	if clientID == "" {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "client_id missing")
		h.writeError(w, ErrorCodeInvalidRequest, "client_id is required", http.StatusBadRequest)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrPKCEMethod, query.Get("code_challenge_method")),
	)

	params := storageParamsFromQuery(query)
	loginURL, err := h.server.Authorize(ctx, clientID, params)
	if err != nil {
		h.logger.Warn("Authorization request rejected", "client_id", clientID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "authorization", r.Method, errorStatus(err), startTime)
		return
	}

	h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	http.Redirect(w, r, loginURL, http.StatusFound)
}

// ServeToken handles the OAuth token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	switch grantType := r.FormValue("grant_type"); grantType {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		h.handleRefreshTokenGrant(w, r)
	default:
		h.writeError(w, ErrorCodeUnsupportedGrantType,
			fmt.Sprintf("Grant type %q not supported", grantType), http.StatusBadRequest)
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_exchange")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	code := r.FormValue("code")
	if code == "" {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "code missing")
		h.writeError(w, ErrorCodeInvalidRequest, "Required parameter 'code' missing", http.StatusBadRequest)
		return
	}

	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusUnauthorized, startTime)
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
	)

	// PKCE verification happens before the code is consumed so a failed
	// verifier does not burn the code
	challenge, method, err := h.server.ChallengeForCode(ctx, client.ClientID, code)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, errorStatus(err), startTime)
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		return
	}

	if err := h.server.ValidatePKCE(challenge, method, r.FormValue("code_verifier")); err != nil {
		h.logger.Warn("PKCE verification failed", "client_id", client.ClientID, "ip", clientIP, "error", err)
		h.recordPKCEFailure(ctx, client.ClientID, method, clientIP)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "pkce verification failed")
		h.writeError(w, ErrorCodeInvalidGrant, "PKCE verification failed", http.StatusBadRequest)
		return
	}

	set, err := h.server.ExchangeCode(ctx, client.ClientID, code)
	if err != nil {
		h.logger.Warn("Code exchange failed", "client_id", client.ClientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, errorStatus(err), startTime)
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		return
	}

	h.logger.Info("Token exchange successful", "client_id", client.ClientID, "ip", clientIP)
	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, set)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_refresh")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	refreshToken := r.FormValue("refresh_token")
	if refreshToken == "" {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "refresh_token missing")
		h.writeError(w, ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
		return
	}

	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusUnauthorized, startTime)
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
	)

	requestedScopes := util.ScopeSet(r.FormValue("scope"))
	resource := r.FormValue("resource")

	set, err := h.server.ExchangeRefreshToken(ctx, client.ClientID, refreshToken, requestedScopes, resource)
	if err != nil {
		h.logger.Warn("Token refresh failed", "client_id", client.ClientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, errorStatus(err), startTime)
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		return
	}

	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, set)
}

// ServeTokenRevocation handles the RFC 7009 token revocation endpoint
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	token := r.FormValue("token")
	if token == "" {
		h.writeError(w, ErrorCodeInvalidRequest, "token is required", http.StatusBadRequest)
		return
	}

	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, http.StatusUnauthorized, startTime)
		h.writeOAuthError(w, err)
		return
	}

	// Per RFC 7009, revoking an unknown token is still a success
	if err := h.server.RevokeToken(ctx, client.ClientID, token); err != nil {
		h.logger.Error("Failed to revoke token", "client_id", client.ClientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, errorStatus(err), startTime)
		h.writeOAuthError(w, err)
		return
	}

	h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, http.StatusOK, startTime)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ServeClientRegistration handles dynamic client registration (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	if !h.authorizeClientRegistration(r, clientIP) {
		h.recordHTTPMetrics(ctx, "register", http.MethodPost, http.StatusUnauthorized, startTime)
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken,
			"Registration requires authentication. Provide a valid registration token.")
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics(ctx, "register", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Invalid JSON", http.StatusBadRequest)
		return
	}

	client, clientSecret, err := h.server.RegisterClient(ctx,
		req.ClientName, req.ClientType, req.TokenEndpointAuthMethod, req.RedirectURIs, clientIP)
	if err != nil {
		h.logger.Warn("Client registration failed", "ip", clientIP, "error", err)
		h.recordHTTPMetrics(ctx, "register", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	h.recordHTTPMetrics(ctx, "register", http.MethodPost, http.StatusCreated, startTime)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            clientSecret,
		ClientName:              client.ClientName,
		ClientType:              client.ClientType,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   util.JoinScopes(client.Scopes),
	})
}

// authorizeClientRegistration checks whether the registration request is
// allowed, either via open registration or the registration access token
func (h *Handler) authorizeClientRegistration(r *http.Request, clientIP string) bool {
	if h.server.Config.AllowPublicClientRegistration {
		h.logger.Warn("Unauthenticated client registration (DoS risk)", "client_ip", clientIP)
		return true
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || h.server.Config.RegistrationAccessToken == "" {
		return false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.server.Config.RegistrationAccessToken)) == 1
}

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	cfg := h.server.Config
	metadata := AuthorizationServerMetadata{
		Issuer:                            cfg.Issuer,
		AuthorizationEndpoint:             cfg.AuthorizationEndpoint(),
		TokenEndpoint:                     cfg.TokenEndpoint(),
		RevocationEndpoint:                cfg.RevocationEndpoint(),
		ScopesSupported:                   cfg.ScopesSupported,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{server.TokenEndpointAuthMethodNone, server.TokenEndpointAuthMethodBasic, server.TokenEndpointAuthMethodPost},
		CodeChallengeMethodsSupported:     []string{server.PKCEMethodS256},
	}

	if cfg.AllowPublicClientRegistration || cfg.RegistrationAccessToken != "" {
		metadata.RegistrationEndpoint = cfg.RegistrationEndpoint()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

// Helper methods

func (h *Handler) parseBasicAuth(r *http.Request) (username, password string) {
	username, password, _ = r.BasicAuth()
	return
}

// storageParamsFromQuery maps authorization request query parameters onto
// the stored authorization parameters
func storageParamsFromQuery(query url.Values) storage.AuthorizationParams {
	return storage.AuthorizationParams{
		RedirectURI:         query.Get("redirect_uri"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
		State:               query.Get("state"),
		Scopes:              util.ScopeSet(query.Get("scope")),
		Resource:            query.Get("resource"),
	}
}

// authenticateClient validates client credentials from either Basic Auth or
// form parameters. Public clients authenticate by identifier only; their
// proof of possession is the PKCE verifier.
func (h *Handler) authenticateClient(r *http.Request, clientIP string) (*storage.Client, error) {
	clientID := r.FormValue("client_id")
	authClientID, authClientSecret := h.parseBasicAuth(r)
	if authClientID != "" {
		clientID = authClientID
	}
	if authClientSecret == "" {
		authClientSecret = r.FormValue("client_secret")
	}

	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := h.server.GetClient(r.Context(), clientID)
	if err != nil {
		h.logAuthFailure(clientID, clientIP, "unknown_client", "Unknown client")
		return nil, ErrInvalidClient("Client authentication failed")
	}

	if client.ClientType != server.ClientTypeConfidential {
		return client, nil
	}

	if authClientSecret == "" {
		h.logAuthFailure(client.ClientID, clientIP, "confidential_client_auth_required", "Confidential client missing credentials")
		return nil, ErrInvalidClient("Client authentication required")
	}

	if err := h.server.ValidateClientCredentials(r.Context(), client.ClientID, authClientSecret); err != nil {
		h.logAuthFailure(client.ClientID, clientIP, "client_authentication_failed", "Client authentication failed")
		return nil, ErrInvalidClient("Client authentication failed")
	}

	return client, nil
}

// logAuthFailure logs authentication failures with optional auditing
func (h *Handler) logAuthFailure(clientID, clientIP, reason, message string) {
	h.logger.Warn(message, "client_id", clientID, "ip", clientIP)
	if h.server.Auditor != nil {
		h.server.Auditor.LogAuthFailure("", clientID, clientIP, reason)
	}
}

// writeTokenResponse serializes a token set into the RFC 6749 response format
func (h *Handler) writeTokenResponse(w http.ResponseWriter, set *server.TokenSet) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	response := TokenResponse{
		AccessToken: set.AccessToken.Token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   set.ExpiresIn,
		Scope:       util.JoinScopes(set.Scopes()),
	}
	if set.RefreshToken != nil {
		response.RefreshToken = set.RefreshToken.Token
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// writeOAuthError writes a typed OAuth error using its own status code,
// falling back to server_error for untyped failures
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	if oauthErr, ok := err.(*OAuthError); ok {
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}
	h.writeError(w, ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", formatWWWAuthenticate("", code, description))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeUnauthorizedError writes a 401 with a WWW-Authenticate challenge (RFC 6750)
func (h *Handler) writeUnauthorizedError(w http.ResponseWriter, code, description string) {
	h.writeError(w, code, description, http.StatusUnauthorized)
}

// writeInsufficientScopeError writes a 403 naming the required scopes in the
// WWW-Authenticate header per RFC 6750 Section 3.1
func (h *Handler) writeInsufficientScopeError(w http.ResponseWriter, requiredScopes []string, description string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	w.Header().Set("WWW-Authenticate",
		formatWWWAuthenticate(util.JoinScopes(requiredScopes), ErrorCodeInsufficientScope, description))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            ErrorCodeInsufficientScope,
		ErrorDescription: description,
	})
}

// formatWWWAuthenticate formats a Bearer challenge per RFC 6750 Section 3
func formatWWWAuthenticate(scope, errCode, errorDesc string) string {
	var params []string

	if scope != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, escapeQuoted(scope)))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, escapeQuoted(errCode)))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, escapeQuoted(errorDesc)))
	}

	if len(params) == 0 {
		return tokenTypeBearer
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

// escapeQuoted escapes a value for use inside an HTTP quoted-string.
// Backslashes first, then quotes; the order matters.
func escapeQuoted(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(escaped, `"`, `\"`)
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// Writes a 401 and returns false when the header is missing or malformed.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Missing Authorization header")
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Invalid Authorization header format")
		return "", false
	}

	return parts[1], true
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", r.URL.Path)

	if inst := h.server.Instrumentation(); inst != nil {
		inst.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP, "")
	}

	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// recordPKCEFailure records metrics and audit events for a failed PKCE check
func (h *Handler) recordPKCEFailure(ctx context.Context, clientID, method, clientIP string) {
	if inst := h.server.Instrumentation(); inst != nil {
		inst.Metrics().RecordPKCEValidationFailed(ctx, method)
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogEvent(security.Event{
			Type:      security.EventPKCEValidationFailed,
			ClientID:  clientID,
			IPAddress: clientIP,
		})
	}
}

// recordHTTPMetrics records request count and duration for an endpoint
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, statusCode int, startTime time.Time) {
	inst := h.server.Instrumentation()
	if inst == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Microseconds()) / 1000.0
	inst.Metrics().RecordHTTPRequest(ctx, method, endpoint, statusCode, durationMs)
}

// errorStatus maps an error to the HTTP status it will be served with
func errorStatus(err error) int {
	if oauthErr, ok := err.(*OAuthError); ok {
		return oauthErr.Status
	}
	return http.StatusInternalServerError
}
