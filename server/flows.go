package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/giantswarm/plugin-oauth/internal/util"
	"github.com/giantswarm/plugin-oauth/security"
	"github.com/giantswarm/plugin-oauth/storage"
)

// AuthInfo is the result of a successful access token verification. The
// bearer middleware attaches it to the request context for downstream
// handlers.
type AuthInfo struct {
	Token     string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	Resource  string
	Extra     map[string]any
}

// Authorize starts an authorization flow for a registered client.
//
// It validates the redirect URI and PKCE parameters, defaults the requested
// scopes to the client's registered scopes when the caller specifies none,
// persists an unconfirmed authorization code, and returns the login page URL
// with the pending code attached. Scope containment is NOT checked here; that
// is the confirmation step's job, after the principal has authenticated.
func (s *Server) Authorize(ctx context.Context, clientID string, params storage.AuthorizationParams) (string, error) {
	ctx, span := s.startFlowSpan(ctx, "authorize")
	defer span.End()

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.auditAuthFailure("", clientID, ErrorCodeInvalidClient)
			return "", ErrInvalidClient("unknown client")
		}
		return "", ErrServerError("failed to look up client")
	}

	if err := s.validateRedirectURI(client, params.RedirectURI); err != nil {
		s.auditAuthFailure("", clientID, ErrorCodeInvalidRedirectURI)
		return "", ErrInvalidRequest(err.Error())
	}

	if err := s.validatePKCEParams(params.CodeChallenge, params.CodeChallengeMethod); err != nil {
		s.auditAuthFailure("", clientID, "invalid_pkce_parameters")
		return "", ErrInvalidRequest(err.Error())
	}

	// Default the requested scopes from the client's registered scopes. An
	// unscoped client therefore yields an unscoped request, which the
	// confirmation step will reject for any non-empty grant.
	if len(params.Scopes) == 0 {
		params.Scopes = client.Scopes
	}

	code := &storage.AuthorizationCode{
		Code:      generateRandomToken(),
		ClientID:  client.ClientID,
		Params:    params,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}

	if err := s.codeStore.SaveCode(ctx, code); err != nil {
		return "", ErrServerError("failed to save authorization code")
	}

	if s.Auditor != nil {
		s.Auditor.LogCodeIssued(client.ClientID, util.JoinScopes(params.Scopes))
	}
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationStarted(ctx, client.ClientID)
	}

	s.Logger.Debug("Issued authorization code",
		"client_id", client.ClientID,
		"code_prefix", safeTruncate(code.Code, tokenIDLogLength),
		"scope", util.JoinScopes(params.Scopes))

	return buildRedirect(s.Config.Issuer+s.Config.LoginPath, url.Values{"code": {code.Code}})
}

// Confirm marks a pending authorization code as confirmed by the login
// collaborator. allowedScopes is what the authenticated principal is
// permitted to grant.
//
// This is a one-shot transition: confirming an already-confirmed code fails
// with invalid_request. On scope violation nothing is mutated.
//
// Returns the redirect back to the client's registered redirect URI with the
// code and the original state echoed.
func (s *Server) Confirm(ctx context.Context, code string, allowedScopes []string, confirmation *storage.ConfirmationData) (string, error) {
	ctx, span := s.startFlowSpan(ctx, "confirm")
	defer span.End()

	if confirmation == nil {
		return "", ErrInvalidRequest("confirmation data is required")
	}

	authCode, err := s.codeStore.GetCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			s.auditAuthFailure("", "", "unknown_or_expired_code")
			return "", ErrInvalidRequest("authorization code is invalid or expired")
		}
		return "", ErrServerError("failed to look up authorization code")
	}

	if authCode.Confirmed() {
		return "", ErrInvalidRequest("authorization code already confirmed")
	}

	client, err := s.clientStore.GetClient(ctx, authCode.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return "", ErrInvalidRequest("client no longer registered")
		}
		return "", ErrServerError("failed to look up client")
	}

	// Scope containment, checked against both the principal's grant and the
	// client's registered scope set. A client registered with no scopes can
	// never pass a non-empty request.
	if !util.ContainsAll(allowedScopes, authCode.Params.Scopes) ||
		!util.ContainsAll(client.Scopes, authCode.Params.Scopes) {
		s.auditScopeViolation(client.ClientID, authCode.Params.Scopes, allowedScopes)
		return "", ErrInsufficientScope("requested scopes exceed the permitted scope set")
	}

	// Normalize the approved subset; an empty set means "everything requested"
	if len(confirmation.Scopes) == 0 {
		confirmation.Scopes = authCode.Params.Scopes
	} else if !util.ContainsAll(authCode.Params.Scopes, confirmation.Scopes) {
		s.auditScopeViolation(client.ClientID, confirmation.Scopes, authCode.Params.Scopes)
		return "", ErrInsufficientScope("approved scopes exceed the requested scope set")
	}

	if err := s.codeStore.ConfirmCode(ctx, code, confirmation); err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeAlreadyConfirmed):
			return "", ErrInvalidRequest("authorization code already confirmed")
		case errors.Is(err, storage.ErrCodeNotFound), errors.Is(err, storage.ErrTokenExpired):
			return "", ErrInvalidRequest("authorization code is invalid or expired")
		default:
			return "", ErrServerError("failed to confirm authorization code")
		}
	}

	if s.Auditor != nil {
		subject, _ := confirmation.Extra["sub"].(string)
		s.Auditor.LogCodeConfirmed(subject, client.ClientID,
			util.JoinScopes(confirmation.Scopes), confirmation.IncludeRefreshToken)
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeConfirmed(ctx, client.ClientID)
	}

	query := url.Values{"code": {code}}
	if authCode.Params.State != "" {
		query.Set("state", authCode.Params.State)
	}
	return buildRedirect(authCode.Params.RedirectURI, query)
}

// ChallengeForCode returns the PKCE challenge bound to a pending code. The
// token endpoint uses it to verify the presented code_verifier before the
// exchange.
func (s *Server) ChallengeForCode(ctx context.Context, clientID, code string) (challenge, method string, err error) {
	authCode, err := s.codeStore.GetCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			return "", "", ErrInvalidGrant("authorization code is invalid or expired")
		}
		return "", "", ErrServerError("failed to look up authorization code")
	}

	if authCode.ClientID != clientID {
		return "", "", ErrUnauthorizedClient("authorization code was issued to a different client")
	}

	return authCode.Params.CodeChallenge, authCode.Params.CodeChallengeMethod, nil
}

// ExchangeCode exchanges a confirmed authorization code for tokens.
//
// Validation order: code exists, owning client matches, code is confirmed,
// resource indicator accepted. The single-use guarantee rests on the storage
// port's atomic consume: under concurrent exchange of the same code exactly
// one caller is issued tokens and every other caller fails invalid_grant.
func (s *Server) ExchangeCode(ctx context.Context, clientID, code string) (*TokenSet, error) {
	ctx, span := s.startFlowSpan(ctx, "exchange_code")
	defer span.End()

	authCode, err := s.codeStore.GetCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			s.auditAuthFailure("", clientID, "code_not_found")
			return nil, ErrInvalidGrant("authorization code is invalid or expired")
		}
		return nil, ErrServerError("failed to look up authorization code")
	}

	if authCode.ClientID != clientID {
		s.auditAuthFailure("", clientID, "code_client_mismatch")
		return nil, ErrUnauthorizedClient("authorization code was issued to a different client")
	}

	if !authCode.Confirmed() {
		s.auditAuthFailure("", clientID, "code_not_confirmed")
		return nil, ErrInvalidGrant("authorization code not confirmed")
	}

	if err := s.validateResource(authCode.Params.Resource); err != nil {
		s.auditResourceMismatch(clientID, authCode.Params.Resource)
		return nil, ErrAccessDenied("resource indicator rejected")
	}

	// Atomic consume is the single-use enforcement point: the loser of a
	// concurrent exchange sees not-found here.
	consumed, err := s.codeStore.ConsumeCode(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeNotConfirmed):
			return nil, ErrInvalidGrant("authorization code not confirmed")
		case errors.Is(err, storage.ErrCodeNotFound), errors.Is(err, storage.ErrTokenExpired):
			s.auditCodeReplay(ctx, clientID, code)
			return nil, ErrInvalidGrant("authorization code is invalid or expired")
		default:
			return nil, ErrServerError("failed to consume authorization code")
		}
	}

	// Tokens carry the operator-approved subset, which the confirmation step
	// normalized to the requested scopes when no narrowing was applied
	scopes := consumed.Confirmation.Scopes
	if len(scopes) == 0 {
		scopes = consumed.Params.Scopes
	}

	set, err := s.issueTokens(ctx, clientID,
		scopes,
		consumed.Params.Resource,
		consumed.Confirmation.Extra,
		consumed.Confirmation.IncludeRefreshToken)
	if err != nil {
		return nil, ErrServerError("failed to issue tokens")
	}

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventCodeExchanged,
			ClientID: clientID,
			Details: map[string]any{
				"scope":                util.JoinScopes(set.Scopes()),
				"refresh_token_issued": set.RefreshToken != nil,
			},
		})
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, clientID, consumed.Params.CodeChallengeMethod)
	}

	s.Logger.Info("Exchanged authorization code for tokens",
		"client_id", clientID,
		"scope", util.JoinScopes(set.Scopes()),
		"refresh_token_issued", set.RefreshToken != nil)

	return set, nil
}

// ExchangeRefreshToken exchanges a refresh token for a fresh token pair.
//
// Rotation is unconditional: the presented refresh token is atomically
// invalidated and a new refresh token is always issued. A narrower scope set
// may be requested; it must be contained in the token's original scopes.
func (s *Server) ExchangeRefreshToken(ctx context.Context, clientID, refreshToken string, requestedScopes []string, resource string) (*TokenSet, error) {
	ctx, span := s.startFlowSpan(ctx, "exchange_refresh_token")
	defer span.End()

	token, err := s.tokenStore.GetToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			s.auditAuthFailure("", clientID, "refresh_token_invalid")
			return nil, ErrInvalidGrant("refresh token is invalid or expired")
		}
		return nil, ErrServerError("failed to look up refresh token")
	}

	if token.Kind != storage.TokenKindRefresh {
		s.auditAuthFailure("", clientID, "token_kind_mismatch")
		return nil, ErrInvalidGrant("presented token is not a refresh token")
	}

	if token.ClientID != clientID {
		s.auditAuthFailure("", clientID, "refresh_token_client_mismatch")
		return nil, ErrUnauthorizedClient("refresh token was issued to a different client")
	}

	if resource == "" {
		resource = token.Resource
	}
	if err := s.validateResource(resource); err != nil {
		s.auditResourceMismatch(clientID, resource)
		return nil, ErrAccessDenied("resource indicator rejected")
	}

	// Narrowing is allowed, widening is not
	if len(requestedScopes) == 0 {
		requestedScopes = token.Scopes
	} else if !util.ContainsAll(token.Scopes, requestedScopes) {
		s.auditScopeViolation(clientID, requestedScopes, token.Scopes)
		return nil, ErrInvalidScope("requested scopes exceed the refresh token's scope set")
	}

	// Atomic consume rotates the token: a concurrently replayed refresh
	// token loses the race and fails here.
	if _, err := s.tokenStore.ConsumeToken(ctx, refreshToken); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			s.auditTokenReplay(ctx, clientID, refreshToken)
			return nil, ErrInvalidGrant("refresh token is invalid or expired")
		}
		return nil, ErrServerError("failed to rotate refresh token")
	}

	set, err := s.issueTokens(ctx, clientID, requestedScopes, resource, token.Extra, true)
	if err != nil {
		return nil, ErrServerError("failed to issue tokens")
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(clientID, "", util.JoinScopes(requestedScopes))
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, clientID)
	}

	s.Logger.Info("Rotated refresh token",
		"client_id", clientID,
		"scope", util.JoinScopes(requestedScopes))

	return set, nil
}

// VerifyAccessToken validates a bearer access token and returns its
// authorization info. Expired tokens are deleted lazily on read.
func (s *Server) VerifyAccessToken(ctx context.Context, accessToken string) (*AuthInfo, error) {
	ctx, span := s.startFlowSpan(ctx, "verify_access_token")
	defer span.End()

	if accessToken == "" {
		return nil, ErrInvalidToken("missing access token")
	}

	token, err := s.tokenStore.GetToken(ctx, accessToken)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenExpired):
			// Lazy cleanup; expiry already rejected the read
			if delErr := s.tokenStore.DeleteToken(ctx, accessToken); delErr != nil {
				s.Logger.Warn("Failed to delete expired access token", "error", delErr)
			}
			s.auditAuthFailure("", "", "token_expired")
			return nil, ErrInvalidToken("access token expired")
		case errors.Is(err, storage.ErrTokenNotFound):
			s.auditAuthFailure("", "", "token_not_found")
			return nil, ErrInvalidToken("access token is invalid")
		default:
			return nil, ErrServerError("failed to look up access token")
		}
	}

	if token.Kind != storage.TokenKindAccess {
		s.auditAuthFailure("", token.ClientID, "token_kind_mismatch")
		return nil, ErrInvalidToken("presented token is not an access token")
	}

	return &AuthInfo{
		Token:     token.Token,
		ClientID:  token.ClientID,
		Scopes:    token.Scopes,
		ExpiresAt: token.ExpiresAt,
		Resource:  token.Resource,
		Extra:     token.Extra,
	}, nil
}

// RevokeToken revokes a token per RFC 7009: revoking an unknown or already
// expired token succeeds silently.
func (s *Server) RevokeToken(ctx context.Context, clientID, tokenID string) error {
	ctx, span := s.startFlowSpan(ctx, "revoke_token")
	defer span.End()

	token, err := s.tokenStore.GetToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			// Idempotent no-op
			return nil
		}
		return ErrServerError("failed to look up token")
	}

	// A client can only revoke its own tokens; pretending success for foreign
	// tokens avoids leaking their existence
	if token.ClientID != clientID {
		s.auditAuthFailure("", clientID, "revoke_client_mismatch")
		return nil
	}

	if err := s.tokenStore.DeleteToken(ctx, tokenID); err != nil {
		return ErrServerError("failed to delete token")
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRevoked(clientID, "", string(token.Kind))
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenRevocation(ctx, clientID)
	}

	s.Logger.Info("Revoked token",
		"client_id", clientID,
		"token_kind", string(token.Kind),
		"token_prefix", safeTruncate(tokenID, tokenIDLogLength))

	return nil
}

// validateResource consults the configured resource validator (RFC 8707)
func (s *Server) validateResource(resource string) error {
	if resource == "" || s.Config.ResourceValidator == nil {
		return nil
	}
	return s.Config.ResourceValidator(util.NormalizeURL(resource))
}

// auditAuthFailure logs an authentication failure when an auditor is set
func (s *Server) auditAuthFailure(subject, clientID, reason string) {
	if s.Auditor != nil {
		s.Auditor.LogAuthFailure(subject, clientID, "", reason)
	}
}

// auditScopeViolation logs a scope containment failure
func (s *Server) auditScopeViolation(clientID string, requested, permitted []string) {
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventScopeViolation,
			ClientID: clientID,
			Details: map[string]any{
				"requested_scope": util.JoinScopes(requested),
				"permitted_scope": util.JoinScopes(permitted),
			},
		})
	}
}

// auditResourceMismatch logs a rejected resource indicator
func (s *Server) auditResourceMismatch(clientID, resource string) {
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventResourceMismatch,
			ClientID: clientID,
			Details: map[string]any{
				"resource": resource,
			},
		})
	}
}

// auditCodeReplay logs an attempted exchange of an already-consumed code.
// Logging is rate limited to keep a replaying attacker from flooding the log
// stream.
func (s *Server) auditCodeReplay(ctx context.Context, clientID, code string) {
	if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(clientID) {
		s.Logger.Warn("Authorization code replay attempt",
			"client_id", clientID,
			"code_prefix", safeTruncate(code, tokenIDLogLength))
	}

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventCodeReplayed,
			ClientID: clientID,
		})
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeReuseDetected(ctx)
	}
}

// auditTokenReplay logs an attempted reuse of a rotated refresh token
func (s *Server) auditTokenReplay(ctx context.Context, clientID, tokenID string) {
	if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(clientID) {
		s.Logger.Warn("Refresh token replay attempt",
			"client_id", clientID,
			"token_prefix", safeTruncate(tokenID, tokenIDLogLength))
	}

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventTokenRevoked,
			ClientID: clientID,
			Details: map[string]any{
				"reason": "refresh_token_reuse",
			},
		})
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenReuseDetected(ctx)
	}
}

// buildRedirect appends query parameters to a base URL
func buildRedirect(base string, params url.Values) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", ErrServerError(fmt.Sprintf("invalid redirect target: %v", err))
	}

	query := parsed.Query()
	for key, values := range params {
		for _, value := range values {
			query.Set(key, value)
		}
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
