package server

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/plugin-oauth/storage"
)

// TokenSet is the result of a successful code or refresh exchange. The HTTP
// layer serializes it into the wire-format token response.
type TokenSet struct {
	AccessToken  *storage.Token
	RefreshToken *storage.Token // nil when no refresh token was granted
	ExpiresIn    int64          // access token lifetime in seconds
}

// Scopes returns the scope set of the access token
func (t *TokenSet) Scopes() []string {
	if t.AccessToken == nil {
		return nil
	}
	return t.AccessToken.Scopes
}

// issueTokens mints a fresh access token and, when includeRefresh is set, a
// refresh token, persisting both. The issuer is stateless: identifiers come
// from generateRandomToken and expiry is computed from the configured TTLs.
//
// Persistence failures abort the issuance; a partially persisted pair is
// cleaned up best-effort.
func (s *Server) issueTokens(ctx context.Context, clientID string, scopes []string, resource string, extra map[string]any, includeRefresh bool) (*TokenSet, error) {
	now := time.Now()

	access := &storage.Token{
		Token:     generateRandomToken(),
		ClientID:  clientID,
		Kind:      storage.TokenKindAccess,
		Scopes:    scopes,
		Resource:  resource,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
		IssuedAt:  now,
		Extra:     extra,
	}

	if err := s.tokenStore.SaveToken(ctx, access); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}

	set := &TokenSet{
		AccessToken: access,
		ExpiresIn:   s.Config.AccessTokenTTL,
	}

	if includeRefresh {
		refresh := &storage.Token{
			Token:     generateRandomToken(),
			ClientID:  clientID,
			Kind:      storage.TokenKindRefresh,
			Scopes:    scopes,
			Resource:  resource,
			ExpiresAt: now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
			IssuedAt:  now,
			Extra:     extra,
		}

		if err := s.tokenStore.SaveToken(ctx, refresh); err != nil {
			// Don't leave a dangling access token behind
			if delErr := s.tokenStore.DeleteToken(ctx, access.Token); delErr != nil {
				s.Logger.Warn("Failed to clean up access token after refresh token save failure",
					"error", delErr)
			}
			return nil, fmt.Errorf("failed to save refresh token: %w", err)
		}

		set.RefreshToken = refresh
	}

	return set, nil
}
