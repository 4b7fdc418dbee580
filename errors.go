package oauth

import (
	"net/http"

	"github.com/giantswarm/plugin-oauth/server"
)

// OAuthError represents an OAuth 2.0 error response. It is an alias for the
// server package's error type so callers can classify failures returned by
// the HTTP layer without importing server directly.
type OAuthError = server.OAuthError

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest     = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant       = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient      = server.ErrorCodeInvalidClient
	ErrorCodeInvalidScope       = server.ErrorCodeInvalidScope
	ErrorCodeInvalidToken       = server.ErrorCodeInvalidToken
	ErrorCodeUnauthorizedClient = server.ErrorCodeUnauthorizedClient
	ErrorCodeServerError        = server.ErrorCodeServerError
	ErrorCodeAccessDenied       = server.ErrorCodeAccessDenied
	ErrorCodeInsufficientScope  = server.ErrorCodeInsufficientScope
	ErrorCodeInvalidRedirectURI = server.ErrorCodeInvalidRedirectURI

	// HTTP layer error codes (never produced by the protocol core)
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
)

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return server.NewOAuthError(code, description, status)
}

// Common OAuth errors as reusable constructors
var (
	ErrInvalidRequest     = server.ErrInvalidRequest
	ErrInvalidGrant       = server.ErrInvalidGrant
	ErrInvalidClient      = server.ErrInvalidClient
	ErrInvalidScope       = server.ErrInvalidScope
	ErrInvalidToken       = server.ErrInvalidToken
	ErrUnauthorizedClient = server.ErrUnauthorizedClient
	ErrServerError        = server.ErrServerError
	ErrAccessDenied       = server.ErrAccessDenied
	ErrInsufficientScope  = server.ErrInsufficientScope
	ErrInvalidRedirectURI = server.ErrInvalidRedirectURI

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}
)
