package security

// Event type constants for security audit logging. These constants ensure
// consistency across the codebase and prevent typos when logging
// security-relevant events.
const (
	// Authorization code lifecycle events

	// EventCodeIssued is logged when an unconfirmed authorization code is created
	EventCodeIssued = "authorization_code_issued"

	// EventCodeConfirmed is logged when the login step confirms a code
	EventCodeConfirmed = "authorization_code_confirmed"

	// EventCodeExchanged is logged when a confirmed code is exchanged for tokens
	EventCodeExchanged = "authorization_code_exchanged"

	// EventCodeReplayed is logged when exchange of an already-consumed code is attempted
	EventCodeReplayed = "authorization_code_replayed"

	// Token lifecycle events

	// EventTokenIssued is logged when a new access token is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed using a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked by the client
	EventTokenRevoked = "token_revoked"

	// Client registration events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientRegistrationRejected is logged when registration is rejected for security reasons
	EventClientRegistrationRejected = "client_registration_rejected"

	// Security violation events

	// EventAuthFailure is logged when authentication or verification fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventPKCEValidationFailed is logged when PKCE code_verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventScopeViolation is logged when a request exceeds the permitted scope set
	EventScopeViolation = "scope_violation"

	// EventResourceMismatch is logged when the resource parameter is rejected (RFC 8707)
	EventResourceMismatch = "resource_mismatch"

	// EventInvalidRedirect is logged when an invalid redirect URI is used
	EventInvalidRedirect = "invalid_redirect"
)
