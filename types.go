package oauth

// TokenResponse represents a successful token endpoint response (RFC 6749 Section 5.1)
type TokenResponse struct {
	// AccessToken is the issued access token
	AccessToken string `json:"access_token"`

	// TokenType is the token type, always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`

	// RefreshToken is the issued refresh token, if one was granted
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space-separated scope set of the access token
	Scope string `json:"scope,omitempty"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorURI points to error documentation
	ErrorURI string `json:"error_uri,omitempty"`
}

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414)
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// RegistrationEndpoint is the URL of the dynamic client registration endpoint (RFC 7591)
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// RevocationEndpoint is the URL of the token revocation endpoint (RFC 7009)
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`

	// ScopesSupported lists the OAuth scopes supported
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the OAuth response types supported
	ResponseTypesSupported []string `json:"response_types_supported"`

	// GrantTypesSupported lists the OAuth grant types supported
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication methods supported at the token endpoint
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods supported
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// ClientRegistrationRequest represents a dynamic client registration request (RFC 7591)
type ClientRegistrationRequest struct {
	// RedirectURIs is the array of redirection URIs for use in redirect-based flows
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// TokenEndpointAuthMethod is the requested authentication method for the token endpoint
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// ClientName is the human-readable name of the client
	ClientName string `json:"client_name,omitempty"`

	// ClientType indicates if this is a "public" or "confidential" client
	ClientType string `json:"client_type,omitempty"`
}

// ClientRegistrationResponse represents a dynamic client registration response (RFC 7591)
type ClientRegistrationResponse struct {
	// ClientID is the issued client identifier
	ClientID string `json:"client_id"`

	// ClientSecret is the issued client secret, present only for confidential
	// clients and shown exactly once
	ClientSecret string `json:"client_secret,omitempty"`

	// ClientName echoes the registered client name
	ClientName string `json:"client_name,omitempty"`

	// ClientType is "public" or "confidential"
	ClientType string `json:"client_type"`

	// RedirectURIs echoes the registered redirect URIs
	RedirectURIs []string `json:"redirect_uris"`

	// TokenEndpointAuthMethod is the resolved token endpoint authentication method
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`

	// GrantTypes lists the grant types the client may use
	GrantTypes []string `json:"grant_types"`

	// ResponseTypes lists the response types the client may use
	ResponseTypes []string `json:"response_types"`

	// Scope is the space-separated scope set assigned by the server
	Scope string `json:"scope,omitempty"`
}
