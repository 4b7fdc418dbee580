// Package oauth provides an embeddable OAuth 2.1 authorization server with
// the authorization code grant, mandatory PKCE (S256), refresh token
// rotation, and scope-gated resource access.
//
// The package is organized in layers. The server package implements the
// protocol core against pluggable storage ports, storage/memory provides the
// in-memory backend, and this root package is the HTTP adapter: endpoint
// handlers for authorization, token, revocation, registration, and metadata,
// plus the RequireScopes middleware for protecting resource handlers.
package oauth
