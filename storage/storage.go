package storage

import (
	"context"
	"time"
)

// TokenKind discriminates access tokens from refresh tokens. Both share the
// same stored shape but have different expiry horizons and different allowed
// operations: access tokens are verified, refresh tokens are exchanged.
type TokenKind string

const (
	// TokenKindAccess marks a bearer access token
	TokenKindAccess TokenKind = "access"

	// TokenKindRefresh marks a refresh token
	TokenKindRefresh TokenKind = "refresh"
)

// Client represents a registered OAuth client. It is created on dynamic
// registration and immutable once stored.
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash, empty for public clients
	ClientType              string // "public" or "confidential"
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	ClientName              string
	Scopes                  []string
	CreatedAt               time.Time
}

// AuthorizationParams captures a single authorization request. Immutable once
// created; carried on the AuthorizationCode through confirmation and exchange.
type AuthorizationParams struct {
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string // "S256" (or "plain" when explicitly allowed)
	State               string
	Scopes              []string
	Resource            string // RFC 8707 resource indicator, optional
}

// ConfirmationData is produced exactly once by the login step when the
// authenticated principal approves the request. Never mutated afterwards.
type ConfirmationData struct {
	// IncludeRefreshToken controls whether the code exchange mints a refresh token
	IncludeRefreshToken bool

	// Scopes is the operator-approved scope subset
	Scopes []string

	// Extra carries opaque claims (e.g. subject identity) copied onto issued tokens
	Extra map[string]any
}

// AuthorizationCode represents an issued authorization code.
//
// Lifecycle: created unconfirmed by Authorize, transitions to confirmed
// exactly once by Confirm, and is consumed (deleted) exactly once by
// ExchangeCode. Confirmation is nil while the code is unconfirmed.
type AuthorizationCode struct {
	Code         string
	ClientID     string
	Params       AuthorizationParams
	Confirmation *ConfirmationData
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Confirmed reports whether the code has passed the login confirmation step.
func (c *AuthorizationCode) Confirmed() bool {
	return c.Confirmation != nil
}

// Token represents an issued access or refresh token.
type Token struct {
	Token     string
	ClientID  string
	Kind      TokenKind
	Scopes    []string
	Resource  string
	ExpiresAt time.Time
	IssuedAt  time.Time

	// Extra carries the confirmation claims the token was minted with
	Extra map[string]any
}

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)

	// CheckIPLimit checks if an IP has reached the client registration limit
	CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error
}

// CodeStore defines the interface for managing authorization codes.
// All methods must be safe under concurrent invocation; operations on the
// same code key must be serialized by the implementation.
type CodeStore interface {
	// SaveCode saves a freshly issued, unconfirmed authorization code
	SaveCode(ctx context.Context, code *AuthorizationCode) error

	// GetCode retrieves an authorization code without modifying it.
	// Returns ErrCodeNotFound for unknown codes and ErrTokenExpired for
	// codes past their expiry window.
	GetCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConfirmCode marks a code as confirmed with the approved scopes and
	// claims. This is a one-shot transition: confirming an already-confirmed
	// code fails with ErrCodeAlreadyConfirmed.
	ConfirmCode(ctx context.Context, code string, confirmation *ConfirmationData) error

	// ConsumeCode atomically retrieves and deletes a confirmed code.
	// Under concurrent exchange of the same code exactly one caller receives
	// the code; all others receive ErrCodeNotFound. An unconfirmed code is
	// left in place and ErrCodeNotConfirmed is returned.
	//
	// SECURITY: This operation MUST be atomic per key - it is the enforcement
	// point for the single-use invariant on authorization codes.
	ConsumeCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteCode removes an authorization code
	DeleteCode(ctx context.Context, code string) error
}

// TokenStore defines the interface for storing and retrieving issued tokens.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveToken saves an issued token keyed by its opaque identifier
	SaveToken(ctx context.Context, token *Token) error

	// GetToken retrieves a token by its identifier.
	// Returns ErrTokenNotFound for unknown tokens and ErrTokenExpired for
	// expired ones.
	GetToken(ctx context.Context, tokenID string) (*Token, error)

	// ConsumeToken atomically retrieves and deletes a token. Used for
	// refresh token rotation: under concurrent refresh of the same token
	// exactly one caller succeeds, all others receive ErrTokenNotFound.
	//
	// SECURITY: This operation MUST be atomic per key to prevent concurrent
	// refresh token replay.
	ConsumeToken(ctx context.Context, tokenID string) (*Token, error)

	// DeleteToken removes a token. Deleting an unknown token is not an error.
	DeleteToken(ctx context.Context, tokenID string) error
}

// Store combines the three storage ports. The in-memory reference
// implementation satisfies all of them with a single type.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
}
