package server

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/plugin-oauth/security"
	"github.com/giantswarm/plugin-oauth/storage"
)

// Client type constants
const (
	// ClientTypeConfidential represents a confidential OAuth client
	ClientTypeConfidential = "confidential"

	// ClientTypePublic represents a public OAuth client
	ClientTypePublic = "public"
)

// Token endpoint authentication method constants (RFC 7591)
const (
	// TokenEndpointAuthMethodNone represents no authentication (public clients)
	TokenEndpointAuthMethodNone = "none"

	// TokenEndpointAuthMethodBasic represents HTTP Basic authentication
	TokenEndpointAuthMethodBasic = "client_secret_basic"

	// TokenEndpointAuthMethodPost represents POST form parameters
	TokenEndpointAuthMethodPost = "client_secret_post"
)

// RegisterClient registers a new OAuth client with IP-based DoS protection.
//
// The client's scope is forced to the server's configured ScopesSupported;
// any scope the candidate requests is ignored. Self-registration must never
// widen what a client can ask for.
//
// tokenEndpointAuthMethod determines how the client authenticates at the
// token endpoint:
//   - "none": public client (no secret, PKCE-only) - native/CLI apps
//   - "client_secret_basic": confidential client (Basic Auth) - default
//   - "client_secret_post": confidential client (POST form)
//
// Returns the stored client and, for confidential clients, the plaintext
// secret (shown exactly once; only the bcrypt hash is persisted).
func (s *Server) RegisterClient(ctx context.Context, clientName, clientType, tokenEndpointAuthMethod string, redirectURIs []string, clientIP string) (*storage.Client, string, error) {
	if err := s.clientStore.CheckIPLimit(ctx, clientIP, s.Config.MaxClientsPerIP); err != nil {
		return nil, "", err
	}

	if err := s.validateRedirectURIsForRegistration(redirectURIs, clientIP); err != nil {
		return nil, "", err
	}

	clientID := generateRandomToken()
	clientType, tokenEndpointAuthMethod = resolveClientTypeAndAuthMethod(clientType, tokenEndpointAuthMethod)
	clientSecret, clientSecretHash, err := generateClientSecret(clientType)
	if err != nil {
		return nil, "", err
	}

	client := &storage.Client{
		ClientID:                clientID,
		ClientSecretHash:        clientSecretHash,
		ClientType:              clientType,
		RedirectURIs:            redirectURIs,
		TokenEndpointAuthMethod: tokenEndpointAuthMethod,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ClientName:              clientName,
		Scopes:                  s.Config.ScopesSupported,
		CreatedAt:               time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.trackClientIPAndLog(ctx, client, clientIP)
	return client, clientSecret, nil
}

// validateRedirectURIsForRegistration validates all candidate redirect URIs
// and logs rejections for auditing.
func (s *Server) validateRedirectURIsForRegistration(redirectURIs []string, clientIP string) error {
	if len(redirectURIs) == 0 {
		return fmt.Errorf("at least one redirect URI is required")
	}

	for _, uri := range redirectURIs {
		if err := validateRedirectURISecurity(uri, s.Config.Issuer, s.Config.AllowedCustomSchemes); err != nil {
			if s.Auditor != nil {
				s.Auditor.LogEvent(security.Event{
					Type:      security.EventClientRegistrationRejected,
					IPAddress: clientIP,
					Details: map[string]any{
						"reason": "redirect_uri_validation_failed",
					},
				})
			}
			s.Logger.Warn("Client registration rejected: redirect URI validation failed",
				"error", err.Error(),
				"client_ip", clientIP)
			return fmt.Errorf("invalid_redirect_uri: %w", err)
		}
	}

	return nil
}

// resolveClientTypeAndAuthMethod determines the client type and auth method.
// Per RFC 7591 Section 2: token_endpoint_auth_method determines client type.
func resolveClientTypeAndAuthMethod(clientType, tokenEndpointAuthMethod string) (string, string) {
	if tokenEndpointAuthMethod == TokenEndpointAuthMethodNone {
		clientType = ClientTypePublic
	} else if clientType == "" {
		clientType = ClientTypeConfidential
	}

	if tokenEndpointAuthMethod == "" {
		if clientType == ClientTypePublic {
			tokenEndpointAuthMethod = TokenEndpointAuthMethodNone
		} else {
			tokenEndpointAuthMethod = TokenEndpointAuthMethodBasic
		}
	}

	return clientType, tokenEndpointAuthMethod
}

// generateClientSecret generates a secret for confidential clients.
func generateClientSecret(clientType string) (string, string, error) {
	if clientType != ClientTypeConfidential {
		return "", "", nil
	}

	clientSecret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}

// trackClientIPAndLog tracks the IP for DoS protection and logs the registration.
func (s *Server) trackClientIPAndLog(ctx context.Context, client *storage.Client, clientIP string) {
	type ipTracker interface {
		TrackClientIP(ip string)
	}
	if tracker, ok := s.clientStore.(ipTracker); ok {
		tracker.TrackClientIP(clientIP)
	}

	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, client.ClientType, clientIP)
	}
	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx, client.ClientType)
	}

	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"client_type", client.ClientType,
		"token_endpoint_auth_method", client.TokenEndpointAuthMethod,
		"client_ip", clientIP)
}

// ValidateClientCredentials validates client credentials for the token endpoint
func (s *Server) ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) error {
	return s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret)
}

// GetClient retrieves a client by ID (for use by the handler)
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}
