package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/plugin-oauth/instrumentation"
	"github.com/giantswarm/plugin-oauth/security"
	"github.com/giantswarm/plugin-oauth/storage"
)

// tokenIDLogLength is the number of characters of a token or code identifier
// that may appear in logs
const tokenIDLogLength = 8

// safeTruncate safely truncates a string to maxLen characters without
// panicking. Used to log token and code prefixes only.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the OAuth 2.1 authorization server core.
// It coordinates the protocol using the storage ports and holds the
// scope/expiry policy.
type Server struct {
	clientStore storage.ClientStore
	codeStore   storage.CodeStore
	tokenStore  storage.TokenStore

	Encryptor                *security.Encryptor
	Auditor                  *security.Auditor
	RateLimiter              *security.RateLimiter // IP-based rate limiter
	SecurityEventRateLimiter *security.RateLimiter // Rate limiter for security event logging (DoS prevention)
	Logger                   *slog.Logger
	Config                   *Config

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// New creates a new OAuth authorization server
func New(
	clientStore storage.ClientStore,
	codeStore storage.CodeStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codeStore == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		clientStore: clientStore,
		codeStore:   codeStore,
		tokenStore:  tokenStore,
		Config:      config,
		Logger:      logger,
	}

	// HTTPS enforcement on the issuer (OAuth 2.1 security requirement)
	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetEncryptor sets the claim encryptor for server and storage
func (s *Server) SetEncryptor(enc *security.Encryptor) {
	s.Encryptor = enc

	type encryptorSetter interface {
		SetEncryptor(*security.Encryptor)
	}
	if setter, ok := s.tokenStore.(encryptorSetter); ok {
		setter.SetEncryptor(enc)
	}
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging.
// This prevents DoS attacks via log flooding from repeated security events.
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation sets OpenTelemetry instrumentation for the server and,
// when the storage backend supports it, the storage layer too.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}

	type instrumentationSetter interface {
		SetInstrumentation(*instrumentation.Instrumentation)
	}
	if setter, ok := s.tokenStore.(instrumentationSetter); ok {
		setter.SetInstrumentation(inst)
	}
}

// Instrumentation returns the configured instrumentation, or nil
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.instrumentation
}

// metrics returns the metrics holder, or nil when instrumentation is unset
func (s *Server) metrics() *instrumentation.Metrics {
	if s.instrumentation == nil {
		return nil
	}
	return s.instrumentation.Metrics()
}

// startFlowSpan starts a tracing span for a protocol flow operation
func (s *Server) startFlowSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "oauth.server."+operation)
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string with 256 bits of entropy, suitable for codes,
// tokens, and client identifiers.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
