package server

import (
	"log/slog"
)

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// LoginPath is the path of the human-facing login confirmation page.
	// Authorize redirects there with the pending code attached.
	// Default: "/login"
	LoginPath string

	// ScopesSupported lists the scopes this server issues. Registered clients
	// have their scope forced to this set regardless of what they request;
	// self-registration must never be a scope escalation vector.
	ScopesSupported []string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// RequirePKCE enforces PKCE for all authorization requests
	// WARNING: Disabling this significantly weakens security
	// When true, code_challenge parameter is mandatory (secure by default)
	// Default: true
	RequirePKCE bool // default: true

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// WARNING: The 'plain' method is insecure and deprecated in OAuth 2.1
	// When false, only S256 method is accepted (secure by default)
	// Default: false
	AllowPKCEPlain bool // default: false

	// AllowInsecureHTTP permits a non-localhost http:// issuer.
	// WARNING: OAuth over HTTP exposes tokens and credentials to interception.
	// Default: false
	AllowInsecureHTTP bool // default: false

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// Default: false
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this server.
	// Used with TrustProxy to correctly extract the client IP from X-Forwarded-For.
	// Default: 1
	TrustedProxyCount int // default: 1

	// MaxClientsPerIP limits client registrations per IP address.
	// Prevents DoS via mass client registration.
	// Default: 10
	MaxClientsPerIP int // default: 10

	// ClockSkewGracePeriod is the grace period for expiry checks (in seconds).
	// Prevents false expiration errors due to time synchronization drift.
	// Default: 5 seconds
	ClockSkewGracePeriod int64 // seconds, default: 5

	// AllowPublicClientRegistration allows unauthenticated dynamic client registration
	// WARNING: This can lead to DoS attacks via unlimited client registration
	// Default: false (authentication REQUIRED)
	AllowPublicClientRegistration bool // default: false

	// RegistrationAccessToken is the token required for client registration.
	// Only checked if AllowPublicClientRegistration is false.
	RegistrationAccessToken string

	// AllowedCustomSchemes is a list of allowed custom URI scheme patterns (regex)
	// for validating native-app redirect URIs (e.g., myapp://).
	// Empty list allows all RFC 3986 compliant schemes.
	AllowedCustomSchemes []string

	// ResourceValidator, when set, is consulted on every code and refresh
	// exchange that carries an RFC 8707 resource indicator. A non-nil return
	// rejects the exchange with access_denied.
	ResourceValidator func(resource string) error
}

// Endpoint paths relative to the issuer
const (
	PathAuthorization = "/authorize"
	PathToken         = "/token"
	PathRegistration  = "/register"
	PathRevocation    = "/revoke"
)

// AuthorizationEndpoint returns the full authorization endpoint URL
func (c *Config) AuthorizationEndpoint() string {
	return c.Issuer + PathAuthorization
}

// TokenEndpoint returns the full token endpoint URL
func (c *Config) TokenEndpoint() string {
	return c.Issuer + PathToken
}

// RegistrationEndpoint returns the full client registration endpoint URL
func (c *Config) RegistrationEndpoint() string {
	return c.Issuer + PathRegistration
}

// RevocationEndpoint returns the full token revocation endpoint URL
func (c *Config) RevocationEndpoint() string {
	return c.Issuer + PathRevocation
}

// applySecureDefaults applies secure-by-default configuration values.
// This follows the principle: secure by default, opt-in for less secure options.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applySecurityDefaults(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.MaxClientsPerIP == 0 {
		config.MaxClientsPerIP = 10
	}
}

// applySecurityDefaults sets secure defaults for security-related configuration.
// Uses a heuristic to detect if config is new (all security bools false) vs
// explicitly configured.
func applySecurityDefaults(config *Config, logger *slog.Logger) {
	isDefaultConfig := !config.RequirePKCE &&
		!config.AllowPKCEPlain &&
		!config.TrustProxy &&
		!config.AllowInsecureHTTP

	if isDefaultConfig {
		config.RequirePKCE = true
		config.AllowPKCEPlain = false
		config.TrustProxy = false
		return
	}

	logSecurityWarnings(config, logger)
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("⚠️  SECURITY WARNING: PKCE is DISABLED",
			"risk", "Authorization code interception attacks",
			"recommendation", "Set RequirePKCE=true for OAuth 2.1 compliance",
			"learn_more", "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-7.6")
	}
	if config.AllowPKCEPlain {
		logger.Warn("⚠️  SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if config.AllowPublicClientRegistration {
		logger.Warn("⚠️  SECURITY WARNING: Public client registration is ENABLED",
			"risk", "DoS attacks via unlimited client registration",
			"recommendation", "Set AllowPublicClientRegistration=false and use RegistrationAccessToken")
	}
	if !config.AllowPublicClientRegistration && config.RegistrationAccessToken == "" {
		logger.Warn("⚠️  CONFIGURATION WARNING: RegistrationAccessToken not configured",
			"risk", "Client registration will fail",
			"recommendation", "Set RegistrationAccessToken or enable AllowPublicClientRegistration")
	}
}
