package server

import (
	"log/slog"
	"testing"
)

func TestApplyTimeDefaults(t *testing.T) {
	config := &Config{}
	applyTimeDefaults(config)

	if config.LoginPath != "/login" {
		t.Errorf("LoginPath = %q, want /login", config.LoginPath)
	}
	if config.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", config.AccessTokenTTL)
	}
	if config.RefreshTokenTTL != 7776000 {
		t.Errorf("RefreshTokenTTL = %d, want 7776000", config.RefreshTokenTTL)
	}
	if config.TrustedProxyCount != 1 {
		t.Errorf("TrustedProxyCount = %d, want 1", config.TrustedProxyCount)
	}
	if config.ClockSkewGracePeriod != 5 {
		t.Errorf("ClockSkewGracePeriod = %d, want 5", config.ClockSkewGracePeriod)
	}
	if config.MaxClientsPerIP != 10 {
		t.Errorf("MaxClientsPerIP = %d, want 10", config.MaxClientsPerIP)
	}
}

func TestApplyTimeDefaults_PreservesExplicitValues(t *testing.T) {
	config := &Config{
		LoginPath:            "/auth/confirm",
		AuthorizationCodeTTL: 120,
		AccessTokenTTL:       900,
		RefreshTokenTTL:      86400,
	}
	applyTimeDefaults(config)

	if config.LoginPath != "/auth/confirm" {
		t.Errorf("LoginPath = %q, want /auth/confirm", config.LoginPath)
	}
	if config.AuthorizationCodeTTL != 120 {
		t.Errorf("AuthorizationCodeTTL = %d, want 120", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 900 {
		t.Errorf("AccessTokenTTL = %d, want 900", config.AccessTokenTTL)
	}
	if config.RefreshTokenTTL != 86400 {
		t.Errorf("RefreshTokenTTL = %d, want 86400", config.RefreshTokenTTL)
	}
}

func TestApplySecurityDefaults(t *testing.T) {
	logger := slog.Default()

	t.Run("fresh config gets secure defaults", func(t *testing.T) {
		config := &Config{}
		applySecurityDefaults(config, logger)

		if !config.RequirePKCE {
			t.Error("RequirePKCE = false, want true")
		}
		if config.AllowPKCEPlain {
			t.Error("AllowPKCEPlain = true, want false")
		}
		if config.TrustProxy {
			t.Error("TrustProxy = true, want false")
		}
	})

	t.Run("explicit configuration is preserved", func(t *testing.T) {
		config := &Config{
			RequirePKCE:    true,
			AllowPKCEPlain: true,
		}
		applySecurityDefaults(config, logger)

		if !config.AllowPKCEPlain {
			t.Error("AllowPKCEPlain was overridden")
		}
	})
}

func TestConfig_Endpoints(t *testing.T) {
	config := &Config{Issuer: "https://auth.example.com"}

	if got := config.AuthorizationEndpoint(); got != "https://auth.example.com/authorize" {
		t.Errorf("AuthorizationEndpoint() = %q", got)
	}
	if got := config.TokenEndpoint(); got != "https://auth.example.com/token" {
		t.Errorf("TokenEndpoint() = %q", got)
	}
	if got := config.RegistrationEndpoint(); got != "https://auth.example.com/register" {
		t.Errorf("RegistrationEndpoint() = %q", got)
	}
	if got := config.RevocationEndpoint(); got != "https://auth.example.com/revoke" {
		t.Errorf("RevocationEndpoint() = %q", got)
	}
}
