package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. Subject
// identifiers are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string // authenticated principal, hashed before logging
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCodeIssued logs the creation of an unconfirmed authorization code
func (a *Auditor) LogCodeIssued(clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventCodeIssued,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCodeConfirmed logs a successful login confirmation
func (a *Auditor) LogCodeConfirmed(subject, clientID, scope string, refreshRequested bool) {
	a.LogEvent(Event{
		Type:     EventCodeConfirmed,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"scope":                 scope,
			"include_refresh_token": refreshRequested,
		},
	})
}

// LogTokenIssued logs when tokens are minted at the code exchange boundary
func (a *Auditor) LogTokenIssued(clientID, ipAddress, scope string, refreshIssued bool) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope":                scope,
			"refresh_token_issued": refreshIssued,
		},
	})
}

// LogTokenRefreshed logs a refresh exchange; rotation is unconditional
func (a *Auditor) LogTokenRefreshed(clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope":   scope,
			"rotated": true,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(clientID, ipAddress string, kind string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_kind": kind,
		},
	})
}

// LogAuthFailure logs an authentication or verification failure
func (a *Auditor) LogAuthFailure(subject, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, subject string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		Subject:   subject,
		IPAddress: ipAddress,
	})
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_type": clientType,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
