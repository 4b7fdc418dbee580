package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newCapturingAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestAuditor_LogEvent(t *testing.T) {
	auditor, buf := newCapturingAuditor(true)

	auditor.LogEvent(Event{
		Type:      EventCodeExchanged,
		Subject:   "user-123",
		ClientID:  "client-abc",
		IPAddress: "203.0.113.5",
	})

	out := buf.String()
	if !strings.Contains(out, "security_audit") {
		t.Error("audit log missing security_audit message")
	}
	if !strings.Contains(out, EventCodeExchanged) {
		t.Error("audit log missing event type")
	}
	if !strings.Contains(out, "client-abc") {
		t.Error("audit log missing client ID")
	}
}

func TestAuditor_SubjectIsHashed(t *testing.T) {
	auditor, buf := newCapturingAuditor(true)

	auditor.LogAuthFailure("alice@example.com", "client-abc", "203.0.113.5", "bad token")

	out := buf.String()
	if strings.Contains(out, "alice@example.com") {
		t.Error("raw subject leaked into audit log")
	}
	if !strings.Contains(out, hashForLogging("alice@example.com")) {
		t.Error("hashed subject not present in audit log")
	}
}

func TestAuditor_Disabled(t *testing.T) {
	auditor, buf := newCapturingAuditor(false)

	auditor.LogEvent(Event{Type: EventTokenIssued, ClientID: "client-abc"})
	auditor.LogRateLimitExceeded("203.0.113.5", "user-123")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor produced output: %s", buf.String())
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	a := hashForLogging("subject-a")
	b := hashForLogging("subject-b")
	if a == b {
		t.Error("distinct subjects produced identical hashes")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	if a != hashForLogging("subject-a") {
		t.Error("hash is not deterministic")
	}
}
