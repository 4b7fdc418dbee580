package instrumentation

import (
	"context"
	"testing"
)

func TestNew(t *testing.T) {
	inst, err := New(Config{ServiceName: "test-service", ServiceVersion: "1.0.0"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Metrics() == nil {
		t.Error("Metrics() = nil")
	}
	if inst.Tracer("http") == nil {
		t.Error("Tracer() = nil")
	}
	if inst.Meter("server") == nil {
		t.Error("Meter() = nil")
	}

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.config.ServiceName != "plugin-oauth" {
		t.Errorf("ServiceName = %q, want plugin-oauth", inst.config.ServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
}

func TestMetrics_NoopRecording(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Recording against no-op providers must not panic
	ctx := context.Background()
	m := inst.Metrics()
	m.RecordHTTPRequest(ctx, "POST", "token", 200, 1.5)
	m.RecordCodeExchange(ctx, "client-abc", "S256")
	m.RecordTokenRefresh(ctx, "client-abc")
	m.RecordTokenRevocation(ctx, "client-abc")
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordCodeReuseDetected(ctx)
	m.RecordTokenReuseDetected(ctx)
	m.RecordStorageOperation(ctx, "save_token", "success", 0.2)
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := inst.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}
