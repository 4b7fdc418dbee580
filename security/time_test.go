package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "future expiry", expiresAt: time.Now().Add(time.Hour), want: false},
		{name: "long past expiry", expiresAt: time.Now().Add(-time.Hour), want: true},
		{name: "within grace period", expiresAt: time.Now().Add(-2 * time.Second), want: false},
		{name: "just past grace period", expiresAt: time.Now().Add(-10 * time.Second), want: true},
		{name: "zero expiry never expires", expiresAt: time.Time{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpiredWithGracePeriod(t *testing.T) {
	expiresAt := time.Now().Add(-30 * time.Second)

	if IsExpiredWithGracePeriod(expiresAt, time.Minute) {
		t.Error("expired within custom grace period")
	}
	if !IsExpiredWithGracePeriod(expiresAt, 10*time.Second) {
		t.Error("not expired beyond custom grace period")
	}
	if !IsExpiredWithGracePeriod(expiresAt, 0) {
		t.Error("not expired with zero grace period")
	}
}
