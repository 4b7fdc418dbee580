package util

import (
	"reflect"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than max", "short", 10, "short"},
		{"exactly max", "12345678", 8, "12345678"},
		{"longer than max", "very-long-token-abc123", 8, "very-lon"},
		{"empty string", "", 8, ""},
		{"zero max", "token", 0, ""},
		{"negative max", "token", -1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://example.com/", "https://example.com"},
		{"https://example.com", "https://example.com"},
		{"https://example.com///", "https://example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeURL(tt.input); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestScopeSet(t *testing.T) {
	if got := ScopeSet("openid email profile"); !reflect.DeepEqual(got, []string{"openid", "email", "profile"}) {
		t.Errorf("ScopeSet() = %v", got)
	}
	if got := ScopeSet(""); got != nil {
		t.Errorf("ScopeSet(\"\") = %v, want nil", got)
	}
	if got := ScopeSet("  a   b "); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("ScopeSet() = %v", got)
	}
}

func TestContainsAll(t *testing.T) {
	tests := []struct {
		name string
		have []string
		want []string
		ok   bool
	}{
		{"subset", []string{"a", "b", "c"}, []string{"a", "c"}, true},
		{"equal", []string{"a", "b"}, []string{"a", "b"}, true},
		{"missing element", []string{"a"}, []string{"a", "b"}, false},
		{"empty want", []string{"a"}, nil, true},
		{"empty have non-empty want", nil, []string{"a"}, false},
		{"both empty", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsAll(tt.have, tt.want); got != tt.ok {
				t.Errorf("ContainsAll(%v, %v) = %v, want %v", tt.have, tt.want, got, tt.ok)
			}
		})
	}
}
