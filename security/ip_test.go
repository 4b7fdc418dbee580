package security

import (
	"net/http"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xff               string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.5:54321",
			want:       "203.0.113.5",
		},
		{
			name:       "proxy headers ignored without trust",
			remoteAddr: "10.0.0.1:443",
			xff:        "203.0.113.5",
			xRealIP:    "203.0.113.9",
			want:       "10.0.0.1",
		},
		{
			name:       "single proxy XFF",
			remoteAddr: "10.0.0.1:443",
			xff:        "203.0.113.5, 10.0.0.1",
			trustProxy: true,
			want:       "203.0.113.5",
		},
		{
			name:              "two trusted proxies",
			remoteAddr:        "10.0.0.1:443",
			xff:               "203.0.113.5, 10.0.0.2, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.5",
		},
		{
			name:              "spoofed prefix skipped by proxy count",
			remoteAddr:        "10.0.0.1:443",
			xff:               "1.2.3.4, 203.0.113.5, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 1,
			want:              "203.0.113.5",
		},
		{
			name:       "X-Real-IP fallback",
			remoteAddr: "10.0.0.1:443",
			xRealIP:    "203.0.113.9",
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:       "invalid XFF falls through to RemoteAddr",
			remoteAddr: "10.0.0.1:443",
			xff:        "not-an-ip, also-bad",
			trustProxy: true,
			want:       "10.0.0.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.5",
			want:       "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{
				RemoteAddr: tt.remoteAddr,
				Header:     http.Header{},
			}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			got := GetClientIP(r, tt.trustProxy, tt.trustedProxyCount)
			if got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPIndex(t *testing.T) {
	tests := []struct {
		numIPs            int
		trustedProxyCount int
		want              int
	}{
		{numIPs: 2, trustedProxyCount: 0, want: 0},
		{numIPs: 3, trustedProxyCount: 1, want: 1},
		{numIPs: 3, trustedProxyCount: 2, want: 0},
		{numIPs: 1, trustedProxyCount: 3, want: 0},
	}

	for _, tt := range tests {
		if got := clientIPIndex(tt.numIPs, tt.trustedProxyCount); got != tt.want {
			t.Errorf("clientIPIndex(%d, %d) = %d, want %d",
				tt.numIPs, tt.trustedProxyCount, got, tt.want)
		}
	}
}
