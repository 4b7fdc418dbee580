package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for token and
	// code expiration checks. It prevents false expiration errors due to time
	// synchronization drift between the systems involved in the flow.
	//
	// Trade-off: tokens can be used up to 5 seconds beyond their true
	// expiration, which is acceptable for most deployments and handles
	// typical NTP drift. High-security deployments can reduce it.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks if a token or code is expired with the default clock skew
// grace period.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks if a token or code is expired with a custom
// clock skew grace period. A zero expiry means no expiration.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}

	return time.Now().After(expiresAt.Add(gracePeriod))
}
