// Package security provides the security toolkit for the authorization
// server: audit logging with PII protection, per-identifier rate limiting,
// clock-skew-tolerant expiry checks, claim encryption at rest, response
// security headers, and client IP extraction.
package security
