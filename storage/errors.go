package storage

import "errors"

// Sentinel errors returned by storage implementations. The authorization
// server distinguishes these protocol-relevant conditions from transient
// I/O failures, which it wraps as server_error.
var (
	// ErrClientNotFound indicates the client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrCodeNotFound indicates the authorization code does not exist,
	// has expired, or has already been consumed
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeNotConfirmed indicates the authorization code has not yet been
	// confirmed by the login step
	ErrCodeNotConfirmed = errors.New("authorization code not confirmed")

	// ErrCodeAlreadyConfirmed indicates Confirm was called twice on the same code
	ErrCodeAlreadyConfirmed = errors.New("authorization code already confirmed")

	// ErrTokenNotFound indicates the token does not exist or was already consumed
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired indicates the token or code exists but is past its expiry
	ErrTokenExpired = errors.New("token expired")
)
