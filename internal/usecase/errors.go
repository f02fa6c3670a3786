package usecase

import "errors"

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and unregistered refresh tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates the presented token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenBlacklisted indicates the presented token was revoked before its expiry.
	ErrTokenBlacklisted = errors.New("token blacklisted")
	// ErrSessionNotFound is returned for unknown and expired sessions alike.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates a session lapsed while an operation was in progress.
	ErrSessionExpired = errors.New("session expired")
	// ErrTokenGenerationFailed wraps infrastructure failures while issuing tokens.
	ErrTokenGenerationFailed = errors.New("token generation failed")
	// ErrInvalidInput rejects blank identifiers and similar caller mistakes.
	ErrInvalidInput = errors.New("invalid input")
	// ErrIdentityUnavailable indicates the identity provider could not be consulted.
	ErrIdentityUnavailable = errors.New("identity provider unavailable")
	// ErrEmailNotVerified rejects identity tokens for unverified addresses when verification is required.
	ErrEmailNotVerified = errors.New("email not verified")
)
