package domain

import "time"

// IdentityClaims is what the external identity provider asserts about a subject.
type IdentityClaims struct {
	SubjectID     string
	Email         string
	EmailVerified bool
	Role          string
	Permissions   []string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	// TokensValidAfter is set once the provider has revoked every session of the subject.
	TokensValidAfter *time.Time
}

// SessionRequest is the input for issuing a token pair and its backing session.
type SessionRequest struct {
	SubjectID         string
	Email             string
	Role              string
	Permissions       []string
	DeviceInfo        DeviceInfo
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	LoginMethod       string
}
