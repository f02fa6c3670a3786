package domain

import "time"

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// AccessPayload is the decoded content of an access token.
type AccessPayload struct {
	TokenID           string
	SubjectID         string
	SessionID         string
	Role              string
	Permissions       []string
	DeviceFingerprint string
	IPAddress         string
	TokenType         TokenKind
	IssuedAt          time.Time
	ExpiresAt         time.Time
}

// RefreshPayload is the decoded content of a refresh token.
type RefreshPayload struct {
	TokenID           string
	SubjectID         string
	SessionID         string
	DeviceFingerprint string
	TokenType         TokenKind
	IssuedAt          time.Time
	ExpiresAt         time.Time
}

// TokenPair is the result of issuing or rotating credentials.
type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
}

// ValidationResult is the non-throwing outcome of a token validation query.
// Exactly one of Access or Refresh is populated when IsValid is true.
type ValidationResult struct {
	IsValid       bool
	IsExpired     bool
	IsBlacklisted bool
	Error         string
	Access        *AccessPayload
	Refresh       *RefreshPayload
}

// IssuedSession bundles a freshly issued token pair with the session and device it belongs to.
type IssuedSession struct {
	TokenPair
	Session     Session
	Device      TrackedDevice
	IsNewDevice bool
}
