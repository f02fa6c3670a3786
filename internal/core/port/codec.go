package port

import "github.com/arklim/academy-sessions/internal/core/domain"

// VerifyOptions tunes token verification.
type VerifyOptions struct {
	// IgnoreExpiration decodes expired tokens while still enforcing signature, issuer and audience.
	IgnoreExpiration bool
}

// TokenCodec signs and verifies access and refresh tokens. It owns no state.
type TokenCodec interface {
	IssueAccess(payload domain.AccessPayload) (string, domain.AccessPayload, error)
	IssueRefresh(payload domain.RefreshPayload) (string, domain.RefreshPayload, error)
	VerifyAccess(token string, opts VerifyOptions) (*domain.AccessPayload, error)
	VerifyRefresh(token string, opts VerifyOptions) (*domain.RefreshPayload, error)
}
