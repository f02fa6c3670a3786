package port

import (
	"context"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

// IdentityVerifier verifies tokens minted by the external identity provider.
type IdentityVerifier interface {
	VerifyIdentityToken(ctx context.Context, rawToken string) (*domain.IdentityClaims, error)
}

// IdentityAdmin exposes the identity provider's administrative operations.
type IdentityAdmin interface {
	RevokeAllSessionsForSubject(ctx context.Context, subjectID string) error
	LookupCurrentClaims(ctx context.Context, subjectID string) (*domain.IdentityClaims, error)
}
