package port

import (
	"context"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

// RevocationStore keeps blacklisted token hashes until the tokens they block would expire anyway.
// Implementations must treat entries past their own expiry as absent even before a sweep.
type RevocationStore interface {
	Blacklist(ctx context.Context, entry domain.BlacklistEntry) error
	IsBlacklisted(ctx context.Context, tokenHash string) (bool, error)
	SweepExpired(ctx context.Context) (int, error)
	BlacklistAllForSubject(ctx context.Context, subjectID string, reason string) (int, error)
	Count(ctx context.Context) (int, error)
}

// RefreshRegistry tracks refresh tokens the server issued and still honours.
// A refresh token with a valid signature is rejected unless it is registered here.
type RefreshRegistry interface {
	Register(ctx context.Context, registration domain.RefreshRegistration) error
	IsRegistered(ctx context.Context, tokenHash string) (bool, error)
	Unregister(ctx context.Context, tokenHash string) error
	UnregisterSession(ctx context.Context, sessionID string) (int, error)
	UnregisterSubject(ctx context.Context, subjectID string) (int, error)
	SweepExpired(ctx context.Context) (int, error)
}

// BlacklistSnapshotter serialises and restores the live entries of an in-memory blacklist.
type BlacklistSnapshotter interface {
	Snapshot(ctx context.Context) (*domain.BlacklistSnapshot, error)
	RestoreSnapshot(ctx context.Context, snapshot domain.BlacklistSnapshot) error
}

// BlacklistSnapshotStore persists serialised blacklist snapshots for warm starts.
type BlacklistSnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot domain.BlacklistSnapshot) error
	LoadLatestSnapshot(ctx context.Context) (*domain.BlacklistSnapshot, error)
}
