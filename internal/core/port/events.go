package port

import (
	"context"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

// AuditSink records session lifecycle events. Callers treat failures as non-fatal.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}

// RevocationBroadcaster fans blacklistings out to peer instances.
type RevocationBroadcaster interface {
	PublishTokenBlacklisted(ctx context.Context, event domain.TokenBlacklistedEvent) error
}
