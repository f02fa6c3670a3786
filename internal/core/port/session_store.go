package port

import (
	"context"
	"time"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

// SessionStore holds live sessions keyed by id and indexed by subject.
// Lookups never return expired or terminated sessions; such sessions are dropped as a side effect.
type SessionStore interface {
	// Create stores the session. When the subject already holds maxPerSubject active sessions,
	// the least recently active ones are terminated first and returned as evicted.
	Create(ctx context.Context, session domain.Session, maxPerSubject int) (domain.Session, []domain.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	ListBySubject(ctx context.Context, subjectID string) ([]domain.Session, error)
	// Touch reports false without error when the session is missing or no longer active.
	Touch(ctx context.Context, sessionID string, activity domain.SessionActivity) (bool, error)
	// Terminate reports false without error when the session is already gone.
	Terminate(ctx context.Context, sessionID string, reason string) (bool, error)
	TerminateAllForSubject(ctx context.Context, subjectID string, reason string) (int, error)
	CountActive(ctx context.Context) (int, error)
	ListByCreatedRange(ctx context.Context, start, end time.Time) ([]domain.Session, error)
	SweepExpired(ctx context.Context) (int, error)
}
