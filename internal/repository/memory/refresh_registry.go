package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/repository"
)

// RefreshRegistry tracks issued refresh tokens by hash, indexed by session and subject.
type RefreshRegistry struct {
	mu        sync.Mutex
	entries   map[string]domain.RefreshRegistration
	bySession map[string]map[string]struct{}
	bySubject map[string]map[string]struct{}
	now       func() time.Time
}

// NewRefreshRegistry constructs an empty registry.
func NewRefreshRegistry() *RefreshRegistry {
	return &RefreshRegistry{
		entries:   make(map[string]domain.RefreshRegistration),
		bySession: make(map[string]map[string]struct{}),
		bySubject: make(map[string]map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic testing.
func (r *RefreshRegistry) WithClock(clock func() time.Time) *RefreshRegistry {
	if clock != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.now = clock
	}
	return r
}

func (r *RefreshRegistry) Register(_ context.Context, registration domain.RefreshRegistration) error {
	hash := strings.TrimSpace(registration.TokenHash)
	if hash == "" {
		return fmt.Errorf("refresh registry: %w: token hash is required", repository.ErrInvalidArgument)
	}
	registration.TokenHash = hash

	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteLocked(hash)
	r.entries[hash] = registration
	addToIndex(r.bySession, registration.SessionID, hash)
	addToIndex(r.bySubject, registration.SubjectID, hash)
	return nil
}

// IsRegistered reports whether the hash is still honoured. Expired registrations are dropped on lookup.
func (r *RefreshRegistry) IsRegistered(_ context.Context, tokenHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokenHash = strings.TrimSpace(tokenHash)
	registration, ok := r.entries[tokenHash]
	if !ok {
		return false, nil
	}
	if !registration.ExpiresAt.After(r.now().UTC()) {
		r.deleteLocked(tokenHash)
		return false, nil
	}
	return true, nil
}

func (r *RefreshRegistry) Unregister(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(strings.TrimSpace(tokenHash))
	return nil
}

func (r *RefreshRegistry) UnregisterSession(_ context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteIndexedLocked(r.bySession[strings.TrimSpace(sessionID)]), nil
}

func (r *RefreshRegistry) UnregisterSubject(_ context.Context, subjectID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteIndexedLocked(r.bySubject[strings.TrimSpace(subjectID)]), nil
}

func (r *RefreshRegistry) SweepExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	removed := 0
	for hash, registration := range r.entries {
		if !registration.ExpiresAt.After(now) {
			r.deleteLocked(hash)
			removed++
		}
	}
	return removed, nil
}

func (r *RefreshRegistry) deleteIndexedLocked(index map[string]struct{}) int {
	hashes := make([]string, 0, len(index))
	for hash := range index {
		hashes = append(hashes, hash)
	}
	for _, hash := range hashes {
		r.deleteLocked(hash)
	}
	return len(hashes)
}

func (r *RefreshRegistry) deleteLocked(hash string) {
	registration, ok := r.entries[hash]
	if !ok {
		return
	}
	delete(r.entries, hash)
	removeFromIndex(r.bySession, registration.SessionID, hash)
	removeFromIndex(r.bySubject, registration.SubjectID, hash)
}

func addToIndex(index map[string]map[string]struct{}, key, value string) {
	if key == "" {
		return
	}
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[value] = struct{}{}
}

func removeFromIndex(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(index, key)
	}
}

var _ port.RefreshRegistry = (*RefreshRegistry)(nil)
