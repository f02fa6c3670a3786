package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/repository"
)

// SessionStore keeps live sessions in memory. Terminated and expired sessions leave the index.
type SessionStore struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	bySubject map[string]map[string]struct{}
	now       func() time.Time
}

// NewSessionStore constructs an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:  make(map[string]*domain.Session),
		bySubject: make(map[string]map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic testing.
func (s *SessionStore) WithClock(clock func() time.Time) *SessionStore {
	if clock != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.now = clock
	}
	return s
}

// Create stores a new session, first terminating the subject's least recently active
// sessions until the subject is below maxPerSubject.
func (s *SessionStore) Create(_ context.Context, session domain.Session, maxPerSubject int) (domain.Session, []domain.Session, error) {
	session.ID = strings.TrimSpace(session.ID)
	session.SubjectID = strings.TrimSpace(session.SubjectID)
	if session.ID == "" || session.SubjectID == "" {
		return domain.Session{}, nil, fmt.Errorf("session store: %w: session id and subject are required", repository.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return domain.Session{}, nil, fmt.Errorf("session store: session %s already exists", session.ID)
	}

	now := s.now().UTC()
	active := s.liveForSubjectLocked(session.SubjectID, now)

	var evicted []domain.Session
	if maxPerSubject > 0 {
		sort.Slice(active, func(i, j int) bool { return lessRecentlyActive(active[i], active[j]) })
		for len(active) >= maxPerSubject {
			victim := active[0]
			active = active[1:]
			victim.Terminate(now, domain.TerminationMaxSessionsExceeded)
			evicted = append(evicted, victim.Clone())
			s.deleteLocked(victim.ID)
		}
	}

	stored := session.Clone()
	stored.Active = true
	stored.TerminatedAt = nil
	stored.TerminationReason = nil
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastActivityAt.IsZero() {
		stored.LastActivityAt = stored.CreatedAt
	}
	s.sessions[stored.ID] = &stored
	addToIndex(s.bySubject, stored.SubjectID, stored.ID)

	return stored.Clone(), evicted, nil
}

// Get returns the live session or repository.ErrNotFound.
func (s *SessionStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.liveLocked(strings.TrimSpace(sessionID), s.now().UTC())
	if session == nil {
		return nil, repository.ErrNotFound
	}
	out := session.Clone()
	return &out, nil
}

// ListBySubject returns the subject's live sessions ordered by creation time.
func (s *SessionStore) ListBySubject(_ context.Context, subjectID string) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.liveForSubjectLocked(strings.TrimSpace(subjectID), s.now().UTC())
	out := make([]domain.Session, 0, len(live))
	for _, session := range live {
		out = append(out, session.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func (s *SessionStore) Touch(_ context.Context, sessionID string, activity domain.SessionActivity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	session := s.liveLocked(strings.TrimSpace(sessionID), now)
	if session == nil {
		return false, nil
	}
	return session.Touch(now, activity), nil
}

func (s *SessionStore) Terminate(_ context.Context, sessionID string, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	session := s.liveLocked(strings.TrimSpace(sessionID), now)
	if session == nil {
		return false, nil
	}
	session.Terminate(now, reason)
	s.deleteLocked(session.ID)
	return true, nil
}

func (s *SessionStore) TerminateAllForSubject(_ context.Context, subjectID string, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	live := s.liveForSubjectLocked(strings.TrimSpace(subjectID), now)
	for _, session := range live {
		session.Terminate(now, reason)
		s.deleteLocked(session.ID)
	}
	return len(live), nil
}

func (s *SessionStore) CountActive(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	count := 0
	for _, session := range s.sessions {
		if session.IsActive(now) {
			count++
		}
	}
	return count, nil
}

// ListByCreatedRange returns live sessions created in [start, end). A zero end means no upper bound.
func (s *SessionStore) ListByCreatedRange(_ context.Context, start, end time.Time) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	out := make([]domain.Session, 0)
	for _, session := range s.sessions {
		if !session.IsActive(now) {
			continue
		}
		if session.CreatedAt.Before(start) {
			continue
		}
		if !end.IsZero() && !session.CreatedAt.Before(end) {
			continue
		}
		out = append(out, session.Clone())
	}
	sortByCreated(out)
	return out, nil
}

// SweepExpired drops every session that is no longer active and returns how many were removed.
func (s *SessionStore) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	removed := 0
	for id, session := range s.sessions {
		if !session.IsActive(now) {
			s.deleteLocked(id)
			removed++
		}
	}
	return removed, nil
}

func (s *SessionStore) liveLocked(sessionID string, now time.Time) *domain.Session {
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if !session.IsActive(now) {
		s.deleteLocked(sessionID)
		return nil
	}
	return session
}

func (s *SessionStore) liveForSubjectLocked(subjectID string, now time.Time) []*domain.Session {
	ids := s.bySubject[subjectID]
	live := make([]*domain.Session, 0, len(ids))
	stale := make([]string, 0)
	for id := range ids {
		session, ok := s.sessions[id]
		if !ok || !session.IsActive(now) {
			stale = append(stale, id)
			continue
		}
		live = append(live, session)
	}
	for _, id := range stale {
		s.deleteLocked(id)
		removeFromIndex(s.bySubject, subjectID, id)
	}
	return live
}

func (s *SessionStore) deleteLocked(sessionID string) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.sessions, sessionID)
	removeFromIndex(s.bySubject, session.SubjectID, sessionID)
}

func lessRecentlyActive(a, b *domain.Session) bool {
	if !a.LastActivityAt.Equal(b.LastActivityAt) {
		return a.LastActivityAt.Before(b.LastActivityAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortByCreated(sessions []domain.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}

var _ port.SessionStore = (*SessionStore)(nil)
