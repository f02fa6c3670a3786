package memory

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/repository"
)

// BlacklistOptions controls in-memory blacklist behaviour.
type BlacklistOptions struct {
	// MaxEntries bounds the table. A full table reclaims expired entries and otherwise rejects new hashes. Zero means unbounded.
	MaxEntries int
}

// Blacklist is an in-memory revocation store keyed by token hash with a per-subject index.
type Blacklist struct {
	mu         sync.RWMutex
	entries    map[string]domain.BlacklistEntry
	bySubject  map[string]map[string]struct{}
	maxEntries int
	now        func() time.Time
}

// NewBlacklist constructs an empty blacklist.
func NewBlacklist(opts BlacklistOptions) *Blacklist {
	return &Blacklist{
		entries:    make(map[string]domain.BlacklistEntry),
		bySubject:  make(map[string]map[string]struct{}),
		maxEntries: opts.MaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic testing.
func (b *Blacklist) WithClock(clock func() time.Time) *Blacklist {
	if clock != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.now = clock
	}
	return b
}

// Blacklist records the entry. Re-blacklisting a hash keeps the later expiry and the latest reason.
func (b *Blacklist) Blacklist(_ context.Context, entry domain.BlacklistEntry) error {
	hash := strings.TrimSpace(entry.TokenHash)
	if hash == "" {
		return fmt.Errorf("blacklist: %w: token hash is required", repository.ErrInvalidArgument)
	}
	if entry.ExpiresAt.IsZero() {
		return fmt.Errorf("blacklist: %w: expires at is required", repository.ErrInvalidArgument)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	entry = entry.Clone()
	entry.TokenHash = hash
	entry.ExpiresAt = entry.ExpiresAt.UTC()
	if entry.BlacklistedAt.IsZero() {
		entry.BlacklistedAt = now
	}

	if existing, ok := b.entries[hash]; ok {
		entry = mergeBlacklistEntry(existing, entry)
	} else if b.maxEntries > 0 && len(b.entries) >= b.maxEntries {
		b.evictExpiredLocked(now)
		if len(b.entries) >= b.maxEntries {
			return fmt.Errorf("blacklist: %w: %d live entries", repository.ErrCapacityExceeded, len(b.entries))
		}
	}

	b.storeLocked(entry)
	return nil
}

// IsBlacklisted reports whether the hash is blacklisted. Entries past their expiry are removed and reported absent.
func (b *Blacklist) IsBlacklisted(_ context.Context, tokenHash string) (bool, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return false, nil
	}

	b.mu.RLock()
	entry, ok := b.entries[tokenHash]
	now := b.now().UTC()
	b.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if entry.IsExpired(now) {
		b.mu.Lock()
		if current, still := b.entries[tokenHash]; still && current.IsExpired(now) {
			b.deleteLocked(tokenHash)
		}
		b.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// SweepExpired removes every expired entry and returns how many were dropped.
func (b *Blacklist) SweepExpired(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	removed := 0
	for hash, entry := range b.entries {
		if entry.IsExpired(now) {
			b.deleteLocked(hash)
			removed++
		}
	}
	return removed, nil
}

// BlacklistAllForSubject stamps reason onto every live entry held for the subject.
func (b *Blacklist) BlacklistAllForSubject(_ context.Context, subjectID string, reason string) (int, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return 0, fmt.Errorf("blacklist: %w: subject is required", repository.ErrInvalidArgument)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	updated := 0
	for hash := range b.bySubject[subjectID] {
		entry, ok := b.entries[hash]
		if !ok {
			continue
		}
		if entry.IsExpired(now) {
			b.deleteLocked(hash)
			continue
		}
		if reason != "" {
			entry.Reason = reason
			b.entries[hash] = entry
		}
		updated++
	}
	return updated, nil
}

// Count returns the number of live entries.
func (b *Blacklist) Count(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := b.now().UTC()
	count := 0
	for _, entry := range b.entries {
		if !entry.IsExpired(now) {
			count++
		}
	}
	return count, nil
}

// Entry returns a copy of the live entry for the hash.
func (b *Blacklist) Entry(_ context.Context, tokenHash string) (*domain.BlacklistEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[strings.TrimSpace(tokenHash)]
	if !ok || entry.IsExpired(b.now().UTC()) {
		return nil, repository.ErrNotFound
	}
	out := entry.Clone()
	return &out, nil
}

// Snapshot serialises the live entries for persistence.
func (b *Blacklist) Snapshot(_ context.Context) (*domain.BlacklistSnapshot, error) {
	b.mu.RLock()
	now := b.now().UTC()
	entries := make([]blacklistSnapshotEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		if entry.IsExpired(now) {
			continue
		}
		entries = append(entries, blacklistSnapshotEntry{
			TokenHash:     entry.TokenHash,
			SubjectID:     entry.SubjectID,
			BlacklistedAt: entry.BlacklistedAt,
			ExpiresAt:     entry.ExpiresAt,
			Reason:        entry.Reason,
			SessionID:     entry.SessionID,
		})
	}
	b.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ExpiresAt.Equal(entries[j].ExpiresAt) {
			return entries[i].TokenHash < entries[j].TokenHash
		}
		return entries[i].ExpiresAt.Before(entries[j].ExpiresAt)
	})

	payload, err := json.Marshal(blacklistSnapshot{Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("encode blacklist snapshot: %w", err)
	}

	return &domain.BlacklistSnapshot{
		SnapshotID:  uuid.NewString(),
		GeneratedAt: now,
		Payload:     payload,
		Checksum:    snapshotChecksum(payload),
	}, nil
}

// RestoreSnapshot replaces the in-memory state with the live entries of the snapshot.
func (b *Blacklist) RestoreSnapshot(_ context.Context, snapshot domain.BlacklistSnapshot) error {
	if len(snapshot.Payload) == 0 {
		return nil
	}
	if snapshot.Checksum != "" && snapshot.Checksum != snapshotChecksum(snapshot.Payload) {
		return fmt.Errorf("restore blacklist snapshot %s: checksum mismatch", snapshot.SnapshotID)
	}

	var data blacklistSnapshot
	if err := json.Unmarshal(snapshot.Payload, &data); err != nil {
		return fmt.Errorf("decode blacklist snapshot: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	b.entries = make(map[string]domain.BlacklistEntry, len(data.Entries))
	b.bySubject = make(map[string]map[string]struct{})
	for _, item := range data.Entries {
		hash := strings.TrimSpace(item.TokenHash)
		if hash == "" {
			continue
		}
		entry := domain.BlacklistEntry{
			TokenHash:     hash,
			SubjectID:     item.SubjectID,
			BlacklistedAt: item.BlacklistedAt.UTC(),
			ExpiresAt:     item.ExpiresAt.UTC(),
			Reason:        item.Reason,
			SessionID:     item.SessionID,
		}
		if entry.IsExpired(now) {
			continue
		}
		b.storeLocked(entry)
	}
	return nil
}

func (b *Blacklist) storeLocked(entry domain.BlacklistEntry) {
	b.entries[entry.TokenHash] = entry
	if entry.SubjectID == "" {
		return
	}
	index, ok := b.bySubject[entry.SubjectID]
	if !ok {
		index = make(map[string]struct{})
		b.bySubject[entry.SubjectID] = index
	}
	index[entry.TokenHash] = struct{}{}
}

func (b *Blacklist) deleteLocked(hash string) {
	entry, ok := b.entries[hash]
	if !ok {
		return
	}
	delete(b.entries, hash)
	if index, ok := b.bySubject[entry.SubjectID]; ok {
		delete(index, hash)
		if len(index) == 0 {
			delete(b.bySubject, entry.SubjectID)
		}
	}
}

func (b *Blacklist) evictExpiredLocked(now time.Time) {
	for hash, entry := range b.entries {
		if entry.IsExpired(now) {
			b.deleteLocked(hash)
		}
	}
}

func mergeBlacklistEntry(existing, incoming domain.BlacklistEntry) domain.BlacklistEntry {
	merged := existing.Clone()
	if incoming.ExpiresAt.After(merged.ExpiresAt) {
		merged.ExpiresAt = incoming.ExpiresAt
	}
	if incoming.Reason != "" {
		merged.Reason = incoming.Reason
	}
	if incoming.SessionID != nil {
		merged.SessionID = incoming.SessionID
	}
	if merged.SubjectID == "" {
		merged.SubjectID = incoming.SubjectID
	}
	return merged
}

func snapshotChecksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type blacklistSnapshot struct {
	Entries []blacklistSnapshotEntry `json:"entries"`
}

type blacklistSnapshotEntry struct {
	TokenHash     string    `json:"token_hash"`
	SubjectID     string    `json:"subject_id,omitempty"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Reason        string    `json:"reason,omitempty"`
	SessionID     *string   `json:"session_id,omitempty"`
}

var (
	_ port.RevocationStore      = (*Blacklist)(nil)
	_ port.BlacklistSnapshotter = (*Blacklist)(nil)
)
