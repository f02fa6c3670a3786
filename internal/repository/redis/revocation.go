package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/repository"
)

const (
	defaultRevocationPrefix = "sessions:blacklist"
	scanBatchSize           = 256
	maxWatchRetries         = 32
)

var errContended = errors.New("too many concurrent updates")

// RevocationRepository stores blacklist entries in Redis with a TTL equal to the token's remaining lifetime.
// Entries live under <prefix>:token:<hash>; <prefix>:subject:<id> sets index them by subject.
type RevocationRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewRevocationRepository wires a Redis client into a revocation repository.
func NewRevocationRepository(client *red.Client, keyPrefix string) *RevocationRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}

	return &RevocationRepository{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic testing.
func (r *RevocationRepository) WithClock(clock func() time.Time) *RevocationRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}

// Blacklist upserts the entry. Entries whose token already expired are not written.
// The merge with an existing entry runs under WATCH and is retried on conflict.
func (r *RevocationRepository) Blacklist(ctx context.Context, entry domain.BlacklistEntry) error {
	hash := strings.TrimSpace(entry.TokenHash)
	if hash == "" {
		return fmt.Errorf("redis blacklist: %w: token hash is required", repository.ErrInvalidArgument)
	}
	if entry.ExpiresAt.IsZero() {
		return fmt.Errorf("redis blacklist: %w: expires at is required", repository.ErrInvalidArgument)
	}

	now := r.now().UTC()
	entry = entry.Clone()
	entry.TokenHash = hash
	if entry.BlacklistedAt.IsZero() {
		entry.BlacklistedAt = now
	}

	key := r.tokenKey(hash)
	return r.watchKey(ctx, key, func(tx *red.Tx) error {
		merged := entry
		existing, err := loadEntry(ctx, tx, key, hash)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if existing != nil {
			merged = mergeRevocation(*existing, entry)
		}

		ttl := merged.ExpiresAt.Sub(now)
		if ttl <= 0 {
			return nil
		}

		data, err := json.Marshal(toRevocationRecord(merged))
		if err != nil {
			return fmt.Errorf("encode blacklist entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			if merged.SubjectID != "" {
				pipe.SAdd(ctx, r.subjectKey(merged.SubjectID), hash)
			}
			return nil
		})
		return err
	})
}

// IsBlacklisted reports whether a live entry exists for the hash.
func (r *RevocationRepository) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return false, nil
	}

	entry, err := r.load(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if entry.IsExpired(r.now().UTC()) {
		if err := r.client.Del(ctx, r.tokenKey(tokenHash)).Err(); err != nil {
			return false, fmt.Errorf("redis delete expired blacklist entry: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// SweepExpired prunes subject index members whose entries Redis has already expired.
// The returned count is the number of expired entries cleaned out of the indexes.
func (r *RevocationRepository) SweepExpired(ctx context.Context) (int, error) {
	return pruneDanglingMembers(ctx, r.client, r.prefix+":subject:*", r.tokenKey)
}

// BlacklistAllForSubject stamps reason onto every live entry indexed for the subject.
func (r *RevocationRepository) BlacklistAllForSubject(ctx context.Context, subjectID string, reason string) (int, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return 0, fmt.Errorf("redis blacklist: %w: subject is required", repository.ErrInvalidArgument)
	}

	hashes, err := r.client.SMembers(ctx, r.subjectKey(subjectID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers blacklist subject: %w", err)
	}

	updated := 0
	for _, hash := range hashes {
		live, err := r.restampReason(ctx, hash, reason)
		if err != nil {
			return updated, err
		}
		if !live {
			if err := r.client.SRem(ctx, r.subjectKey(subjectID), hash).Err(); err != nil {
				return updated, fmt.Errorf("redis srem blacklist subject: %w", err)
			}
			continue
		}
		updated++
	}
	return updated, nil
}

// restampReason rewrites the reason of a live entry in place, keeping its TTL. It reports false when
// the entry no longer exists.
func (r *RevocationRepository) restampReason(ctx context.Context, hash, reason string) (bool, error) {
	key := r.tokenKey(hash)
	live := false
	err := r.watchKey(ctx, key, func(tx *red.Tx) error {
		entry, err := loadEntry(ctx, tx, key, hash)
		if errors.Is(err, repository.ErrNotFound) {
			live = false
			return nil
		}
		if err != nil {
			return err
		}
		live = true
		if reason == "" || entry.Reason == reason {
			return nil
		}

		entry.Reason = reason
		data, err := json.Marshal(toRevocationRecord(*entry))
		if err != nil {
			return fmt.Errorf("encode blacklist entry: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			pipe.Set(ctx, key, data, red.KeepTTL)
			return nil
		})
		return err
	})
	return live, err
}

// watchKey runs fn as an optimistic transaction on key, retrying when another client modified it first.
func (r *RevocationRepository) watchKey(ctx context.Context, key string, fn func(tx *red.Tx) error) error {
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := r.client.Watch(ctx, fn, key)
		if errors.Is(err, red.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis update %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("redis update %s: %w", key, errContended)
}

// Count returns the number of live entries.
func (r *RevocationRepository) Count(ctx context.Context) (int, error) {
	return countKeys(ctx, r.client, r.prefix+":token:*")
}

func (r *RevocationRepository) load(ctx context.Context, hash string) (*domain.BlacklistEntry, error) {
	return loadEntry(ctx, r.client, r.tokenKey(hash), hash)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *red.StringCmd
}

func loadEntry(ctx context.Context, cmd stringGetter, key, hash string) (*domain.BlacklistEntry, error) {
	data, err := cmd.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get blacklist entry: %w", err)
	}

	var record revocationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode blacklist entry: %w", err)
	}
	entry := record.toDomain(hash)
	return &entry, nil
}

func (r *RevocationRepository) tokenKey(hash string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, hash)
}

func (r *RevocationRepository) subjectKey(subjectID string) string {
	return fmt.Sprintf("%s:subject:%s", r.prefix, subjectID)
}

type revocationRecord struct {
	SubjectID     string    `json:"subject_id,omitempty"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Reason        string    `json:"reason,omitempty"`
	SessionID     *string   `json:"session_id,omitempty"`
}

// mergeRevocation keeps the later expiry, the original blacklisting time and any field the update leaves blank.
func mergeRevocation(existing, incoming domain.BlacklistEntry) domain.BlacklistEntry {
	merged := incoming
	if existing.ExpiresAt.After(merged.ExpiresAt) {
		merged.ExpiresAt = existing.ExpiresAt
	}
	if merged.Reason == "" {
		merged.Reason = existing.Reason
	}
	if merged.SessionID == nil {
		merged.SessionID = existing.SessionID
	}
	if merged.SubjectID == "" {
		merged.SubjectID = existing.SubjectID
	}
	merged.BlacklistedAt = existing.BlacklistedAt
	return merged
}

func toRevocationRecord(entry domain.BlacklistEntry) revocationRecord {
	return revocationRecord{
		SubjectID:     entry.SubjectID,
		BlacklistedAt: entry.BlacklistedAt.UTC(),
		ExpiresAt:     entry.ExpiresAt.UTC(),
		Reason:        entry.Reason,
		SessionID:     entry.SessionID,
	}
}

func (r revocationRecord) toDomain(hash string) domain.BlacklistEntry {
	return domain.BlacklistEntry{
		TokenHash:     hash,
		SubjectID:     r.SubjectID,
		BlacklistedAt: r.BlacklistedAt,
		ExpiresAt:     r.ExpiresAt,
		Reason:        r.Reason,
		SessionID:     r.SessionID,
	}
}

// pruneDanglingMembers removes set members whose backing key no longer exists.
func pruneDanglingMembers(ctx context.Context, client *red.Client, pattern string, memberKey func(string) string) (int, error) {
	removed := 0
	iter := client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()
		members, err := client.SMembers(ctx, setKey).Result()
		if err != nil {
			return removed, fmt.Errorf("redis smembers %s: %w", setKey, err)
		}
		for _, member := range members {
			exists, err := client.Exists(ctx, memberKey(member)).Result()
			if err != nil {
				return removed, fmt.Errorf("redis exists: %w", err)
			}
			if exists > 0 {
				continue
			}
			if err := client.SRem(ctx, setKey, member).Err(); err != nil {
				return removed, fmt.Errorf("redis srem %s: %w", setKey, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return removed, nil
}

func countKeys(ctx context.Context, client *red.Client, pattern string) (int, error) {
	count := 0
	iter := client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return count, nil
}

var _ port.RevocationStore = (*RevocationRepository)(nil)
