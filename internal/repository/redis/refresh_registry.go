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

const defaultRefreshRegistryPrefix = "sessions:refresh"

// RefreshRegistry records issued refresh tokens in Redis so every instance honours the same set.
type RefreshRegistry struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewRefreshRegistry constructs a Redis-backed refresh registry.
func NewRefreshRegistry(client *red.Client, keyPrefix string) *RefreshRegistry {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRefreshRegistryPrefix
	}
	return &RefreshRegistry{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic testing.
func (r *RefreshRegistry) WithClock(clock func() time.Time) *RefreshRegistry {
	if clock != nil {
		r.now = clock
	}
	return r
}

func (r *RefreshRegistry) Register(ctx context.Context, registration domain.RefreshRegistration) error {
	hash := strings.TrimSpace(registration.TokenHash)
	if hash == "" {
		return fmt.Errorf("redis refresh registry: %w: token hash is required", repository.ErrInvalidArgument)
	}
	registration.TokenHash = hash

	ttl := registration.ExpiresAt.Sub(r.now().UTC())
	if ttl <= 0 {
		return fmt.Errorf("redis refresh registry: %w: registration already expired", repository.ErrInvalidArgument)
	}

	data, err := json.Marshal(refreshRecord{
		SubjectID: registration.SubjectID,
		SessionID: registration.SessionID,
		IssuedAt:  registration.IssuedAt.UTC(),
		ExpiresAt: registration.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode refresh registration: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		pipe.Set(ctx, r.tokenKey(hash), data, ttl)
		if registration.SessionID != "" {
			pipe.SAdd(ctx, r.sessionKey(registration.SessionID), hash)
		}
		if registration.SubjectID != "" {
			pipe.SAdd(ctx, r.subjectKey(registration.SubjectID), hash)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis register refresh token: %w", err)
	}
	return nil
}

func (r *RefreshRegistry) IsRegistered(ctx context.Context, tokenHash string) (bool, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return false, nil
	}
	exists, err := r.client.Exists(ctx, r.tokenKey(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists refresh token: %w", err)
	}
	return exists > 0, nil
}

func (r *RefreshRegistry) Unregister(ctx context.Context, tokenHash string) error {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return nil
	}
	_, err := r.unregister(ctx, tokenHash)
	return err
}

func (r *RefreshRegistry) UnregisterSession(ctx context.Context, sessionID string) (int, error) {
	return r.unregisterIndexed(ctx, r.sessionKey(strings.TrimSpace(sessionID)))
}

func (r *RefreshRegistry) UnregisterSubject(ctx context.Context, subjectID string) (int, error) {
	return r.unregisterIndexed(ctx, r.subjectKey(strings.TrimSpace(subjectID)))
}

// SweepExpired prunes index members whose registrations Redis has already expired.
func (r *RefreshRegistry) SweepExpired(ctx context.Context) (int, error) {
	removed, err := pruneDanglingMembers(ctx, r.client, r.prefix+":session:*", r.tokenKey)
	if err != nil {
		return removed, err
	}
	if _, err := pruneDanglingMembers(ctx, r.client, r.prefix+":subject:*", r.tokenKey); err != nil {
		return removed, err
	}
	return removed, nil
}

func (r *RefreshRegistry) unregisterIndexed(ctx context.Context, indexKey string) (int, error) {
	hashes, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers refresh index: %w", err)
	}

	removed := 0
	for _, hash := range hashes {
		deleted, err := r.unregister(ctx, hash)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}
	if err := r.client.Del(ctx, indexKey).Err(); err != nil {
		return removed, fmt.Errorf("redis delete refresh index: %w", err)
	}
	return removed, nil
}

func (r *RefreshRegistry) unregister(ctx context.Context, hash string) (bool, error) {
	data, err := r.client.Get(ctx, r.tokenKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get refresh token: %w", err)
	}

	var record refreshRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return false, fmt.Errorf("decode refresh registration: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		pipe.Del(ctx, r.tokenKey(hash))
		if record.SessionID != "" {
			pipe.SRem(ctx, r.sessionKey(record.SessionID), hash)
		}
		if record.SubjectID != "" {
			pipe.SRem(ctx, r.subjectKey(record.SubjectID), hash)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis unregister refresh token: %w", err)
	}
	return true, nil
}

func (r *RefreshRegistry) tokenKey(hash string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, hash)
}

func (r *RefreshRegistry) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, sessionID)
}

func (r *RefreshRegistry) subjectKey(subjectID string) string {
	return fmt.Sprintf("%s:subject:%s", r.prefix, subjectID)
}

type refreshRecord struct {
	SubjectID string    `json:"subject_id"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

var _ port.RefreshRegistry = (*RefreshRegistry)(nil)
