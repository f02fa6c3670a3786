package redis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
)

const defaultBlacklistSnapshotKey = "sessions:blacklist:snapshot"

// BlacklistSnapshotRepository persists in-memory blacklist snapshots for warm starts.
type BlacklistSnapshotRepository struct {
	client *red.Client
	key    string
	ttl    time.Duration
}

// NewBlacklistSnapshotRepository wires Redis storage for blacklist snapshots.
func NewBlacklistSnapshotRepository(client *red.Client, key string, ttl time.Duration) *BlacklistSnapshotRepository {
	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		trimmedKey = defaultBlacklistSnapshotKey
	}
	return &BlacklistSnapshotRepository{client: client, key: trimmedKey, ttl: ttl}
}

// SaveSnapshot overwrites the stored snapshot. A non-positive TTL keeps it indefinitely.
func (r *BlacklistSnapshotRepository) SaveSnapshot(ctx context.Context, snapshot domain.BlacklistSnapshot) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("snapshot repository not configured")
	}
	if len(snapshot.Payload) == 0 {
		return fmt.Errorf("snapshot payload required")
	}

	data, err := json.Marshal(snapshotEnvelope{
		SnapshotID:  snapshot.SnapshotID,
		GeneratedAt: snapshot.GeneratedAt.UTC(),
		Checksum:    snapshot.Checksum,
		Payload:     base64.StdEncoding.EncodeToString(snapshot.Payload),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot envelope: %w", err)
	}

	if err := r.client.Set(ctx, r.key, data, max(r.ttl, 0)).Err(); err != nil {
		return fmt.Errorf("redis set blacklist snapshot: %w", err)
	}
	return nil
}

// LoadLatestSnapshot returns the stored snapshot, or nil when none exists.
func (r *BlacklistSnapshotRepository) LoadLatestSnapshot(ctx context.Context) (*domain.BlacklistSnapshot, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("snapshot repository not configured")
	}

	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get blacklist snapshot: %w", err)
	}

	var envelope snapshotEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode snapshot envelope: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(envelope.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot payload: %w", err)
	}

	return &domain.BlacklistSnapshot{
		SnapshotID:  envelope.SnapshotID,
		GeneratedAt: envelope.GeneratedAt,
		Payload:     payload,
		Checksum:    envelope.Checksum,
	}, nil
}

type snapshotEnvelope struct {
	SnapshotID  string    `json:"snapshot_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Checksum    string    `json:"checksum"`
	Payload     string    `json:"payload"`
}

var _ port.BlacklistSnapshotStore = (*BlacklistSnapshotRepository)(nil)
