package redis

import (
	"context"
	"testing"
	"time"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

func TestBlacklistSnapshotRepository_SaveAndLoad(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewBlacklistSnapshotRepository(client, "", 10*time.Minute)
	ctx := context.Background()

	latest, err := repo.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot returned error: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no snapshot, got %+v", latest)
	}

	generated := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	snapshot := domain.BlacklistSnapshot{
		SnapshotID:  "snap-1",
		GeneratedAt: generated,
		Payload:     []byte(`{"entries":[]}`),
		Checksum:    "abc",
	}
	if err := repo.SaveSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("SaveSnapshot returned error: %v", err)
	}

	if ttl := server.TTL(defaultBlacklistSnapshotKey); ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("unexpected snapshot ttl %v", ttl)
	}

	loaded, err := repo.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot returned error: %v", err)
	}
	if loaded == nil || loaded.SnapshotID != "snap-1" || string(loaded.Payload) != `{"entries":[]}` || !loaded.GeneratedAt.Equal(generated) {
		t.Fatalf("unexpected snapshot: %+v", loaded)
	}

	if err := repo.SaveSnapshot(ctx, domain.BlacklistSnapshot{SnapshotID: "empty"}); err == nil {
		t.Fatal("expected empty payload to be rejected")
	}
}
