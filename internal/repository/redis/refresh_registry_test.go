package redis

import (
	"context"
	"testing"
	"time"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

func TestRefreshRegistry_RegisterAndUnregister(t *testing.T) {
	client, server := newTestRedis(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	registry := NewRefreshRegistry(client, "rt").WithClock(func() time.Time { return now })
	ctx := context.Background()

	for _, reg := range []domain.RefreshRegistration{
		{TokenHash: "r1", SubjectID: "u1", SessionID: "s1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
		{TokenHash: "r2", SubjectID: "u1", SessionID: "s2", IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
	} {
		if err := registry.Register(ctx, reg); err != nil {
			t.Fatalf("Register returned error: %v", err)
		}
	}

	if ok, _ := registry.IsRegistered(ctx, "r1"); !ok {
		t.Fatal("expected r1 to be registered")
	}

	removed, err := registry.UnregisterSession(ctx, "s1")
	if err != nil {
		t.Fatalf("UnregisterSession returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one registration removed, got %d", removed)
	}
	if ok, _ := registry.IsRegistered(ctx, "r1"); ok {
		t.Fatal("expected r1 to be gone")
	}
	if ok, _ := server.SIsMember("rt:subject:u1", "r1"); ok {
		t.Fatal("expected subject index to drop r1")
	}

	if err := registry.Unregister(ctx, "r2"); err != nil {
		t.Fatalf("Unregister returned error: %v", err)
	}
	if ok, _ := registry.IsRegistered(ctx, "r2"); ok {
		t.Fatal("expected r2 to be gone")
	}
}

func TestRefreshRegistry_ExpiryAndSweep(t *testing.T) {
	client, server := newTestRedis(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	registry := NewRefreshRegistry(client, "rt").WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := registry.Register(ctx, domain.RefreshRegistration{TokenHash: "r1", SubjectID: "u1", SessionID: "s1", ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := registry.Register(ctx, domain.RefreshRegistration{TokenHash: "late", ExpiresAt: now.Add(-time.Second)}); err == nil {
		t.Fatal("expected expired registration to be rejected")
	}

	server.FastForward(2 * time.Minute)
	if ok, _ := registry.IsRegistered(ctx, "r1"); ok {
		t.Fatal("expected registration to expire with its token")
	}

	swept, err := registry.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired returned error: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected one dangling registration swept, got %d", swept)
	}

	if removed, _ := registry.UnregisterSubject(ctx, "u1"); removed != 0 {
		t.Fatalf("expected nothing left to unregister, got %d", removed)
	}
}
