package memory

import (
	"context"
	"testing"
	"time"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

func TestRefreshRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	registry := NewRefreshRegistry().WithClock(func() time.Time { return now })

	registrations := []domain.RefreshRegistration{
		{TokenHash: "r1", SubjectID: "u1", SessionID: "s1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
		{TokenHash: "r2", SubjectID: "u1", SessionID: "s2", IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
		{TokenHash: "r3", SubjectID: "u2", SessionID: "s3", IssuedAt: now, ExpiresAt: now.Add(time.Minute)},
	}
	for _, registration := range registrations {
		if err := registry.Register(ctx, registration); err != nil {
			t.Fatalf("Register returned error: %v", err)
		}
	}

	if ok, _ := registry.IsRegistered(ctx, "r1"); !ok {
		t.Fatal("expected r1 to be registered")
	}
	if ok, _ := registry.IsRegistered(ctx, "unknown"); ok {
		t.Fatal("expected unknown hash to be unregistered")
	}

	if err := registry.Unregister(ctx, "r1"); err != nil {
		t.Fatalf("Unregister returned error: %v", err)
	}
	if ok, _ := registry.IsRegistered(ctx, "r1"); ok {
		t.Fatal("expected r1 to be gone after Unregister")
	}

	removed, err := registry.UnregisterSubject(ctx, "u1")
	if err != nil {
		t.Fatalf("UnregisterSubject returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one remaining registration for u1, got %d", removed)
	}

	now = now.Add(2 * time.Minute)
	swept, err := registry.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired returned error: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected one expired registration swept, got %d", swept)
	}
}

func TestRefreshRegistryUnregisterSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	registry := NewRefreshRegistry().WithClock(func() time.Time { return now })

	_ = registry.Register(ctx, domain.RefreshRegistration{TokenHash: "r1", SubjectID: "u1", SessionID: "s1", ExpiresAt: now.Add(time.Hour)})
	_ = registry.Register(ctx, domain.RefreshRegistration{TokenHash: "r2", SubjectID: "u1", SessionID: "s2", ExpiresAt: now.Add(time.Hour)})

	removed, err := registry.UnregisterSession(ctx, "s1")
	if err != nil {
		t.Fatalf("UnregisterSession returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one registration removed, got %d", removed)
	}
	if ok, _ := registry.IsRegistered(ctx, "r2"); !ok {
		t.Fatal("expected other session's registration to survive")
	}

	now = now.Add(2 * time.Hour)
	if ok, _ := registry.IsRegistered(ctx, "r2"); ok {
		t.Fatal("expected expired registration to be dropped on lookup")
	}
}
