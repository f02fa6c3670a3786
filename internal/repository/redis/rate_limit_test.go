package redis

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitRepository_SlidingWindow(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "rl", TTL: time.Minute})
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := repo.RecordAttempt(ctx, "refresh:10.0.0.1", base.Add(time.Duration(i)*10*time.Second)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	if ttl := server.TTL("rl:refresh:10.0.0.1"); ttl <= 0 {
		t.Fatalf("expected ttl to be applied, got %v", ttl)
	}

	reference := base.Add(65 * time.Second)
	if err := repo.TrimWindow(ctx, "refresh:10.0.0.1", time.Minute, reference); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}

	count, err := repo.CountAttempts(ctx, "refresh:10.0.0.1", time.Minute, reference)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two attempts inside the window, got %d", count)
	}

	oldest, ok, err := repo.OldestAttempt(ctx, "refresh:10.0.0.1", time.Minute, reference)
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if !ok || !oldest.Equal(base.Add(10*time.Second)) {
		t.Fatalf("expected oldest attempt at +10s, got %v (ok=%v)", oldest, ok)
	}

	if _, err := repo.CountAttempts(ctx, "refresh:10.0.0.1", 0, reference); err == nil {
		t.Fatal("expected non-positive window to be rejected")
	}
}
