package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/repository/memory"
)

func TestRevocationConsumerHandleEvent(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	blacklist := memory.NewBlacklist(memory.BlacklistOptions{}).WithClock(func() time.Time { return base })
	store := &stubSnapshotStore{}
	metrics := &stubReplayMetrics{}

	consumer := NewRevocationConsumer(blacklist, blacklist, store, metrics, zap.NewNop(), RevocationConsumerOptions{
		InstanceID:       "node-b",
		SnapshotInterval: time.Second,
	})
	consumer.WithClock(func() time.Time { return base })

	event := domain.TokenBlacklistedEvent{
		EventID:       "evt-1",
		TokenHash:     "hash-consumer",
		SubjectID:     "subject-1",
		Reason:        "logout",
		ExpiresAt:     base.Add(10 * time.Minute),
		BlacklistedAt: base.Add(-250 * time.Millisecond),
		Origin:        "node-a",
	}

	if err := consumer.HandleEvent(ctx, event); err != nil {
		t.Fatalf("HandleEvent returned error: %v", err)
	}

	blocked, err := blacklist.IsBlacklisted(ctx, event.TokenHash)
	if err != nil {
		t.Fatalf("IsBlacklisted returned error: %v", err)
	}
	if !blocked {
		t.Fatalf("expected replayed token to be blacklisted")
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected snapshot to be persisted, got %d", len(store.saved))
	}
	if len(metrics.lags) != 1 || metrics.lags[0] != 250*time.Millisecond {
		t.Fatalf("expected a single 250ms lag observation, got %v", metrics.lags)
	}
	if metrics.replayed != 1 {
		t.Fatalf("expected one replayed event, got %d", metrics.replayed)
	}

	// Inside the snapshot interval nothing new is persisted.
	consumer.WithClock(func() time.Time { return base.Add(500 * time.Millisecond) })
	if err := consumer.HandleEvent(ctx, event); err != nil {
		t.Fatalf("HandleEvent inside interval returned error: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected snapshot count to remain 1, got %d", len(store.saved))
	}

	consumer.WithClock(func() time.Time { return base.Add(2 * time.Second) })
	if err := consumer.HandleEvent(ctx, event); err != nil {
		t.Fatalf("HandleEvent beyond interval returned error: %v", err)
	}
	if len(store.saved) != 2 {
		t.Fatalf("expected snapshot to be saved twice, got %d", len(store.saved))
	}
}

func TestRevocationConsumerSkipsStaleAndMalformedEvents(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	recorder := &recordingStore{}
	metrics := &stubReplayMetrics{}
	consumer := NewRevocationConsumer(recorder, nil, nil, metrics, zap.NewNop(), RevocationConsumerOptions{InstanceID: "node-b"}).
		WithClock(func() time.Time { return base })

	events := []domain.TokenBlacklistedEvent{
		{EventID: "expired", TokenHash: "h1", ExpiresAt: base},
		{EventID: "no-hash", ExpiresAt: base.Add(time.Hour)},
		{EventID: "no-expiry", TokenHash: "h3"},
		{EventID: "self", TokenHash: "h4", ExpiresAt: base.Add(time.Hour), Origin: "node-b"},
	}
	for _, event := range events {
		if err := consumer.HandleEvent(ctx, event); err != nil {
			t.Fatalf("HandleEvent(%s) returned error: %v", event.EventID, err)
		}
	}

	if len(recorder.entries) != 0 {
		t.Fatalf("expected no entries to be replayed, got %d", len(recorder.entries))
	}
	if metrics.skipped != len(events) {
		t.Fatalf("expected %d skipped events, got %d", len(events), metrics.skipped)
	}
}

func TestRevocationConsumerIgnoresOtherEventTypes(t *testing.T) {
	recorder := &recordingStore{}
	consumer := NewRevocationConsumer(recorder, nil, nil, nil, zap.NewNop(), RevocationConsumerOptions{})

	value := []byte(`{"event_id":"e","event_type":"session.created","payload":{}}`)
	if err := consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: value}); err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if len(recorder.entries) != 0 {
		t.Fatalf("expected other event types to be ignored")
	}

	if err := consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")}); err == nil {
		t.Fatalf("expected decode error for malformed message")
	}
}

type recordingStore struct {
	entries []domain.BlacklistEntry
}

func (s *recordingStore) Blacklist(_ context.Context, entry domain.BlacklistEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingStore) IsBlacklisted(context.Context, string) (bool, error) { return false, nil }

func (s *recordingStore) SweepExpired(context.Context) (int, error) { return 0, nil }

func (s *recordingStore) BlacklistAllForSubject(context.Context, string, string) (int, error) {
	return 0, nil
}

func (s *recordingStore) Count(context.Context) (int, error) { return len(s.entries), nil }

type stubSnapshotStore struct {
	saved []domain.BlacklistSnapshot
}

func (s *stubSnapshotStore) SaveSnapshot(_ context.Context, snapshot domain.BlacklistSnapshot) error {
	s.saved = append(s.saved, snapshot)
	return nil
}

func (s *stubSnapshotStore) LoadLatestSnapshot(context.Context) (*domain.BlacklistSnapshot, error) {
	return nil, nil
}

type stubReplayMetrics struct {
	lags     []time.Duration
	replayed int
	skipped  int
}

func (s *stubReplayMetrics) IncReplayed() { s.replayed++ }
func (s *stubReplayMetrics) IncSkipped()  { s.skipped++ }
func (s *stubReplayMetrics) ObserveLag(d time.Duration) {
	s.lags = append(s.lags, d)
}
