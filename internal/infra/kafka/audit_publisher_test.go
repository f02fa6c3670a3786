package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/infra/config"
)

func newTestPublisher(t *testing.T, instanceID string) (*AuditPublisher, *fakeAsyncProducer) {
	t.Helper()
	asyncProducer := newFakeAsyncProducer()
	producer := newProducer(asyncProducer, config.KafkaSettings{TopicPrefix: "academy"}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = producer.Close() })

	publisher := NewAuditPublisher(producer, config.AppSettings{
		Name:       "academy-sessions",
		Env:        "test",
		InstanceID: instanceID,
	}, zaptest.NewLogger(t))
	return publisher, asyncProducer
}

func receive(t *testing.T, producer *fakeAsyncProducer) *sarama.ProducerMessage {
	t.Helper()
	select {
	case msg := <-producer.input:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
		return nil
	}
}

func TestAuditPublisherRecord(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t, "node-a")

	at := time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)
	event := domain.AuditEvent{
		EventID:   "evt-1",
		Kind:      domain.EventSessionCreated,
		SubjectID: "u1",
		SessionID: "s1",
		At:        at,
		Metadata:  map[string]any{"login_method": "password"},
	}
	if err := publisher.Record(context.Background(), event); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	msg := receive(t, asyncProducer)
	if msg.Topic != "academy.session.created" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}

	bytes, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("Value.Encode returned error: %v", err)
	}
	var envelope map[string]any
	if err := json.Unmarshal(bytes, &envelope); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v", err)
	}

	if envelope["event_id"] != "evt-1" || envelope["event_type"] != domain.EventSessionCreated {
		t.Fatalf("unexpected envelope header: %v", envelope)
	}
	if envelope["subject_id"] != "u1" || envelope["session_id"] != "s1" {
		t.Fatalf("unexpected envelope subject/session: %v", envelope)
	}
	if envelope["timestamp"] != at.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %v", envelope["timestamp"])
	}
	payload, ok := envelope["payload"].(map[string]any)
	if !ok || payload["login_method"] != "password" {
		t.Fatalf("unexpected payload: %v", envelope["payload"])
	}
	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok || metadata["service"] != "academy-sessions" || metadata["instance_id"] != "node-a" {
		t.Fatalf("unexpected metadata: %v", envelope["metadata"])
	}
}

func TestAuditPublisherRecordRespectsCancelledContext(t *testing.T) {
	asyncProducer := &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage),
		errors: make(chan *sarama.ProducerError),
	}
	producer := newProducer(asyncProducer, config.KafkaSettings{}, zaptest.NewLogger(t))
	defer producer.Close()
	publisher := NewAuditPublisher(producer, config.AppSettings{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := publisher.Record(ctx, domain.AuditEvent{Kind: domain.EventSessionTerminated}); err == nil {
		t.Fatalf("expected context error when producer input blocks")
	}
}

func TestBlacklistBroadcastReplaysOnPeer(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t, "node-a")

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sid := "s1"
	if err := publisher.PublishTokenBlacklisted(context.Background(), domain.TokenBlacklistedEvent{
		EventID:       "evt-bl",
		TokenHash:     "hash-1",
		SubjectID:     "u1",
		SessionID:     &sid,
		Reason:        "logout",
		ExpiresAt:     now.Add(time.Hour),
		BlacklistedAt: now,
	}); err != nil {
		t.Fatalf("PublishTokenBlacklisted returned error: %v", err)
	}

	msg := receive(t, asyncProducer)
	if msg.Topic != "academy.session.token.blacklisted" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	value, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("Value.Encode returned error: %v", err)
	}

	peerStore := &recordingStore{}
	peer := NewRevocationConsumer(peerStore, nil, nil, nil, zaptest.NewLogger(t), RevocationConsumerOptions{InstanceID: "node-b"}).
		WithClock(func() time.Time { return now.Add(time.Second) })
	if err := peer.HandleMessage(context.Background(), &sarama.ConsumerMessage{Topic: msg.Topic, Value: value}); err != nil {
		t.Fatalf("peer HandleMessage returned error: %v", err)
	}
	if len(peerStore.entries) != 1 || peerStore.entries[0].TokenHash != "hash-1" {
		t.Fatalf("expected peer to replay the entry, got %+v", peerStore.entries)
	}
	if got := peerStore.entries[0].SessionID; got == nil || *got != "s1" {
		t.Fatalf("expected session id to survive the broadcast, got %v", got)
	}

	self := NewRevocationConsumer(&recordingStore{}, nil, nil, nil, zaptest.NewLogger(t), RevocationConsumerOptions{InstanceID: "node-a"}).
		WithClock(func() time.Time { return now.Add(time.Second) })
	selfStore := self.store.(*recordingStore)
	if err := self.HandleMessage(context.Background(), &sarama.ConsumerMessage{Topic: msg.Topic, Value: value}); err != nil {
		t.Fatalf("self HandleMessage returned error: %v", err)
	}
	if len(selfStore.entries) != 0 {
		t.Fatalf("expected self-originated event to be skipped")
	}
}
