package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/infra/config"
)

const schemaVersion = "1.0"

// AuditPublisher writes audit events and blacklist broadcasts to Kafka.
type AuditPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewAuditPublisher constructs a Kafka-backed audit sink.
func NewAuditPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *AuditPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	SubjectID string           `json:"subject_id,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   json.RawMessage  `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *AuditPublisher) publish(ctx context.Context, eventID, eventType, subjectID, sessionID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if p.appCfg.InstanceID != "" {
		metadata["instance_id"] = p.appCfg.InstanceID
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	bytes, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		SubjectID: subjectID,
		SessionID: sessionID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   body,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(subjectID),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record publishes a session lifecycle event on the topic named after its kind.
func (p *AuditPublisher) Record(ctx context.Context, event domain.AuditEvent) error {
	payload := map[string]any{}
	for k, v := range event.Metadata {
		payload[k] = v
	}
	return p.publish(ctx, event.EventID, event.Kind, event.SubjectID, event.SessionID, event.At, payload)
}

// PublishTokenBlacklisted broadcasts a blacklisting so peers can mirror it.
func (p *AuditPublisher) PublishTokenBlacklisted(ctx context.Context, event domain.TokenBlacklistedEvent) error {
	if event.Origin == "" {
		event.Origin = p.appCfg.InstanceID
	}
	sessionID := ""
	if event.SessionID != nil {
		sessionID = *event.SessionID
	}
	event.ExpiresAt = event.ExpiresAt.UTC()
	event.BlacklistedAt = event.BlacklistedAt.UTC()
	return p.publish(ctx, event.EventID, domain.EventTokenBlacklisted, event.SubjectID, sessionID, event.BlacklistedAt, event)
}

var (
	_ port.AuditSink             = (*AuditPublisher)(nil)
	_ port.RevocationBroadcaster = (*AuditPublisher)(nil)
)
