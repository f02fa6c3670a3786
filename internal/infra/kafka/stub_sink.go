package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
)

// StubAuditSink logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubAuditSink struct {
	logger *zap.Logger
}

func NewStubAuditSink(logger *zap.Logger) *StubAuditSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubAuditSink{logger: logger}
}

func (s *StubAuditSink) Record(_ context.Context, event domain.AuditEvent) error {
	s.logger.Info("audit event",
		zap.String("event_type", event.Kind),
		zap.String("subject_id", event.SubjectID),
		zap.String("session_id", event.SessionID),
		zap.Time("timestamp", event.At.UTC()),
		zap.Any("metadata", event.Metadata),
	)
	return nil
}

func (s *StubAuditSink) PublishTokenBlacklisted(_ context.Context, event domain.TokenBlacklistedEvent) error {
	s.logger.Debug("blacklist broadcast skipped, no brokers configured",
		zap.String("subject_id", event.SubjectID),
		zap.String("reason", event.Reason),
	)
	return nil
}

var (
	_ port.AuditSink             = (*StubAuditSink)(nil)
	_ port.RevocationBroadcaster = (*StubAuditSink)(nil)
)
