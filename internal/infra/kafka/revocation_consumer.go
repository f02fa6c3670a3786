package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/infra/logger"
)

// RevocationConsumerOptions controls snapshot cadence and lag monitoring.
type RevocationConsumerOptions struct {
	InstanceID       string
	SnapshotInterval time.Duration
	MaxEventLag      time.Duration
}

// RevocationConsumer mirrors blacklistings made by peer instances into the local blacklist.
type RevocationConsumer struct {
	store            port.RevocationStore
	snapshotter      port.BlacklistSnapshotter
	snapshots        port.BlacklistSnapshotStore
	metrics          port.RevocationReplayMetrics
	logger           *zap.Logger
	instanceID       string
	snapshotInterval time.Duration
	maxEventLag      time.Duration
	lastSnapshot     time.Time
	now              func() time.Time
}

// NewRevocationConsumer builds a consumer. snapshotter and snapshots may be nil to disable persistence.
func NewRevocationConsumer(store port.RevocationStore, snapshotter port.BlacklistSnapshotter, snapshots port.BlacklistSnapshotStore, metrics port.RevocationReplayMetrics, log *zap.Logger, opts RevocationConsumerOptions) *RevocationConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	consumer := &RevocationConsumer{
		store:            store,
		snapshotter:      snapshotter,
		snapshots:        snapshots,
		metrics:          metrics,
		logger:           log,
		instanceID:       opts.InstanceID,
		snapshotInterval: opts.SnapshotInterval,
		maxEventLag:      opts.MaxEventLag,
		now:              func() time.Time { return time.Now().UTC() },
	}
	if consumer.snapshotInterval <= 0 {
		consumer.snapshotInterval = 30 * time.Second
	}
	return consumer
}

// WithClock overrides the consumer clock for deterministic testing.
func (c *RevocationConsumer) WithClock(clock func() time.Time) *RevocationConsumer {
	if clock != nil {
		c.now = clock
	}
	return c
}

// HandleMessage decodes an envelope carrying a TokenBlacklistedEvent.
func (c *RevocationConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return errors.New("message is nil")
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}
	if envelope.EventType != domain.EventTokenBlacklisted {
		return nil
	}

	var event domain.TokenBlacklistedEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return fmt.Errorf("decode token blacklisted event: %w", err)
	}
	if event.EventID == "" {
		event.EventID = envelope.EventID
	}

	return c.HandleEvent(ctx, event)
}

// HandleEvent applies a peer blacklisting and persists a snapshot when the interval has elapsed.
// Self-originated events and events for tokens that already expired are skipped.
func (c *RevocationConsumer) HandleEvent(ctx context.Context, event domain.TokenBlacklistedEvent) error {
	if c.store == nil {
		return nil
	}

	now := c.now()
	if event.TokenHash == "" || event.ExpiresAt.IsZero() {
		c.skip("malformed", event)
		return nil
	}
	if c.instanceID != "" && event.Origin == c.instanceID {
		c.skip("self", event)
		return nil
	}
	if !event.ExpiresAt.After(now) {
		c.skip("expired", event)
		return nil
	}

	if !event.BlacklistedAt.IsZero() {
		lag := now.Sub(event.BlacklistedAt)
		if lag < 0 {
			lag = 0
		}
		if c.metrics != nil {
			c.metrics.ObserveLag(lag)
		}
		if c.maxEventLag > 0 && lag > c.maxEventLag {
			c.logger.Warn("blacklist event lag exceeds threshold",
				zap.Duration("lag", lag),
				zap.Duration("threshold", c.maxEventLag),
				zap.String("token_hash", logger.MaskTokenHash(event.TokenHash)),
			)
		}
	}

	blacklistedAt := event.BlacklistedAt.UTC()
	if blacklistedAt.IsZero() {
		blacklistedAt = now
	}
	entry := domain.BlacklistEntry{
		TokenHash:     event.TokenHash,
		SubjectID:     event.SubjectID,
		BlacklistedAt: blacklistedAt,
		ExpiresAt:     event.ExpiresAt.UTC(),
		Reason:        event.Reason,
		SessionID:     event.SessionID,
	}
	if err := c.store.Blacklist(ctx, entry); err != nil {
		return fmt.Errorf("replay blacklist entry: %w", err)
	}
	if c.metrics != nil {
		c.metrics.IncReplayed()
	}

	if c.snapshotter != nil && c.snapshots != nil && c.shouldPersist(now) {
		snapshot, err := c.snapshotter.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapshot blacklist: %w", err)
		}
		if snapshot != nil {
			if err := c.snapshots.SaveSnapshot(ctx, *snapshot); err != nil {
				return fmt.Errorf("save blacklist snapshot: %w", err)
			}
		}
		c.lastSnapshot = now
	}

	return nil
}

func (c *RevocationConsumer) skip(why string, event domain.TokenBlacklistedEvent) {
	c.logger.Debug("skip blacklist event",
		zap.String("why", why),
		zap.String("event_id", event.EventID),
	)
	if c.metrics != nil {
		c.metrics.IncSkipped()
	}
}

func (c *RevocationConsumer) shouldPersist(now time.Time) bool {
	if c.lastSnapshot.IsZero() {
		return true
	}
	return now.Sub(c.lastSnapshot) >= c.snapshotInterval
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *RevocationConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *RevocationConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler. Undecodable messages are logged and committed.
func (c *RevocationConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Warn("blacklist replay failed",
					zap.Error(err),
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// ConsumerGroup runs a RevocationConsumer against a Sarama consumer group.
type ConsumerGroup struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler sarama.ConsumerGroupHandler
	logger  *zap.Logger
}

// NewRevocationConsumerGroup joins groupID on the blacklist topic. Every instance must use its own
// group id so each one receives every event.
func NewRevocationConsumerGroup(brokers []string, groupID, topicPrefix string, handler *RevocationConsumer, log *zap.Logger) (*ConsumerGroup, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(groupID) == "" {
		return nil, errors.New("consumer group id is required")
	}

	group, err := sarama.NewConsumerGroup(brokers, groupID, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &ConsumerGroup{
		group:   group,
		topics:  []string{topicName(topicPrefix, domain.EventTokenBlacklisted)},
		handler: handler,
		logger:  log,
	}, nil
}

// Run consumes until ctx is cancelled or the group is closed.
func (g *ConsumerGroup) Run(ctx context.Context) error {
	go func() {
		for err := range g.group.Errors() {
			g.logger.Warn("kafka consumer group error", zap.Error(err))
		}
	}()

	g.logger.Info("revocation consumer started", zap.Strings("topics", g.topics))
	for {
		if err := g.group.Consume(ctx, g.topics, g.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume blacklist events: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the group.
func (g *ConsumerGroup) Close() error {
	if err := g.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}

var _ sarama.ConsumerGroupHandler = (*RevocationConsumer)(nil)
