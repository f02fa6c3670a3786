package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
)

const (
	tracerName = "github.com/arklim/academy-sessions/internal/usecase"

	defaultRole            = "user"
	defaultSessionTTL      = 7 * 24 * time.Hour
	defaultMaxSessions     = 5
	defaultCleanupInterval = 5 * time.Minute
	defaultProviderTimeout = 3 * time.Second
)

// SessionManagerConfig tunes session lifetimes and maintenance.
// ProviderTimeout bounds every call to the identity provider.
type SessionManagerConfig struct {
	SessionTTL            time.Duration
	MaxSessionsPerSubject int
	CleanupInterval       time.Duration
	ProviderTimeout       time.Duration
	RequireVerifiedEmail  bool
	DefaultRole           string
}

// SessionManagerDeps lists the collaborators of the manager. Codec and the four stores are required.
type SessionManagerDeps struct {
	Codec       port.TokenCodec
	Blacklist   port.RevocationStore
	Refresh     port.RefreshRegistry
	Sessions    port.SessionStore
	Devices     port.DeviceTracker
	Verifier    port.IdentityVerifier
	Identity    port.IdentityAdmin
	Audit       port.AuditSink
	Broadcaster port.RevocationBroadcaster
	Metrics     port.SessionMetrics
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// SessionManager owns the session lifecycle: issuance, validation, rotation, revocation and expiry.
type SessionManager struct {
	cfg         SessionManagerConfig
	codec       port.TokenCodec
	blacklist   port.RevocationStore
	refresh     port.RefreshRegistry
	sessions    port.SessionStore
	devices     port.DeviceTracker
	verifier    port.IdentityVerifier
	identity    port.IdentityAdmin
	audit       port.AuditSink
	broadcaster port.RevocationBroadcaster
	metrics     port.SessionMetrics
	tracer      trace.Tracer
	logger      *zap.Logger
	now         func() time.Time

	// rotating holds refresh token hashes with a rotation in flight.
	rotating sync.Map

	lifecycleMu sync.Mutex
	stopSweep   context.CancelFunc
	sweepDone   chan struct{}
}

// NewSessionManager validates dependencies and applies defaults.
func NewSessionManager(cfg SessionManagerConfig, deps SessionManagerDeps) (*SessionManager, error) {
	switch {
	case deps.Codec == nil:
		return nil, errors.New("session manager: token codec is required")
	case deps.Blacklist == nil:
		return nil, errors.New("session manager: revocation store is required")
	case deps.Refresh == nil:
		return nil, errors.New("session manager: refresh registry is required")
	case deps.Sessions == nil:
		return nil, errors.New("session manager: session store is required")
	case deps.Devices == nil:
		return nil, errors.New("session manager: device tracker is required")
	}

	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.MaxSessionsPerSubject < 1 {
		cfg.MaxSessionsPerSubject = defaultMaxSessions
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = defaultRole
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &SessionManager{
		cfg:         cfg,
		codec:       deps.Codec,
		blacklist:   deps.Blacklist,
		refresh:     deps.Refresh,
		sessions:    deps.Sessions,
		devices:     deps.Devices,
		verifier:    deps.Verifier,
		identity:    deps.Identity,
		audit:       deps.Audit,
		broadcaster: deps.Broadcaster,
		metrics:     metrics,
		tracer:      tracer,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the manager clock for deterministic tests.
func (m *SessionManager) WithClock(clock func() time.Time) *SessionManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// Config reports the effective configuration after defaults.
func (m *SessionManager) Config() SessionManagerConfig {
	return m.cfg
}

// record hands an event to the audit sink. Failures are logged and dropped.
func (m *SessionManager) record(ctx context.Context, kind, subjectID, sessionID string, metadata map[string]any) {
	if m.audit == nil {
		return
	}
	event := domain.AuditEvent{
		EventID:   uuid.NewString(),
		Kind:      kind,
		SubjectID: subjectID,
		SessionID: sessionID,
		At:        m.now(),
		Metadata:  metadata,
	}
	if err := m.audit.Record(ctx, event); err != nil {
		m.logger.Warn("audit sink rejected event",
			zap.String("kind", kind),
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
	}
}

// providerContext bounds an identity provider call.
func (m *SessionManager) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.ProviderTimeout)
}

type noopMetrics struct{}

func (noopMetrics) IncTokensIssued(string) {}
func (noopMetrics) IncValidation(string, string) {}
func (noopMetrics) IncBlacklisted(string) {}
func (noopMetrics) IncSessionsCreated() {}
func (noopMetrics) IncSessionsTerminated(string) {}
func (noopMetrics) IncSessionsEvicted() {}
func (noopMetrics) ObserveSweep(map[string]int, time.Duration) {}
func (noopMetrics) IncSweepFailure(string) {}
func (noopMetrics) SetActiveSessions(int) {}
