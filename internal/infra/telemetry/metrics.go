package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/academy-sessions/internal/core/port"
)

// MetricsOptions configures the session core collectors.
type MetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// SessionMetrics exports session core counters to Prometheus.
type SessionMetrics struct {
	tokensIssued       *prometheus.CounterVec
	validations        *prometheus.CounterVec
	blacklisted        *prometheus.CounterVec
	sessionsCreated    prometheus.Counter
	sessionsTerminated *prometheus.CounterVec
	sessionsEvicted    prometheus.Counter
	sweepRemoved       *prometheus.CounterVec
	sweepDuration      prometheus.Histogram
	sweepFailures      *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	replayed           prometheus.Counter
	replaySkipped      prometheus.Counter
	replayLag          prometheus.Histogram
}

// NewSessionMetrics builds and registers the collectors. Already registered collectors are reused.
func NewSessionMetrics(opts MetricsOptions) (*SessionMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "sessions"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &SessionMetrics{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens signed, partitioned by kind.",
		}, []string{"kind"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Token validations, partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),
		blacklisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_blacklisted_total",
			Help:      "Tokens added to the blacklist, partitioned by reason.",
		}, []string{"reason"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		sessionsTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_terminated_total",
			Help:      "Sessions terminated, partitioned by reason.",
		}, []string{"reason"}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions evicted because the subject reached the session cap.",
		}),
		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_removed_total",
			Help:      "Records removed by the expiry sweep, partitioned by component.",
		}, []string{"component"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Expiry sweep failures, partitioned by component.",
		}, []string{"component"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Active sessions observed at the last sweep.",
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_replayed_total",
			Help:      "Peer blacklist events applied locally.",
		}),
		replaySkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_replay_skipped_total",
			Help:      "Peer blacklist events skipped because they were stale or self-originated.",
		}),
		replayLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "revocation_replay_lag_seconds",
			Help:      "Delay between a peer blacklisting and its local replay.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}

	var err error
	if m.tokensIssued, err = registerOrReuse(reg, m.tokensIssued); err != nil {
		return nil, err
	}
	if m.validations, err = registerOrReuse(reg, m.validations); err != nil {
		return nil, err
	}
	if m.blacklisted, err = registerOrReuse(reg, m.blacklisted); err != nil {
		return nil, err
	}
	if m.sessionsCreated, err = registerOrReuse(reg, m.sessionsCreated); err != nil {
		return nil, err
	}
	if m.sessionsTerminated, err = registerOrReuse(reg, m.sessionsTerminated); err != nil {
		return nil, err
	}
	if m.sessionsEvicted, err = registerOrReuse(reg, m.sessionsEvicted); err != nil {
		return nil, err
	}
	if m.sweepRemoved, err = registerOrReuse(reg, m.sweepRemoved); err != nil {
		return nil, err
	}
	if m.sweepDuration, err = registerOrReuse(reg, m.sweepDuration); err != nil {
		return nil, err
	}
	if m.sweepFailures, err = registerOrReuse(reg, m.sweepFailures); err != nil {
		return nil, err
	}
	if m.activeSessions, err = registerOrReuse(reg, m.activeSessions); err != nil {
		return nil, err
	}
	if m.replayed, err = registerOrReuse(reg, m.replayed); err != nil {
		return nil, err
	}
	if m.replaySkipped, err = registerOrReuse(reg, m.replaySkipped); err != nil {
		return nil, err
	}
	if m.replayLag, err = registerOrReuse(reg, m.replayLag); err != nil {
		return nil, err
	}

	return m, nil
}

func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(T)
			if !ok {
				return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
			}
			return existing, nil
		}
		return collector, fmt.Errorf("register collector: %w", err)
	}
	return collector, nil
}

func (m *SessionMetrics) IncTokensIssued(kind string) {
	m.tokensIssued.WithLabelValues(kind).Inc()
}

func (m *SessionMetrics) IncValidation(kind string, outcome string) {
	m.validations.WithLabelValues(kind, outcome).Inc()
}

func (m *SessionMetrics) IncBlacklisted(reason string) {
	m.blacklisted.WithLabelValues(reason).Inc()
}

func (m *SessionMetrics) IncSessionsCreated() {
	m.sessionsCreated.Inc()
}

func (m *SessionMetrics) IncSessionsTerminated(reason string) {
	m.sessionsTerminated.WithLabelValues(reason).Inc()
}

func (m *SessionMetrics) IncSessionsEvicted() {
	m.sessionsEvicted.Inc()
}

// ObserveSweep records per-component removals and the sweep duration.
func (m *SessionMetrics) ObserveSweep(removed map[string]int, duration time.Duration) {
	for component, count := range removed {
		if count > 0 {
			m.sweepRemoved.WithLabelValues(component).Add(float64(count))
		}
	}
	m.sweepDuration.Observe(duration.Seconds())
}

func (m *SessionMetrics) IncSweepFailure(component string) {
	m.sweepFailures.WithLabelValues(component).Inc()
}

func (m *SessionMetrics) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

func (m *SessionMetrics) IncReplayed() {
	m.replayed.Inc()
}

func (m *SessionMetrics) IncSkipped() {
	m.replaySkipped.Inc()
}

func (m *SessionMetrics) ObserveLag(duration time.Duration) {
	m.replayLag.Observe(duration.Seconds())
}

var (
	_ port.SessionMetrics          = (*SessionMetrics)(nil)
	_ port.RevocationReplayMetrics = (*SessionMetrics)(nil)
)
