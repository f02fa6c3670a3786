package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sweep component names reported to metrics.
const (
	sweepBlacklist = "blacklist"
	sweepRefresh   = "refresh_registry"
	sweepSessions  = "sessions"
)

var errSweepRunning = errors.New("session manager: sweep already running")

// Start launches the periodic sweep. It returns an error when the sweep is already running.
func (m *SessionManager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.stopSweep != nil {
		return errSweepRunning
	}

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.stopSweep = cancel
	m.sweepDone = done

	go m.sweepLoop(sweepCtx, done)

	m.logger.Info("session sweep started", zap.Duration("interval", m.cfg.CleanupInterval))
	return nil
}

// Shutdown stops the periodic sweep and waits for an in-flight pass, bounded by ctx.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.lifecycleMu.Lock()
	cancel, done := m.stopSweep, m.sweepDone
	m.stopSweep, m.sweepDone = nil, nil
	m.lifecycleMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		m.logger.Info("session sweep stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for session sweep: %w", ctx.Err())
	}
}

func (m *SessionManager) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep removes expired blacklist entries, refresh registrations and sessions.
// Failures are logged per component and never stop the pass.
func (m *SessionManager) Sweep(ctx context.Context) map[string]int {
	start := time.Now()
	removed := make(map[string]int, 3)

	m.sweepComponent(ctx, sweepBlacklist, m.blacklist.SweepExpired, removed)
	m.sweepComponent(ctx, sweepRefresh, m.refresh.SweepExpired, removed)
	m.sweepComponent(ctx, sweepSessions, m.sessions.SweepExpired, removed)

	if active, err := m.sessions.CountActive(ctx); err != nil {
		m.logger.Warn("count active sessions", zap.Error(err))
	} else {
		m.metrics.SetActiveSessions(active)
	}

	duration := time.Since(start)
	m.metrics.ObserveSweep(removed, duration)
	m.logger.Debug("sweep completed",
		zap.Int("blacklist_removed", removed[sweepBlacklist]),
		zap.Int("refresh_removed", removed[sweepRefresh]),
		zap.Int("sessions_removed", removed[sweepSessions]),
		zap.Duration("duration", duration),
	)
	return removed
}

func (m *SessionManager) sweepComponent(ctx context.Context, component string, sweep func(context.Context) (int, error), removed map[string]int) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.IncSweepFailure(component)
			m.logger.Error("sweep panicked", zap.String("component", component), zap.Any("panic", r))
		}
	}()

	count, err := sweep(ctx)
	if err != nil {
		m.metrics.IncSweepFailure(component)
		m.logger.Warn("sweep failed", zap.String("component", component), zap.Error(err))
		return
	}
	removed[component] = count
}
