package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/infra/security"
	"github.com/arklim/academy-sessions/internal/repository"
)

// CreateSession opens a session without issuing tokens.
func (m *SessionManager) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.Session, error) {
	session, _, _, err := m.openSession(ctx, req)
	return session, err
}

// openSession stores a new session, enforcing the per-subject cap, and tracks its device.
func (m *SessionManager) openSession(ctx context.Context, req domain.SessionRequest) (domain.Session, domain.TrackedDevice, bool, error) {
	subjectID := strings.TrimSpace(req.SubjectID)
	if subjectID == "" {
		return domain.Session{}, domain.TrackedDevice{}, false, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}

	fingerprint := strings.TrimSpace(req.DeviceFingerprint)
	if fingerprint == "" {
		fingerprint = security.DeviceFingerprint(req.DeviceInfo, req.UserAgent)
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = m.cfg.DefaultRole
	}
	loginMethod := strings.TrimSpace(req.LoginMethod)
	if loginMethod == "" {
		loginMethod = domain.LoginMethodUnknown
	}
	var permissions []string
	if len(req.Permissions) > 0 {
		permissions = append(permissions, req.Permissions...)
	}

	now := m.now()
	session := domain.Session{
		ID:                uuid.NewString(),
		SubjectID:         subjectID,
		Role:              role,
		Permissions:       permissions,
		DeviceFingerprint: fingerprint,
		DeviceInfo:        req.DeviceInfo,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		LoginMethod:       loginMethod,
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(m.cfg.SessionTTL),
		Active:            true,
	}

	created, evicted, err := m.sessions.Create(ctx, session, m.cfg.MaxSessionsPerSubject)
	if err != nil {
		return domain.Session{}, domain.TrackedDevice{}, false, fmt.Errorf("create session: %w", err)
	}
	m.metrics.IncSessionsCreated()

	for _, old := range evicted {
		m.metrics.IncSessionsEvicted()
		m.metrics.IncSessionsTerminated(domain.TerminationMaxSessionsExceeded)
		m.forgetRefreshTokens(ctx, old.ID)
		m.record(ctx, domain.EventSessionEvicted, old.SubjectID, old.ID, map[string]any{
			"reason":           domain.TerminationMaxSessionsExceeded,
			"last_activity_at": old.LastActivityAt,
			"replaced_by":      created.ID,
		})
	}

	device, isNew, err := m.devices.Track(ctx, subjectID, fingerprint, req.DeviceInfo)
	if err != nil {
		m.logger.Warn("track device", zap.String("subject_id", subjectID), zap.Error(err))
	}

	m.record(ctx, domain.EventSessionCreated, subjectID, created.ID, map[string]any{
		"login_method": loginMethod,
		"platform":     string(req.DeviceInfo.Platform),
		"evicted":      len(evicted),
	})
	if isNew {
		m.record(ctx, domain.EventSessionNewDevice, subjectID, created.ID, map[string]any{
			"device_fingerprint": fingerprint,
			"risk_level":         string(device.RiskLevel),
		})
	}

	return created, device, isNew, nil
}

// GetSession returns a live session. Unknown and expired ids both yield ErrSessionNotFound.
func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionNotFound
	}
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessionsForSubject returns the live sessions of a subject.
func (m *SessionManager) ListSessionsForSubject(ctx context.Context, subjectID string) ([]domain.Session, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	sessions, err := m.sessions.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// TouchSession records activity. It reports false, without error, for missing or terminated sessions.
func (m *SessionManager) TouchSession(ctx context.Context, sessionID string, activity domain.SessionActivity) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, nil
	}
	touched, err := m.sessions.Touch(ctx, sessionID, activity)
	if err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return touched, nil
}

// TerminateSession ends a session and forgets its refresh tokens. Terminating an absent session succeeds.
func (m *SessionManager) TerminateSession(ctx context.Context, sessionID, reason string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(reason) == "" {
		reason = domain.TerminationLogout
	}

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("get session: %w", err)
	}
	subjectID := ""
	if session != nil {
		subjectID = session.SubjectID
	}

	if _, err := m.terminateLocal(ctx, sessionID, subjectID, reason); err != nil {
		return err
	}
	return nil
}

func (m *SessionManager) terminateLocal(ctx context.Context, sessionID, subjectID, reason string) (bool, error) {
	terminated, err := m.sessions.Terminate(ctx, sessionID, reason)
	if err != nil {
		return false, fmt.Errorf("terminate session: %w", err)
	}
	m.forgetRefreshTokens(ctx, sessionID)
	if !terminated {
		return false, nil
	}

	m.metrics.IncSessionsTerminated(reason)
	m.record(ctx, domain.EventSessionTerminated, subjectID, sessionID, map[string]any{"reason": reason})
	return true, nil
}

// terminate is the best-effort variant used from flows that already decided to fail.
func (m *SessionManager) terminate(ctx context.Context, sessionID, subjectID, reason string) {
	if _, err := m.terminateLocal(ctx, sessionID, subjectID, reason); err != nil {
		m.logger.Warn("terminate session", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (m *SessionManager) forgetRefreshTokens(ctx context.Context, sessionID string) {
	if _, err := m.refresh.UnregisterSession(ctx, sessionID); err != nil {
		m.logger.Warn("unregister session refresh tokens", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// TerminateAllSessionsForSubject ends every session of the subject, re-tags its blacklist entries and
// asks the identity provider to revoke the subject globally. The provider call is best effort.
func (m *SessionManager) TerminateAllSessionsForSubject(ctx context.Context, subjectID, reason string) (int, error) {
	ctx, span := m.tracer.Start(ctx, "SessionManager.TerminateAllSessionsForSubject")
	defer span.End()

	if strings.TrimSpace(subjectID) == "" {
		return 0, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(reason) == "" {
		reason = domain.TerminationLogoutAll
	}

	count, err := m.sessions.TerminateAllForSubject(ctx, subjectID, reason)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("terminate sessions: %w", err)
	}
	span.SetAttributes(attribute.Int("sessions.terminated", count))
	for i := 0; i < count; i++ {
		m.metrics.IncSessionsTerminated(reason)
	}

	if _, err := m.refresh.UnregisterSubject(ctx, subjectID); err != nil {
		m.logger.Warn("unregister subject refresh tokens", zap.String("subject_id", subjectID), zap.Error(err))
	}
	if _, err := m.blacklist.BlacklistAllForSubject(ctx, subjectID, reason); err != nil {
		m.logger.Warn("retag subject blacklist entries", zap.String("subject_id", subjectID), zap.Error(err))
	}

	providerRevoked := m.revokeAtProvider(ctx, subjectID)

	m.record(ctx, domain.EventSubjectLoggedOutAll, subjectID, "", map[string]any{
		"reason":           reason,
		"sessions":         count,
		"provider_revoked": providerRevoked,
	})
	return count, nil
}

func (m *SessionManager) revokeAtProvider(ctx context.Context, subjectID string) bool {
	if m.identity == nil {
		return false
	}

	providerCtx, cancel := m.providerContext(ctx)
	defer cancel()

	if err := m.identity.RevokeAllSessionsForSubject(providerCtx, subjectID); err != nil {
		m.logger.Warn("identity provider revocation failed", zap.String("subject_id", subjectID), zap.Error(err))
		m.record(ctx, domain.EventProviderRevokeFailed, subjectID, "", map[string]any{"error": err.Error()})
		return false
	}
	return true
}
