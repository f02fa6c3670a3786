package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/infra/security"
)

func TestNewSessionManagerRequiresDependencies(t *testing.T) {
	if _, err := NewSessionManager(SessionManagerConfig{}, SessionManagerDeps{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}

	h := newHarness(t, func(cfg *SessionManagerConfig, _ *SessionManagerDeps) {
		*cfg = SessionManagerConfig{}
	})
	cfg := h.manager.Config()
	if cfg.SessionTTL != defaultSessionTTL || cfg.MaxSessionsPerSubject != defaultMaxSessions || cfg.DefaultRole != defaultRole {
		t.Fatalf("expected defaults to be applied, got %+v", cfg)
	}
}

func TestSessionCapEvictsLeastRecentlyActive(t *testing.T) {
	h := newHarness(t, func(cfg *SessionManagerConfig, _ *SessionManagerDeps) {
		cfg.MaxSessionsPerSubject = 2
	})
	ctx := context.Background()

	first := h.issue(t, webRequest("u-1"))
	h.clock.Advance(time.Minute)
	second := h.issue(t, webRequest("u-1"))
	h.clock.Advance(time.Minute)

	if touched, err := h.manager.TouchSession(ctx, first.Session.ID, domain.SessionActivity{}); err != nil || !touched {
		t.Fatalf("TouchSession returned %v, %v", touched, err)
	}
	h.clock.Advance(time.Minute)
	third := h.issue(t, webRequest("u-1"))

	sessions, err := h.manager.ListSessionsForSubject(ctx, "u-1")
	if err != nil {
		t.Fatalf("ListSessionsForSubject returned error: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != first.Session.ID || sessions[1].ID != third.Session.ID {
		t.Fatalf("expected first and third sessions to survive, got %+v", sessions)
	}

	if _, err := h.manager.GetSession(ctx, second.Session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected evicted session to be gone, got %v", err)
	}
	if _, err := h.manager.RefreshTokenPair(ctx, second.RefreshToken, domain.SessionActivity{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected evicted session's refresh token to be rejected, got %v", err)
	}

	evicted := h.audit.kinds(domain.EventSessionEvicted)
	if len(evicted) != 1 || evicted[0].SessionID != second.Session.ID {
		t.Fatalf("expected one eviction event for the second session, got %+v", evicted)
	}
	if h.metrics.evicted != 1 || h.metrics.terminated[domain.TerminationMaxSessionsExceeded] != 1 {
		t.Fatalf("unexpected eviction metrics: evicted=%d terminated=%v", h.metrics.evicted, h.metrics.terminated)
	}
}

func TestGetSessionUnknownAndExpiredLookAlike(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	issued := h.issue(t, webRequest("u-1"))

	if _, err := h.manager.GetSession(ctx, "never-issued"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for unknown id, got %v", err)
	}

	h.clock.Advance(2 * time.Hour)
	if _, err := h.manager.GetSession(ctx, issued.Session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for expired id, got %v", err)
	}
}

func TestTouchSessionDoesNotResurrect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	issued := h.issue(t, webRequest("u-1"))

	h.clock.Advance(time.Minute)
	touched, err := h.manager.TouchSession(ctx, issued.Session.ID, domain.SessionActivity{IPAddress: "10.9.9.9"})
	if err != nil || !touched {
		t.Fatalf("TouchSession returned %v, %v", touched, err)
	}
	session, _ := h.manager.GetSession(ctx, issued.Session.ID)
	if session.IPAddress != "10.9.9.9" || session.ActivityCount != 1 {
		t.Fatalf("unexpected session after touch: %+v", session)
	}

	if err := h.manager.TerminateSession(ctx, issued.Session.ID, domain.TerminationAdmin); err != nil {
		t.Fatalf("TerminateSession returned error: %v", err)
	}
	touched, err = h.manager.TouchSession(ctx, issued.Session.ID, domain.SessionActivity{})
	if err != nil || touched {
		t.Fatalf("expected touch after termination to be a no-op, got %v, %v", touched, err)
	}
	if _, err := h.manager.GetSession(ctx, issued.Session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected terminated session to stay gone, got %v", err)
	}
}

func TestTerminateSessionIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	issued := h.issue(t, webRequest("u-1"))

	for i := 0; i < 2; i++ {
		if err := h.manager.TerminateSession(ctx, issued.Session.ID, ""); err != nil {
			t.Fatalf("TerminateSession #%d returned error: %v", i+1, err)
		}
	}
	if err := h.manager.TerminateSession(ctx, "never-issued", ""); err != nil {
		t.Fatalf("terminating an unknown session should succeed, got %v", err)
	}
	if err := h.manager.TerminateSession(ctx, " ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank id, got %v", err)
	}

	events := h.audit.kinds(domain.EventSessionTerminated)
	if len(events) != 1 || events[0].Metadata["reason"] != domain.TerminationLogout || events[0].SubjectID != "u-1" {
		t.Fatalf("expected a single logout termination event, got %+v", events)
	}
}

func TestTerminateAllSessionsForSubject(t *testing.T) {
	identity := &fakeIdentity{revokeErr: errors.New("provider timeout")}
	h := newHarness(t, func(_ *SessionManagerConfig, deps *SessionManagerDeps) {
		deps.Identity = identity
	})
	ctx := context.Background()

	first := h.issue(t, webRequest("u-1"))
	h.issue(t, webRequest("u-1"))
	h.issue(t, webRequest("u-1"))
	other := h.issue(t, webRequest("u-2"))

	h.manager.BlacklistTokenPair(ctx, first.AccessToken, "", domain.TerminationLogout)

	count, err := h.manager.TerminateAllSessionsForSubject(ctx, "u-1", "")
	if err != nil {
		t.Fatalf("TerminateAllSessionsForSubject returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 sessions terminated, got %d", count)
	}

	remaining, _ := h.manager.ListSessionsForSubject(ctx, "u-1")
	if len(remaining) != 0 {
		t.Fatalf("expected no sessions left, got %d", len(remaining))
	}
	if _, err := h.manager.GetSession(ctx, other.Session.ID); err != nil {
		t.Fatalf("other subject's session must survive, got %v", err)
	}

	entry, err := h.blacklist.Entry(ctx, security.HashToken(first.AccessToken))
	if err != nil || entry.Reason != domain.TerminationLogoutAll {
		t.Fatalf("expected blacklist entry re-tagged logout_all, got %+v, %v", entry, err)
	}
	if registered, _ := h.refresh.IsRegistered(ctx, security.HashToken(first.RefreshToken)); registered {
		t.Fatal("expected subject refresh tokens to be unregistered")
	}

	if len(identity.revoked) != 1 || identity.revoked[0] != "u-1" {
		t.Fatalf("expected provider revocation for u-1, got %v", identity.revoked)
	}
	if len(h.audit.kinds(domain.EventProviderRevokeFailed)) != 1 {
		t.Fatal("expected provider failure to be audited")
	}
	done := h.audit.kinds(domain.EventSubjectLoggedOutAll)
	if len(done) != 1 || done[0].Metadata["provider_revoked"] != false {
		t.Fatalf("unexpected logout-all event: %+v", done)
	}
}

func TestDeviceOperations(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	info := webRequest("u-1").DeviceInfo
	userAgent := "agent/1.0"

	device, isNew, err := h.manager.TrackDevice(ctx, "u-1", info, userAgent)
	if err != nil || !isNew {
		t.Fatalf("TrackDevice returned %v, %v", isNew, err)
	}
	if device.RiskLevel != domain.RiskLow || device.IsTrusted {
		t.Fatalf("expected untrusted LOW device, got %+v", device)
	}

	fresh, err := h.manager.IsNewDevice(ctx, "u-1", device.Fingerprint)
	if err != nil || fresh {
		t.Fatalf("expected tracked device to be known, got %v, %v", fresh, err)
	}
	fresh, err = h.manager.IsNewDevice(ctx, "u-2", device.Fingerprint)
	if err != nil || !fresh {
		t.Fatalf("expected device to be new for another subject, got %v, %v", fresh, err)
	}

	history, err := h.manager.DeviceHistory(ctx, "u-1")
	if err != nil || len(history) != 1 || history[0].Fingerprint != security.DeviceFingerprint(info, userAgent) {
		t.Fatalf("unexpected history: %+v, %v", history, err)
	}

	if _, _, err := h.manager.TrackDevice(ctx, "", info, userAgent); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
