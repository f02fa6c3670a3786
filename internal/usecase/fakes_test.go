package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/infra/security"
	"github.com/arklim/academy-sessions/internal/repository/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	err    error
}

func (a *recordingAudit) Record(_ context.Context, event domain.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recordingAudit) kinds(kind string) []domain.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEvent
	for _, event := range a.events {
		if event.Kind == kind {
			out = append(out, event)
		}
	}
	return out
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.TokenBlacklistedEvent
	err    error
}

func (b *recordingBroadcaster) PublishTokenBlacklisted(_ context.Context, event domain.TokenBlacklistedEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return b.err
}

type fakeIdentity struct {
	mu        sync.Mutex
	claims    map[string]*domain.IdentityClaims
	lookupErr error
	revokeErr error
	revoked   []string
}

func (f *fakeIdentity) LookupCurrentClaims(_ context.Context, subjectID string) (*domain.IdentityClaims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	claims, ok := f.claims[subjectID]
	if !ok {
		return &domain.IdentityClaims{SubjectID: subjectID}, nil
	}
	out := *claims
	return &out, nil
}

func (f *fakeIdentity) RevokeAllSessionsForSubject(_ context.Context, subjectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, subjectID)
	return f.revokeErr
}

type fakeVerifier struct {
	claims *domain.IdentityClaims
	err    error
}

func (f fakeVerifier) VerifyIdentityToken(context.Context, string) (*domain.IdentityClaims, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.claims
	return &out, nil
}

type recordingMetrics struct {
	mu            sync.Mutex
	issued        map[string]int
	validations   map[string]int
	blacklisted   map[string]int
	created       int
	terminated    map[string]int
	evicted       int
	sweeps        int
	sweepFailures map[string]int
	active        int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		issued:        make(map[string]int),
		validations:   make(map[string]int),
		blacklisted:   make(map[string]int),
		terminated:    make(map[string]int),
		sweepFailures: make(map[string]int),
	}
}

func (r *recordingMetrics) IncTokensIssued(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued[kind]++
}

func (r *recordingMetrics) IncValidation(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations[kind+"/"+outcome]++
}

func (r *recordingMetrics) IncBlacklisted(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklisted[reason]++
}

func (r *recordingMetrics) IncSessionsCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *recordingMetrics) IncSessionsTerminated(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated[reason]++
}

func (r *recordingMetrics) IncSessionsEvicted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted++
}

func (r *recordingMetrics) ObserveSweep(map[string]int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps++
}

func (r *recordingMetrics) IncSweepFailure(component string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepFailures[component]++
}

func (r *recordingMetrics) SetActiveSessions(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = count
}

func (r *recordingMetrics) sweepCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweeps
}

// failingBlacklist wraps a memory blacklist and injects store failures.
type failingBlacklist struct {
	port.RevocationStore
	lookupErr  error
	sweepPanic bool
}

var errStoreDown = errors.New("store unavailable")

func (f *failingBlacklist) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.RevocationStore.IsBlacklisted(ctx, tokenHash)
}

func (f *failingBlacklist) SweepExpired(ctx context.Context) (int, error) {
	if f.sweepPanic {
		panic("sweep exploded")
	}
	return f.RevocationStore.SweepExpired(ctx)
}

// failingRegistry wraps a memory refresh registry and injects registration failures.
type failingRegistry struct {
	*memory.RefreshRegistry
	registerErr error
}

func (f *failingRegistry) Register(ctx context.Context, registration domain.RefreshRegistration) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	return f.RefreshRegistry.Register(ctx, registration)
}

type harness struct {
	clock       *testClock
	codec       *security.TokenCodec
	blacklist   *memory.Blacklist
	refresh     *memory.RefreshRegistry
	sessions    *memory.SessionStore
	devices     *memory.DeviceTracker
	audit       *recordingAudit
	broadcaster *recordingBroadcaster
	metrics     *recordingMetrics
	manager     *SessionManager
}

func newHarness(t *testing.T, configure func(*SessionManagerConfig, *SessionManagerDeps)) *harness {
	t.Helper()

	clock := newTestClock()
	codec, err := security.NewTokenCodec(security.CodecOptions{
		AccessSecret:  []byte("usecase-access-secret-0000000001"),
		RefreshSecret: []byte("usecase-refresh-secret-000000001"),
		Issuer:        "academy-sessions",
		Audience:      "academy-api",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenCodec returned error: %v", err)
	}
	codec.WithClock(clock.Now)

	h := &harness{
		clock:       clock,
		codec:       codec,
		blacklist:   memory.NewBlacklist(memory.BlacklistOptions{}).WithClock(clock.Now),
		refresh:     memory.NewRefreshRegistry().WithClock(clock.Now),
		sessions:    memory.NewSessionStore().WithClock(clock.Now),
		devices:     memory.NewDeviceTracker(memory.DeviceTrackerOptions{}).WithClock(clock.Now),
		audit:       &recordingAudit{},
		broadcaster: &recordingBroadcaster{},
		metrics:     newRecordingMetrics(),
	}

	cfg := SessionManagerConfig{
		SessionTTL:            time.Hour,
		MaxSessionsPerSubject: 5,
		CleanupInterval:       time.Minute,
		ProviderTimeout:       time.Second,
	}
	deps := SessionManagerDeps{
		Codec:       codec,
		Blacklist:   h.blacklist,
		Refresh:     h.refresh,
		Sessions:    h.sessions,
		Devices:     h.devices,
		Audit:       h.audit,
		Broadcaster: h.broadcaster,
		Metrics:     h.metrics,
		Logger:      zaptest.NewLogger(t),
	}
	if configure != nil {
		configure(&cfg, &deps)
	}

	manager, err := NewSessionManager(cfg, deps)
	if err != nil {
		t.Fatalf("NewSessionManager returned error: %v", err)
	}
	h.manager = manager.WithClock(clock.Now)
	return h
}

func webRequest(subjectID string) domain.SessionRequest {
	return domain.SessionRequest{
		SubjectID: subjectID,
		Role:      "student",
		DeviceInfo: domain.DeviceInfo{
			Platform:  domain.PlatformWeb,
			Browser:   "Firefox",
			OS:        "Linux",
			IsDesktop: true,
		},
		IPAddress: "10.0.4.20",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
	}
}

func (h *harness) issue(t *testing.T, req domain.SessionRequest) *domain.IssuedSession {
	t.Helper()
	issued, err := h.manager.IssueTokenPair(context.Background(), req)
	if err != nil {
		t.Fatalf("IssueTokenPair returned error: %v", err)
	}
	return issued
}
