package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/repository"
)

// DeviceTrackerOptions controls in-memory device history.
type DeviceTrackerOptions struct {
	// MaxDevicesPerSubject bounds history; the least recently seen device is forgotten first. Zero means unbounded.
	MaxDevicesPerSubject int
}

// DeviceTracker remembers device fingerprints per subject for the lifetime of the process.
type DeviceTracker struct {
	mu         sync.Mutex
	devices    map[string]map[string]*domain.TrackedDevice
	maxDevices int
	now        func() time.Time
}

// NewDeviceTracker constructs an empty tracker.
func NewDeviceTracker(opts DeviceTrackerOptions) *DeviceTracker {
	return &DeviceTracker{
		devices:    make(map[string]map[string]*domain.TrackedDevice),
		maxDevices: opts.MaxDevicesPerSubject,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic testing.
func (t *DeviceTracker) WithClock(clock func() time.Time) *DeviceTracker {
	if clock != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.now = clock
	}
	return t
}

// Track records an observation. A first sighting is classified LOW and untrusted.
func (t *DeviceTracker) Track(_ context.Context, subjectID, fingerprint string, info domain.DeviceInfo) (domain.TrackedDevice, bool, error) {
	subjectID = strings.TrimSpace(subjectID)
	fingerprint = strings.TrimSpace(fingerprint)
	if subjectID == "" || fingerprint == "" {
		return domain.TrackedDevice{}, false, fmt.Errorf("device tracker: %w: subject and fingerprint are required", repository.ErrInvalidArgument)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	devices, ok := t.devices[subjectID]
	if !ok {
		devices = make(map[string]*domain.TrackedDevice)
		t.devices[subjectID] = devices
	}

	if device, seen := devices[fingerprint]; seen {
		device.DeviceInfo = info
		device.LastSeenAt = now
		device.SessionCount++
		return *device, false, nil
	}

	if t.maxDevices > 0 && len(devices) >= t.maxDevices {
		forgetLeastRecentlySeen(devices)
	}

	device := &domain.TrackedDevice{
		Fingerprint:  fingerprint,
		SubjectID:    subjectID,
		DeviceInfo:   info,
		FirstSeenAt:  now,
		LastSeenAt:   now,
		SessionCount: 1,
		IsTrusted:    false,
		RiskLevel:    domain.RiskLow,
	}
	devices[fingerprint] = device
	return *device, true, nil
}

func (t *DeviceTracker) IsNewDevice(_ context.Context, subjectID, fingerprint string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, seen := t.devices[strings.TrimSpace(subjectID)][strings.TrimSpace(fingerprint)]
	return !seen, nil
}

// History returns the subject's devices, most recently seen first.
func (t *DeviceTracker) History(_ context.Context, subjectID string) ([]domain.TrackedDevice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	devices := t.devices[strings.TrimSpace(subjectID)]
	out := make([]domain.TrackedDevice, 0, len(devices))
	for _, device := range devices {
		out = append(out, *device)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].Fingerprint < out[j].Fingerprint
		}
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out, nil
}

func forgetLeastRecentlySeen(devices map[string]*domain.TrackedDevice) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, device := range devices {
		if oldestKey == "" || device.LastSeenAt.Before(oldest) {
			oldestKey = key
			oldest = device.LastSeenAt
		}
	}
	delete(devices, oldestKey)
}

var _ port.DeviceTracker = (*DeviceTracker)(nil)
