package port

import (
	"context"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

// DeviceTracker records which device fingerprints have been seen for each subject.
type DeviceTracker interface {
	// Track records an observation and reports whether the fingerprint was new for the subject.
	Track(ctx context.Context, subjectID, fingerprint string, info domain.DeviceInfo) (domain.TrackedDevice, bool, error)
	IsNewDevice(ctx context.Context, subjectID, fingerprint string) (bool, error)
	History(ctx context.Context, subjectID string) ([]domain.TrackedDevice, error)
}
