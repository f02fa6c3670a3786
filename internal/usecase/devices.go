package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/infra/security"
)

// TrackDevice records a device sighting for the subject outside of session issuance.
func (m *SessionManager) TrackDevice(ctx context.Context, subjectID string, info domain.DeviceInfo, userAgent string) (domain.TrackedDevice, bool, error) {
	if strings.TrimSpace(subjectID) == "" {
		return domain.TrackedDevice{}, false, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	fingerprint := security.DeviceFingerprint(info, userAgent)
	device, isNew, err := m.devices.Track(ctx, subjectID, fingerprint, info)
	if err != nil {
		return domain.TrackedDevice{}, false, fmt.Errorf("track device: %w", err)
	}
	return device, isNew, nil
}

func (m *SessionManager) IsNewDevice(ctx context.Context, subjectID, fingerprint string) (bool, error) {
	if strings.TrimSpace(subjectID) == "" || strings.TrimSpace(fingerprint) == "" {
		return false, fmt.Errorf("%w: subject id and fingerprint are required", ErrInvalidInput)
	}
	isNew, err := m.devices.IsNewDevice(ctx, subjectID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("device lookup: %w", err)
	}
	return isNew, nil
}

// DeviceHistory lists the devices observed for the subject during this process lifetime.
func (m *SessionManager) DeviceHistory(ctx context.Context, subjectID string) ([]domain.TrackedDevice, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	history, err := m.devices.History(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("device history: %w", err)
	}
	return history, nil
}
