package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/infra/logger"
)

const newDeviceWindow = 24 * time.Hour

const unknownBucket = "unknown"

// GetSessionStats aggregates live sessions for one subject, or for every subject when subjectID is blank.
// The blacklist size is process-wide and only reported in the latter case.
func (m *SessionManager) GetSessionStats(ctx context.Context, subjectID string) (domain.SessionStats, error) {
	subjectID = strings.TrimSpace(subjectID)
	now := m.now()

	var (
		sessions []domain.Session
		err      error
	)
	if subjectID != "" {
		sessions, err = m.sessions.ListBySubject(ctx, subjectID)
	} else {
		sessions, err = m.sessions.ListByCreatedRange(ctx, time.Time{}, time.Time{})
	}
	if err != nil {
		return domain.SessionStats{}, fmt.Errorf("list sessions: %w", err)
	}

	stats := domain.SessionStats{
		SubjectID:     subjectID,
		GeneratedAt:   now,
		TotalSessions: len(sessions),
		ByPlatform:    make(map[string]int),
		ByBrowser:     make(map[string]int),
		ByOS:          make(map[string]int),
		ByLoginMethod: make(map[string]int),
		ByLocation:    make(map[string]int),
	}

	subjects := make(map[string]struct{})
	for _, session := range sessions {
		subjects[session.SubjectID] = struct{}{}
		if !session.IsActive(now) {
			continue
		}
		stats.ActiveSessions++
		stats.ByPlatform[bucket(string(session.DeviceInfo.Platform))]++
		stats.ByBrowser[bucket(session.DeviceInfo.Browser)]++
		stats.ByOS[bucket(session.DeviceInfo.OS)]++
		stats.ByLoginMethod[bucket(session.LoginMethod)]++
		stats.ByLocation[bucket(logger.MaskIP(session.IPAddress))]++

		activity := session.LastActivityAt
		if stats.OldestActivity == nil || activity.Before(*stats.OldestActivity) {
			stats.OldestActivity = &activity
		}
		if stats.NewestActivity == nil || activity.After(*stats.NewestActivity) {
			stats.NewestActivity = &activity
		}
	}
	if subjectID != "" {
		subjects[subjectID] = struct{}{}
	}

	for subject := range subjects {
		devices, err := m.devices.History(ctx, subject)
		if err != nil {
			m.logger.Warn("device history for stats", zap.String("subject_id", subject), zap.Error(err))
			continue
		}
		stats.TrackedDevices += len(devices)
		for _, device := range devices {
			if now.Sub(device.FirstSeenAt) < newDeviceWindow {
				stats.NewDevices++
			}
		}
	}

	if subjectID == "" {
		size, err := m.blacklist.Count(ctx)
		if err != nil {
			m.logger.Warn("blacklist size for stats", zap.Error(err))
		} else {
			stats.BlacklistSize = size
		}
	}

	return stats, nil
}

func bucket(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return unknownBucket
	}
	return value
}
