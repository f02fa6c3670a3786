package domain

import "time"

// SessionStats aggregates session counts and device/location breakdowns.
type SessionStats struct {
	SubjectID      string
	GeneratedAt    time.Time
	TotalSessions  int
	ActiveSessions int
	TrackedDevices int
	NewDevices     int
	BlacklistSize  int
	ByPlatform     map[string]int
	ByBrowser      map[string]int
	ByOS           map[string]int
	ByLoginMethod  map[string]int
	ByLocation     map[string]int
	OldestActivity *time.Time
	NewestActivity *time.Time
}
