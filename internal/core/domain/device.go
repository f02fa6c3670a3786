package domain

import "time"

// RiskLevel classifies how risky a device appears.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// TrackedDevice summarises what the process has observed about a device for one subject.
// It is derived data: history only covers the current process lifetime.
type TrackedDevice struct {
	Fingerprint  string
	SubjectID    string
	DeviceInfo   DeviceInfo
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	SessionCount int
	IsTrusted    bool
	RiskLevel    RiskLevel
}
