package domain

import "time"

// Well-known session termination reasons.
const (
	TerminationLogout              = "logout"
	TerminationLogoutAll           = "logout_all"
	TerminationMaxSessionsExceeded = "max_sessions_exceeded"
	TerminationExpired             = "expired"
	TerminationSecurity            = "security"
	TerminationAdmin               = "admin"
	TerminationTokenRefresh        = "token_refresh"
)

// Login methods recorded on sessions.
const (
	LoginMethodIdentityToken = "identity_token"
	LoginMethodPassword      = "password"
	LoginMethodOAuth         = "oauth"
	LoginMethodUnknown       = "unknown"
)

// Platform enumerates the client platforms reported in DeviceInfo.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// DeviceInfo describes the client device presenting credentials.
type DeviceInfo struct {
	Platform         Platform `json:"platform"`
	Browser          string   `json:"browser,omitempty"`
	OS               string   `json:"os,omitempty"`
	ScreenResolution string   `json:"screen_resolution,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	Language         string   `json:"language,omitempty"`
	IsMobile         bool     `json:"is_mobile"`
	IsTablet         bool     `json:"is_tablet"`
	IsDesktop        bool     `json:"is_desktop"`
}

// Session represents a tracked login instance bound to a subject, a device and a token pair lineage.
type Session struct {
	ID                string
	SubjectID         string
	Role              string
	Permissions       []string
	DeviceFingerprint string
	DeviceInfo        DeviceInfo
	IPAddress         string
	UserAgent         string
	LoginMethod       string
	CreatedAt         time.Time
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	Active            bool
	TerminatedAt      *time.Time
	TerminationReason *string
	ActivityCount     int64
}

// SessionActivity carries optional metadata reported with an activity ping.
type SessionActivity struct {
	IPAddress string
	UserAgent string
}

// IsActive reports whether the session is live (not terminated and not expired) at the supplied moment.
func (s Session) IsActive(at time.Time) bool {
	if !s.Active || s.TerminatedAt != nil {
		return false
	}
	return s.ExpiresAt.After(at)
}

// Touch records activity on the session.
// Returns false when the session is no longer active; terminated sessions are never resurrected.
func (s *Session) Touch(at time.Time, activity SessionActivity) bool {
	if !s.Active || s.TerminatedAt != nil {
		return false
	}
	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	if activity.IPAddress != "" {
		s.IPAddress = activity.IPAddress
	}
	if activity.UserAgent != "" {
		s.UserAgent = activity.UserAgent
	}
	s.ActivityCount++
	return true
}

// Terminate marks the session as terminated.
// Returns true when the session changed state.
func (s *Session) Terminate(at time.Time, reason string) bool {
	if s.TerminatedAt != nil {
		return false
	}
	timeCopy := at
	reasonCopy := reason
	s.Active = false
	s.TerminatedAt = &timeCopy
	s.TerminationReason = &reasonCopy
	return true
}

// Clone returns a deep copy so callers never share pointers with a store.
func (s Session) Clone() Session {
	out := s
	if s.Permissions != nil {
		out.Permissions = append([]string(nil), s.Permissions...)
	}
	if s.TerminatedAt != nil {
		at := *s.TerminatedAt
		out.TerminatedAt = &at
	}
	if s.TerminationReason != nil {
		reason := *s.TerminationReason
		out.TerminationReason = &reason
	}
	return out
}
