package domain

import "time"

// Audit event kinds emitted by the session core.
const (
	EventSessionCreated       = "session.created"
	EventSessionTerminated    = "session.terminated"
	EventSessionEvicted       = "session.evicted"
	EventSessionNewDevice     = "session.new_device"
	EventTokensIssued         = "session.tokens.issued"
	EventTokensRefreshed      = "session.tokens.refreshed"
	EventTokenBlacklisted     = "session.token.blacklisted"
	EventSubjectLoggedOutAll  = "session.subject.logout_all"
	EventProviderRevokeFailed = "session.provider.revoke_failed"
)

// AuditEvent is a fire-and-forget record handed to the audit sink.
type AuditEvent struct {
	EventID   string
	Kind      string
	SubjectID string
	SessionID string
	At        time.Time
	Metadata  map[string]any
}

// TokenBlacklistedEvent is broadcast to peer instances so they can mirror a blacklisting locally.
type TokenBlacklistedEvent struct {
	EventID       string    `json:"event_id"`
	TokenHash     string    `json:"token_hash"`
	SubjectID     string    `json:"subject_id"`
	SessionID     *string   `json:"session_id,omitempty"`
	Reason        string    `json:"reason"`
	ExpiresAt     time.Time `json:"expires_at"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
	Origin        string    `json:"origin,omitempty"`
}
