package domain

import "time"

// BlacklistEntry records a revoked token by its one-way hash.
type BlacklistEntry struct {
	TokenHash     string
	SubjectID     string
	BlacklistedAt time.Time
	ExpiresAt     time.Time
	Reason        string
	SessionID     *string
}

// IsExpired reports whether the entry no longer needs to be kept.
func (e BlacklistEntry) IsExpired(at time.Time) bool {
	return !e.ExpiresAt.After(at)
}

// Clone returns a copy that does not share the optional session pointer.
func (e BlacklistEntry) Clone() BlacklistEntry {
	out := e
	if e.SessionID != nil {
		sid := *e.SessionID
		out.SessionID = &sid
	}
	return out
}

// BlacklistSnapshot is a serialised view of live blacklist entries used for warm starts.
type BlacklistSnapshot struct {
	SnapshotID  string
	GeneratedAt time.Time
	Payload     []byte
	Checksum    string
}

// RefreshRegistration records a refresh token the server has issued and still honours.
type RefreshRegistration struct {
	TokenHash string
	SubjectID string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
