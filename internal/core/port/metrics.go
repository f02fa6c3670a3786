package port

import "time"

// SessionMetrics captures telemetry hooks for the session core.
type SessionMetrics interface {
	IncTokensIssued(kind string)
	IncValidation(kind string, outcome string)
	IncBlacklisted(reason string)
	IncSessionsCreated()
	IncSessionsTerminated(reason string)
	IncSessionsEvicted()
	ObserveSweep(removed map[string]int, duration time.Duration)
	IncSweepFailure(component string)
	SetActiveSessions(count int)
}

// RevocationReplayMetrics captures telemetry for replayed peer revocations.
type RevocationReplayMetrics interface {
	IncReplayed()
	IncSkipped()
	ObserveLag(duration time.Duration)
}
