package session

import "time"

// Policy holds the timing constants of the pause/resume protocol and
// presence checks. These values were settled empirically; treat them as
// configuration, not physics.
type Policy struct {
	// ResumeRequestTTL is how long a resume request stays answerable.
	ResumeRequestTTL time.Duration
	// SameRequesterRetry is the window in which a second request from the
	// same player is rejected as already pending.
	SameRequesterRetry time.Duration
	// OpponentOverride is the grace after which the other player may
	// supersede a still-unanswered request.
	OpponentOverride time.Duration
	// StalenessCeiling clears any request past this age no matter who
	// created it.
	StalenessCeiling time.Duration
	// ResumeGrace is credited to the side to move when a game resumes, to
	// absorb reconnection latency.
	ResumeGrace time.Duration
	// OnlineWindow bounds how recently a player must have been seen for
	// presence checks (activation, heartbeat-miss).
	OnlineWindow time.Duration
	// CancelTimeout aborts a waiting session that never activated.
	CancelTimeout time.Duration
	// SessionTTL bounds how long finished session documents linger in the
	// store.
	SessionTTL time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		ResumeRequestTTL:   15 * time.Minute,
		SameRequesterRetry: 5 * time.Minute,
		OpponentOverride:   3 * time.Minute,
		StalenessCeiling:   20 * time.Minute,
		ResumeGrace:        40 * time.Second,
		OnlineWindow:       2 * time.Minute,
		CancelTimeout:      5 * time.Minute,
		SessionTTL:         24 * time.Hour,
	}
}
