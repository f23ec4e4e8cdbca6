package eventfold

import (
	"time"
)

// PendingStatus is the lifecycle state of a wait-conditioned event.
// Executed, cancelled and expired are terminal.
type PendingStatus int

const (
	PendingStatusUnknown   PendingStatus = 0
	PendingStatusPending   PendingStatus = 1
	PendingStatusReady     PendingStatus = 2
	PendingStatusExecuted  PendingStatus = 3
	PendingStatusCancelled PendingStatus = 4
	PendingStatusExpired   PendingStatus = 5
)

func (ps PendingStatus) String() string {
	switch ps {
	case PendingStatusPending:
		return "pending"
	case PendingStatusReady:
		return "ready"
	case PendingStatusExecuted:
		return "executed"
	case PendingStatusCancelled:
		return "cancelled"
	case PendingStatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// PendingEvent is a not-yet-executed candidate plus the wait conditions gating
// its execution. Once the conditions are satisfied the candidate is appended to
// the log and executed like any live append.
type PendingEvent struct {
	ID        int64
	Candidate Candidate
	WaitFor   WaitFor
	Status    PendingStatus
	CreatedAt time.Time

	// ExpiresAt is the optional wall-clock deadline. Zero means no timeout.
	// Expiry is lazy: it is applied by SweepExpired and by the evaluation pass,
	// not by a background timer.
	ExpiresAt time.Time
}

func (p PendingEvent) expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}
