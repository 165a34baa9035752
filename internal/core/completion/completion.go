// Package completion defines the per-user, per-task reward lifecycle: the
// Completion record, the events that advance it, and the pure state machine
// that validates every transition.
package completion

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a Completion.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusStarted    Status = "started"
	StatusReviewing  Status = "reviewing"
	StatusCompleted  Status = "completed"
)

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusNotStarted, StatusStarted, StatusReviewing, StatusCompleted}
}

// IsValid returns true if the status is a known value.
func (s Status) IsValid() bool {
	return s.rank() >= 0
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// rank orders statuses along the lifecycle. Unknown statuses return -1.
func (s Status) rank() int {
	switch s {
	case StatusNotStarted:
		return 0
	case StatusStarted:
		return 1
	case StatusReviewing:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

// Before reports whether s comes strictly earlier in the lifecycle than other.
func (s Status) Before(other Status) bool {
	return s.rank() < other.rank()
}

const (
	// NoteAuto marks a completion approved by the review countdown.
	NoteAuto = "auto"
	// NoteManual prefixes notes written by a privileged reviewer.
	NoteManual = "manual"
)

// Completion tracks one user's progress on one task. A missing record is an
// implicit NotStarted completion.
type Completion struct {
	UserID       string           `json:"user_id"`
	TaskID       string           `json:"task_id"`
	Status       Status           `json:"status"`
	StartedAt    *time.Time       `json:"started_at"`
	SubmittedAt  *time.Time       `json:"submitted_at"`
	CompletedAt  *time.Time       `json:"completed_at"`
	Reward       *decimal.Decimal `json:"reward"`
	Earnings     *decimal.Decimal `json:"earnings"`
	ApprovalNote string           `json:"approval_note,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// New returns the implicit NotStarted completion for a (user, task) pair.
func New(userID, taskID string) Completion {
	return Completion{
		UserID: userID,
		TaskID: taskID,
		Status: StatusNotStarted,
	}
}

// Key identifies a completion by its composite identity.
type Key struct {
	UserID string
	TaskID string
}

// Key returns the composite identity of the completion.
func (c Completion) Key() Key {
	return Key{UserID: c.UserID, TaskID: c.TaskID}
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.UserID + "/" + k.TaskID
}

// IsCompleted returns true once the completion has been credited.
func (c Completion) IsCompleted() bool {
	return c.Status == StatusCompleted
}

// ReviewDeadline returns when the review window elapses for a submitted
// completion. The boolean is false when the completion has not been submitted.
func (c Completion) ReviewDeadline(window time.Duration) (time.Time, bool) {
	if c.SubmittedAt == nil {
		return time.Time{}, false
	}
	return c.SubmittedAt.Add(window), true
}

// RemainingReview returns the time left in the review window at now, clamped
// to zero. Completions that are not reviewing have no remaining time.
func (c Completion) RemainingReview(window time.Duration, now time.Time) time.Duration {
	if c.Status != StatusReviewing {
		return 0
	}
	deadline, ok := c.ReviewDeadline(window)
	if !ok {
		return 0
	}
	remaining := deadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Validate checks the record invariants that tie timestamps and earnings to
// the status.
func (c Completion) Validate() error {
	if c.UserID == "" || c.TaskID == "" {
		return ErrMissingIdentity
	}
	if !c.Status.IsValid() {
		return ErrUnknownStatus
	}
	if (c.Earnings != nil) != c.IsCompleted() {
		return ErrInconsistentRecord
	}
	if (c.SubmittedAt != nil) != !c.Status.Before(StatusReviewing) {
		return ErrInconsistentRecord
	}
	if (c.StartedAt != nil) != !c.Status.Before(StatusStarted) {
		return ErrInconsistentRecord
	}
	if (c.CompletedAt != nil) != c.IsCompleted() {
		return ErrInconsistentRecord
	}
	if c.Earnings != nil && c.Earnings.IsNegative() {
		return ErrNegativeReward
	}
	return nil
}
