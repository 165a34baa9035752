package completion

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names an action that advances a Completion.
type EventKind string

const (
	EventStart         EventKind = "start"
	EventSubmit        EventKind = "submit"
	EventApproveAuto   EventKind = "approve_auto"
	EventApproveManual EventKind = "approve_manual"
	// EventReject is reserved. No transition accepts it yet.
	EventReject EventKind = "reject"
)

// Event is an action applied to a Completion by Apply. Build events with the
// constructor functions rather than the struct literal.
type Event struct {
	Kind EventKind

	// Reward is the catalog reward snapshotted at Submit, or the reviewer's
	// override on ApproveManual. Nil on ApproveManual means use the snapshot.
	Reward *decimal.Decimal
	// MinEngagement is enforced between Start and Submit.
	MinEngagement time.Duration
	// ReviewWindow is the auto-approval delay measured from SubmittedAt.
	ReviewWindow time.Duration
	// Note is free-text provenance for manual approval or rejection.
	Note string
}

// Start begins work on a task.
func Start() Event {
	return Event{Kind: EventStart}
}

// Submit moves a started task into review, fixing the reward that will be
// credited on approval.
func Submit(reward decimal.Decimal, minEngagement time.Duration) Event {
	return Event{Kind: EventSubmit, Reward: &reward, MinEngagement: minEngagement}
}

// ApproveAuto completes a reviewing task once window has elapsed since
// submission.
func ApproveAuto(window time.Duration) Event {
	return Event{Kind: EventApproveAuto, ReviewWindow: window}
}

// ApproveManual completes a reviewing task immediately. A nil reward credits
// the snapshot taken at submission.
func ApproveManual(reward *decimal.Decimal, note string) Event {
	return Event{Kind: EventApproveManual, Reward: reward, Note: note}
}

// Reject is reserved for a future rejection flow.
func Reject(note string) Event {
	return Event{Kind: EventReject, Note: note}
}

// IsApproval reports whether the event transitions into Completed.
func (e Event) IsApproval() bool {
	return e.Kind == EventApproveAuto || e.Kind == EventApproveManual
}
