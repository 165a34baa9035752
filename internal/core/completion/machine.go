package completion

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Apply validates ev against the current status of c and returns the advanced
// record. Apply is pure: c is never mutated and no I/O happens.
//
// Any event applied to a completed record returns c unchanged together with
// ErrAlreadyCompleted, so earnings are set by exactly one transition.
func Apply(c Completion, ev Event, now time.Time) (Completion, error) {
	if c.IsCompleted() {
		return c, ErrAlreadyCompleted
	}

	next := c
	switch ev.Kind {
	case EventStart:
		if c.Status != StatusNotStarted {
			return c, invalid(c, ev)
		}
		next.Status = StatusStarted
		next.StartedAt = timePtr(now)

	case EventSubmit:
		if c.Status != StatusStarted {
			return c, invalid(c, ev)
		}
		if ev.Reward == nil {
			return c, ErrMissingReward
		}
		if ev.Reward.IsNegative() {
			return c, ErrNegativeReward
		}
		if ev.MinEngagement > 0 && c.StartedAt != nil && now.Sub(*c.StartedAt) < ev.MinEngagement {
			return c, fmt.Errorf("%w: %s left", ErrEngagementTooShort,
				(ev.MinEngagement - now.Sub(*c.StartedAt)).Round(time.Second))
		}
		next.Status = StatusReviewing
		next.SubmittedAt = timePtr(now)
		next.Reward = decimalPtr(*ev.Reward)

	case EventApproveAuto:
		if c.Status != StatusReviewing {
			return c, invalid(c, ev)
		}
		if c.SubmittedAt == nil {
			return c, ErrInconsistentRecord
		}
		if now.Sub(*c.SubmittedAt) < ev.ReviewWindow {
			return c, ErrReviewPending
		}
		if c.Reward == nil {
			return c, ErrMissingReward
		}
		next = credit(next, *c.Reward, NoteAuto, now)

	case EventApproveManual:
		if c.Status != StatusReviewing {
			return c, invalid(c, ev)
		}
		reward := c.Reward
		if ev.Reward != nil {
			reward = ev.Reward
		}
		if reward == nil {
			return c, ErrMissingReward
		}
		if reward.IsNegative() {
			return c, ErrNegativeReward
		}
		next = credit(next, *reward, manualNote(ev.Note), now)

	default:
		return c, invalid(c, ev)
	}

	next.UpdatedAt = now
	return next, nil
}

// credit moves c into Completed and records earnings. Only Apply calls this
// and only from Reviewing.
func credit(c Completion, amount decimal.Decimal, note string, now time.Time) Completion {
	c.Status = StatusCompleted
	c.CompletedAt = timePtr(now)
	c.Earnings = decimalPtr(amount)
	c.ApprovalNote = note
	return c
}

func manualNote(note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return NoteManual
	}
	return NoteManual + ": " + note
}

func invalid(c Completion, ev Event) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev.Kind, c.Status)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
