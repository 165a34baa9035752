package completion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Credit is an append-only ledger entry written alongside each transition
// into Completed. At most one exists per (user, task).
type Credit struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	TaskID     string          `json:"task_id"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note"`
	CreditedAt time.Time       `json:"credited_at"`
}

// Store defines the interface for Completion persistence.
type Store interface {
	// Get returns the completion for the pair.
	// Returns ErrNotFound if the user never interacted with the task.
	Get(ctx context.Context, userID, taskID string) (Completion, error)

	// Upsert persists c if and only if the stored status equals expected.
	// expected == StatusNotStarted means no record may exist yet.
	// Returns ErrStaleWrite when another writer advanced the record first.
	// Writing a Completed record also appends its Credit atomically.
	Upsert(ctx context.Context, c Completion, expected Status) error

	// ListByStatus returns the user's completions in the given status,
	// ordered by task id.
	ListByStatus(ctx context.Context, userID string, status Status) ([]Completion, error)

	// ListByUser returns every completion the user has, ordered by task id.
	ListByUser(ctx context.Context, userID string) ([]Completion, error)

	// SumEarnings totals earnings over the user's completed records.
	SumEarnings(ctx context.Context, userID string) (decimal.Decimal, error)

	// ListCredits returns the user's credit entries, oldest first.
	ListCredits(ctx context.Context, userID string) ([]Credit, error)
}
