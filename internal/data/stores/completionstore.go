package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/colonyops/earn/internal/core/completion"
	"github.com/colonyops/earn/internal/data/db"
)

// CompletionStore implements completion.Store using SQLite.
type CompletionStore struct {
	db *db.DB
}

var _ completion.Store = (*CompletionStore)(nil)

// NewCompletionStore creates a new SQLite-backed completion store.
func NewCompletionStore(db *db.DB) *CompletionStore {
	return &CompletionStore{db: db}
}

// Get returns the completion for the pair. Returns completion.ErrNotFound if
// the user never interacted with the task.
func (s *CompletionStore) Get(ctx context.Context, userID, taskID string) (completion.Completion, error) {
	row, err := s.db.Queries().GetCompletion(ctx, userID, taskID)
	if IsNotFoundError(err) {
		return completion.Completion{}, completion.ErrNotFound
	}
	if err != nil {
		return completion.Completion{}, wrapErr("get completion", err)
	}

	c, err := rowToCompletion(row)
	if err != nil {
		return completion.Completion{}, fmt.Errorf("convert completion: %w", err)
	}
	return c, nil
}

// Upsert writes c when the stored status equals expected. A write that would
// move the status backwards is rejected with completion.ErrInvalidTransition
// before touching the database. The status guard
// runs inside the UPDATE statement so concurrent writers serialize on SQLite's
// write lock and the loser observes completion.ErrStaleWrite. A write into
// Completed appends the credit entry in the same transaction.
func (s *CompletionStore) Upsert(ctx context.Context, c completion.Completion, expected completion.Status) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("upsert completion: %w", err)
	}
	if c.Status == completion.StatusNotStarted {
		return fmt.Errorf("upsert completion: %w: not_started is never stored", completion.ErrInvalidTransition)
	}
	if !expected.IsValid() || c.Status.Before(expected) {
		return fmt.Errorf("upsert completion: %w: %s cannot follow %s", completion.ErrInvalidTransition, c.Status, expected)
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	row := completionToRow(c)

	err := s.db.WithTx(ctx, func(q *db.Queries) error {
		if expected == completion.StatusNotStarted {
			if err := q.InsertCompletion(ctx, row); err != nil {
				if isUniqueConstraintError(err) {
					return completion.ErrStaleWrite
				}
				return wrapErr("insert completion", err)
			}
		} else {
			n, err := q.UpdateCompletionIfStatus(ctx, row, string(expected))
			if err != nil {
				return wrapErr("update completion", err)
			}
			if n == 0 {
				return completion.ErrStaleWrite
			}
		}

		if c.Status != completion.StatusCompleted {
			return nil
		}

		err := q.InsertCredit(ctx, db.Credit{
			ID:         uuid.NewString(),
			UserID:     c.UserID,
			TaskID:     c.TaskID,
			Amount:     c.Earnings.String(),
			Note:       c.ApprovalNote,
			CreditedAt: c.CompletedAt.UnixNano(),
		})
		if isUniqueConstraintError(err) {
			return completion.ErrStaleWrite
		}
		if err != nil {
			return wrapErr("insert credit", err)
		}
		return nil
	})
	if err != nil && isTransient(err) && !errors.Is(err, completion.ErrStoreUnavailable) {
		return wrapErr("upsert completion", err)
	}
	return err
}

// ListByStatus returns the user's completions in status, ordered by task id.
func (s *CompletionStore) ListByStatus(ctx context.Context, userID string, status completion.Status) ([]completion.Completion, error) {
	rows, err := s.db.Queries().ListCompletionsByStatus(ctx, userID, string(status))
	if err != nil {
		return nil, wrapErr("list completions by status", err)
	}
	return rowsToCompletions(rows)
}

// ListByUser returns every completion the user has, ordered by task id.
func (s *CompletionStore) ListByUser(ctx context.Context, userID string) ([]completion.Completion, error) {
	rows, err := s.db.Queries().ListCompletionsByUser(ctx, userID)
	if err != nil {
		return nil, wrapErr("list completions", err)
	}
	return rowsToCompletions(rows)
}

// SumEarnings totals earnings over the user's completed records. The sum is
// computed in Go so decimal amounts stay exact.
func (s *CompletionStore) SumEarnings(ctx context.Context, userID string) (decimal.Decimal, error) {
	amounts, err := s.db.Queries().ListCompletedEarnings(ctx, userID)
	if err != nil {
		return decimal.Zero, wrapErr("sum earnings", err)
	}

	total := decimal.Zero
	for _, a := range amounts {
		d, err := decimal.NewFromString(a)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse earnings %q: %w", a, err)
		}
		total = total.Add(d)
	}
	return total, nil
}

// ListCredits returns the user's credit entries, oldest first.
func (s *CompletionStore) ListCredits(ctx context.Context, userID string) ([]completion.Credit, error) {
	rows, err := s.db.Queries().ListCredits(ctx, userID)
	if err != nil {
		return nil, wrapErr("list credits", err)
	}

	credits := make([]completion.Credit, 0, len(rows))
	for _, row := range rows {
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("parse credit amount %q: %w", row.Amount, err)
		}
		credits = append(credits, completion.Credit{
			ID:         row.ID,
			UserID:     row.UserID,
			TaskID:     row.TaskID,
			Amount:     amount,
			Note:       row.Note,
			CreditedAt: time.Unix(0, row.CreditedAt),
		})
	}
	return credits, nil
}

func rowsToCompletions(rows []db.Completion) ([]completion.Completion, error) {
	out := make([]completion.Completion, 0, len(rows))
	for _, row := range rows {
		c, err := rowToCompletion(row)
		if err != nil {
			return nil, fmt.Errorf("convert completion: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// rowToCompletion converts a db.Completion to a completion.Completion.
func rowToCompletion(row db.Completion) (completion.Completion, error) {
	reward, err := fromNullDecimal(row.Reward)
	if err != nil {
		return completion.Completion{}, fmt.Errorf("reward: %w", err)
	}
	earnings, err := fromNullDecimal(row.Earnings)
	if err != nil {
		return completion.Completion{}, fmt.Errorf("earnings: %w", err)
	}

	return completion.Completion{
		UserID:       row.UserID,
		TaskID:       row.TaskID,
		Status:       completion.Status(row.Status),
		StartedAt:    fromNullTime(row.StartedAt),
		SubmittedAt:  fromNullTime(row.SubmittedAt),
		CompletedAt:  fromNullTime(row.CompletedAt),
		Reward:       reward,
		Earnings:     earnings,
		ApprovalNote: fromNullString(row.ApprovalNote),
		UpdatedAt:    time.Unix(0, row.UpdatedAt),
	}, nil
}

func completionToRow(c completion.Completion) db.Completion {
	return db.Completion{
		UserID:       c.UserID,
		TaskID:       c.TaskID,
		Status:       string(c.Status),
		StartedAt:    toNullTime(c.StartedAt),
		SubmittedAt:  toNullTime(c.SubmittedAt),
		CompletedAt:  toNullTime(c.CompletedAt),
		Reward:       toNullDecimal(c.Reward),
		Earnings:     toNullDecimal(c.Earnings),
		ApprovalNote: toNullString(c.ApprovalNote),
		UpdatedAt:    c.UpdatedAt.UnixNano(),
	}
}

func toNullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func toNullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func fromNullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromNullString(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}
