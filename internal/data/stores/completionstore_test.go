package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/earn/internal/core/completion"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const window = 30 * time.Second

// advance applies ev and persists the result with the prior status as the CAS guard.
func advance(t *testing.T, store *CompletionStore, c completion.Completion, ev completion.Event, at time.Time) completion.Completion {
	t.Helper()
	next, err := completion.Apply(c, ev, at)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), next, c.Status))
	return next
}

func submitted(t *testing.T, store *CompletionStore, userID, taskID, reward string) completion.Completion {
	t.Helper()
	c := advance(t, store, completion.New(userID, taskID), completion.Start(), t0)
	return advance(t, store, c, completion.Submit(decimal.RequireFromString(reward), 0), t0)
}

func TestCompletionStore_GetNotFound(t *testing.T) {
	store := NewCompletionStore(openTestDB(t))

	_, err := store.Get(context.Background(), "u1", "t1")
	assert.ErrorIs(t, err, completion.ErrNotFound)
}

func TestCompletionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewCompletionStore(openTestDB(t))

	c := submitted(t, store, "u1", "t1", "2.50")

	got, err := store.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, completion.StatusReviewing, got.Status)
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, got.SubmittedAt.Equal(t0))
	assert.True(t, got.Reward.Equal(decimal.RequireFromString("2.50")))
	assert.Nil(t, got.Earnings)

	advance(t, store, c, completion.ApproveAuto(window), t0.Add(window))

	got, err = store.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, completion.StatusCompleted, got.Status)
	assert.True(t, got.Earnings.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, completion.NoteAuto, got.ApprovalNote)

	credits, err := store.ListCredits(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, "t1", credits[0].TaskID)
	assert.NotEmpty(t, credits[0].ID)
	assert.True(t, credits[0].Amount.Equal(decimal.RequireFromString("2.50")))
}

func TestCompletionStore_StaleWrite(t *testing.T) {
	ctx := context.Background()
	store := NewCompletionStore(openTestDB(t))

	t.Run("insert twice", func(t *testing.T) {
		c, err := completion.Apply(completion.New("u1", "dup"), completion.Start(), t0)
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, c, completion.StatusNotStarted))
		assert.ErrorIs(t, store.Upsert(ctx, c, completion.StatusNotStarted), completion.ErrStaleWrite)
	})

	t.Run("expected status mismatch", func(t *testing.T) {
		c := submitted(t, store, "u1", "cas", "1")
		done, err := completion.Apply(c, completion.ApproveManual(nil, ""), t0)
		require.NoError(t, err)

		err = store.Upsert(ctx, done, completion.StatusStarted)
		assert.ErrorIs(t, err, completion.ErrStaleWrite)

		got, err := store.Get(ctx, "u1", "cas")
		require.NoError(t, err)
		assert.Equal(t, completion.StatusReviewing, got.Status)
	})

	t.Run("rejects status regression", func(t *testing.T) {
		c := submitted(t, store, "u1", "regress", "1")

		back := c
		back.Status = completion.StatusStarted
		back.SubmittedAt = nil
		back.Reward = nil
		require.NoError(t, back.Validate())

		err := store.Upsert(ctx, back, completion.StatusReviewing)
		assert.ErrorIs(t, err, completion.ErrInvalidTransition)

		got, err := store.Get(ctx, "u1", "regress")
		require.NoError(t, err)
		assert.Equal(t, completion.StatusReviewing, got.Status)
	})

	t.Run("rejects unknown expected status", func(t *testing.T) {
		c := submitted(t, store, "u1", "unknown", "1")
		done, err := completion.Apply(c, completion.ApproveManual(nil, ""), t0)
		require.NoError(t, err)
		assert.ErrorIs(t, store.Upsert(ctx, done, completion.Status("paused")), completion.ErrInvalidTransition)
	})

	t.Run("rejects invalid record", func(t *testing.T) {
		bad := completion.New("u1", "bad")
		bad.Status = completion.StatusReviewing
		assert.ErrorIs(t, store.Upsert(ctx, bad, completion.StatusStarted), completion.ErrInconsistentRecord)
	})
}

// Concurrent approvals of the same record produce exactly one credit.
func TestCompletionStore_ConcurrentApprovals(t *testing.T) {
	ctx := context.Background()
	store := NewCompletionStore(openTestDB(t))

	c := submitted(t, store, "u1", "race", "3.00")

	override := decimal.RequireFromString("7.00")
	events := []completion.Event{
		completion.ApproveAuto(window),
		completion.ApproveManual(&override, "reviewer"),
		completion.ApproveAuto(window),
		completion.ApproveManual(nil, ""),
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		stale   int
		winning completion.Completion
	)
	for _, ev := range events {
		wg.Add(1)
		go func(ev completion.Event) {
			defer wg.Done()
			next, err := completion.Apply(c, ev, t0.Add(window))
			require.NoError(t, err)

			err = store.Upsert(ctx, next, completion.StatusReviewing)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
				winning = next
			case errors.Is(err, completion.ErrStaleWrite):
				stale++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(ev)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, len(events)-1, stale)

	got, err := store.Get(ctx, "u1", "race")
	require.NoError(t, err)
	assert.True(t, got.Earnings.Equal(*winning.Earnings))

	credits, err := store.ListCredits(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, credits, 1)
}

func TestCompletionStore_ListAndSum(t *testing.T) {
	ctx := context.Background()
	store := NewCompletionStore(openTestDB(t))

	a := submitted(t, store, "u1", "a", "1.00")
	b := submitted(t, store, "u1", "b", "3.00")
	submitted(t, store, "u1", "c", "5.00")
	advance(t, store, completion.New("u1", "d"), completion.Start(), t0)
	submitted(t, store, "u2", "a", "100")

	reviewing, err := store.ListByStatus(ctx, "u1", completion.StatusReviewing)
	require.NoError(t, err)
	require.Len(t, reviewing, 3)
	assert.Equal(t, "a", reviewing[0].TaskID)

	advance(t, store, a, completion.ApproveAuto(window), t0.Add(window))
	advance(t, store, b, completion.ApproveAuto(window), t0.Add(window))

	total, err := store.SumEarnings(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("4.00")), "got %s", total)

	all, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := store.SumEarnings(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}
