package completion

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const window = 30 * time.Second

func reviewing(t *testing.T, reward string) Completion {
	t.Helper()
	c, err := Apply(New("u1", "t1"), Start(), t0)
	require.NoError(t, err)
	c, err = Apply(c, Submit(decimal.RequireFromString(reward), 0), t0)
	require.NoError(t, err)
	return c
}

func TestApply_Transitions(t *testing.T) {
	reward := decimal.RequireFromString("2.50")

	tests := []struct {
		name    string
		from    Status
		event   Event
		at      time.Duration
		want    Status
		wantErr error
	}{
		{"start from not started", StatusNotStarted, Start(), 0, StatusStarted, nil},
		{"submit from started", StatusStarted, Submit(reward, 0), 0, StatusReviewing, nil},
		{"auto approve after window", StatusReviewing, ApproveAuto(window), window, StatusCompleted, nil},
		{"auto approve before window", StatusReviewing, ApproveAuto(window), window - time.Second, StatusReviewing, ErrReviewPending},
		{"manual approve any time", StatusReviewing, ApproveManual(nil, "looks good"), time.Second, StatusCompleted, nil},
		{"start twice", StatusStarted, Start(), 0, StatusStarted, ErrInvalidTransition},
		{"submit before start", StatusNotStarted, Submit(reward, 0), 0, StatusNotStarted, ErrInvalidTransition},
		{"submit twice", StatusReviewing, Submit(reward, 0), 0, StatusReviewing, ErrInvalidTransition},
		{"auto approve not started", StatusNotStarted, ApproveAuto(window), window, StatusNotStarted, ErrInvalidTransition},
		{"manual approve started", StatusStarted, ApproveManual(nil, ""), 0, StatusStarted, ErrInvalidTransition},
		{"reject is reserved", StatusReviewing, Reject("spam"), 0, StatusReviewing, ErrInvalidTransition},
		{"start after completed", StatusCompleted, Start(), 0, StatusCompleted, ErrAlreadyCompleted},
		{"approve after completed", StatusCompleted, ApproveManual(nil, ""), 0, StatusCompleted, ErrAlreadyCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fixture(t, tt.from)

			got, err := Apply(c, tt.event, t0.Add(tt.at))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, c, got, "record must be unchanged on error")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			require.NoError(t, got.Validate())
		})
	}
}

func fixture(t *testing.T, status Status) Completion {
	t.Helper()
	c := New("u1", "t1")
	if status == StatusNotStarted {
		return c
	}
	c, err := Apply(c, Start(), t0)
	require.NoError(t, err)
	if status == StatusStarted {
		return c
	}
	c, err = Apply(c, Submit(decimal.RequireFromString("2.50"), 0), t0)
	require.NoError(t, err)
	if status == StatusReviewing {
		return c
	}
	c, err = Apply(c, ApproveAuto(window), t0.Add(window))
	require.NoError(t, err)
	return c
}

func TestApply_SetsTimestampsOnce(t *testing.T) {
	c, err := Apply(New("u1", "t1"), Start(), t0)
	require.NoError(t, err)
	require.NotNil(t, c.StartedAt)
	assert.Equal(t, t0, *c.StartedAt)
	assert.Nil(t, c.SubmittedAt)

	submitAt := t0.Add(5 * time.Second)
	c, err = Apply(c, Submit(decimal.RequireFromString("1"), 0), submitAt)
	require.NoError(t, err)
	assert.Equal(t, t0, *c.StartedAt)
	assert.Equal(t, submitAt, *c.SubmittedAt)
	assert.Nil(t, c.Earnings)

	doneAt := submitAt.Add(window)
	c, err = Apply(c, ApproveAuto(window), doneAt)
	require.NoError(t, err)
	assert.Equal(t, t0, *c.StartedAt)
	assert.Equal(t, submitAt, *c.SubmittedAt)
	assert.Equal(t, doneAt, *c.CompletedAt)
	assert.Equal(t, NoteAuto, c.ApprovalNote)
}

func TestApply_ManualApproval(t *testing.T) {
	t.Run("uses snapshot reward by default", func(t *testing.T) {
		c := reviewing(t, "2.50")
		got, err := Apply(c, ApproveManual(nil, ""), t0.Add(time.Second))
		require.NoError(t, err)
		assert.True(t, got.Earnings.Equal(decimal.RequireFromString("2.50")))
		assert.Equal(t, NoteManual, got.ApprovalNote)
	})

	t.Run("override reward and note", func(t *testing.T) {
		c := reviewing(t, "2.50")
		override := decimal.RequireFromString("5")
		got, err := Apply(c, ApproveManual(&override, " bonus "), t0.Add(time.Second))
		require.NoError(t, err)
		assert.True(t, got.Earnings.Equal(override))
		assert.Equal(t, "manual: bonus", got.ApprovalNote)
	})

	t.Run("negative override rejected", func(t *testing.T) {
		c := reviewing(t, "2.50")
		neg := decimal.RequireFromString("-1")
		_, err := Apply(c, ApproveManual(&neg, ""), t0)
		assert.ErrorIs(t, err, ErrNegativeReward)
	})
}

func TestApply_MinEngagement(t *testing.T) {
	c, err := Apply(New("u1", "t1"), Start(), t0)
	require.NoError(t, err)

	_, err = Apply(c, Submit(decimal.NewFromInt(1), time.Minute), t0.Add(59*time.Second))
	require.ErrorIs(t, err, ErrEngagementTooShort)

	got, err := Apply(c, Submit(decimal.NewFromInt(1), time.Minute), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusReviewing, got.Status)
}

// Any event sequence keeps the status monotonic and sets earnings at most once.
func TestApply_MonotonicAndCreditsOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	reward := decimal.RequireFromString("2.50")
	override := decimal.RequireFromString("9.99")

	events := []Event{
		Start(),
		Submit(reward, 0),
		ApproveAuto(window),
		ApproveManual(nil, ""),
		ApproveManual(&override, "override"),
		Reject("no"),
	}

	for run := 0; run < 200; run++ {
		c := New("u1", "t1")
		now := t0
		credits := 0
		var firstEarnings *decimal.Decimal

		for step := 0; step < 12; step++ {
			now = now.Add(time.Duration(rng.Intn(20)) * time.Second)
			ev := events[rng.Intn(len(events))]

			next, err := Apply(c, ev, now)
			assert.False(t, next.Status.Before(c.Status), "status regressed %s -> %s", c.Status, next.Status)

			if err == nil && next.Earnings != nil && c.Earnings == nil {
				credits++
				firstEarnings = next.Earnings
			}
			if c.IsCompleted() {
				assert.ErrorIs(t, err, ErrAlreadyCompleted)
				assert.Equal(t, c, next)
			}
			require.NoError(t, next.Validate())
			c = next
		}

		assert.LessOrEqual(t, credits, 1)
		if firstEarnings != nil {
			assert.True(t, c.Earnings.Equal(*firstEarnings))
		}
	}
}

func TestCompletion_RemainingReview(t *testing.T) {
	c := reviewing(t, "1")

	assert.Equal(t, 20*time.Second, c.RemainingReview(window, t0.Add(10*time.Second)))
	assert.Equal(t, time.Duration(0), c.RemainingReview(window, t0.Add(time.Minute)))
	assert.Equal(t, time.Duration(0), New("u", "t").RemainingReview(window, t0))
}

func TestIsBenign(t *testing.T) {
	assert.True(t, IsBenign(ErrAlreadyCompleted))
	assert.False(t, IsBenign(ErrInvalidTransition))
	assert.True(t, IsRetryable(ErrStoreUnavailable))
	assert.False(t, IsRetryable(ErrStaleWrite))
}
