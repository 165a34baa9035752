package earn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/colonyops/earn/internal/core/catalog"
	"github.com/colonyops/earn/internal/core/completion"
	"github.com/colonyops/earn/internal/core/eventbus"
	"github.com/colonyops/earn/internal/core/logging"
)

// ReviewOptions controls the review countdown.
type ReviewOptions struct {
	Window       time.Duration
	FireRetries  int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// RewardService drives completions through the state machine, persists each
// transition with a compare-and-swap, and keeps the review countdowns armed.
type RewardService struct {
	store   completion.Store
	catalog catalog.Catalog
	ledger  *Ledger
	sched   *Scheduler
	bus     *eventbus.EventBus
	window  time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewRewardService creates the service and its scheduler.
func NewRewardService(
	store completion.Store,
	cat catalog.Catalog,
	ledger *Ledger,
	bus *eventbus.EventBus,
	opts ReviewOptions,
	log zerolog.Logger,
) *RewardService {
	s := &RewardService{
		store:   store,
		catalog: cat,
		ledger:  ledger,
		bus:     bus,
		window:  opts.Window,
		now:     time.Now,
		log:     log,
	}
	s.sched = NewScheduler(s.autoApprove, SchedulerOptions{
		Retries:    opts.FireRetries,
		Backoff:    opts.RetryBackoff,
		MaxBackoff: opts.MaxBackoff,
	}, bus, log)
	return s
}

// Scheduler returns the countdown scheduler owned by the service.
func (s *RewardService) Scheduler() *Scheduler {
	return s.sched
}

// Ledger returns the earnings ledger.
func (s *RewardService) Ledger() *Ledger {
	return s.ledger
}

// ReviewWindow returns the configured review window.
func (s *RewardService) ReviewWindow() time.Duration {
	return s.window
}

// Close stops all pending countdowns.
func (s *RewardService) Close() {
	s.sched.Close()
}

// ListActiveTasks returns the tasks a user may start.
func (s *RewardService) ListActiveTasks(ctx context.Context) ([]catalog.TaskDefinition, error) {
	return s.catalog.ListActiveTasks(ctx)
}

// StartTask moves the completion for (userID, taskID) into Started.
func (s *RewardService) StartTask(ctx context.Context, userID, taskID string) (completion.Completion, error) {
	if _, err := catalog.GetActive(ctx, s.catalog, taskID); err != nil {
		return completion.Completion{}, err
	}

	c, err := s.transition(ctx, userID, taskID, completion.Start())
	if err != nil {
		return c, err
	}

	s.bus.PublishCompletionStarted(eventbus.CompletionStartedPayload{Completion: c})
	return c, nil
}

// SubmitTask moves a started completion into review, snapshots the task's
// reward, and arms the countdown.
func (s *RewardService) SubmitTask(ctx context.Context, userID, taskID string) (completion.Completion, error) {
	def, err := catalog.GetActive(ctx, s.catalog, taskID)
	if err != nil {
		return completion.Completion{}, err
	}

	c, err := s.transition(ctx, userID, taskID, completion.Submit(def.RewardAmount, def.MinEngagement()))
	if err != nil {
		return c, err
	}

	deadline := s.sched.Arm(c.Key(), *c.SubmittedAt, s.window)
	s.bus.PublishCompletionSubmitted(eventbus.CompletionSubmittedPayload{Completion: c, Deadline: deadline})
	return c, nil
}

// ApproveManual credits a reviewing completion immediately. A nil reward
// credits the amount snapshotted at submission. Approving a completed record
// is a no-op that returns the stored record.
func (s *RewardService) ApproveManual(ctx context.Context, userID, taskID string, reward *decimal.Decimal, note string) (completion.Completion, error) {
	c, err := s.transition(ctx, userID, taskID, completion.ApproveManual(reward, note))
	if err != nil {
		if completion.IsBenign(err) {
			s.log.Debug().Ctx(logging.WithCompletion(ctx, userID, taskID)).Msg("manual approval of completed task ignored")
			return c, nil
		}
		return c, err
	}

	s.sched.Cancel(c.Key())
	s.credited(ctx, c)
	return c, nil
}

// GetStatus returns the completion for (userID, taskID). A pair the user never
// touched reports NotStarted.
func (s *RewardService) GetStatus(ctx context.Context, userID, taskID string) (completion.Completion, error) {
	return s.load(ctx, userID, taskID)
}

// GetEarnings returns the total credited to userID.
func (s *RewardService) GetEarnings(ctx context.Context, userID string) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, completion.ErrMissingIdentity
	}
	return s.ledger.Total(ctx, userID)
}

// GetRemainingReviewSeconds returns the whole seconds left in the review
// window, rounded up. Non-reviewing completions report 0.
func (s *RewardService) GetRemainingReviewSeconds(ctx context.Context, userID, taskID string) (int64, error) {
	c, err := s.load(ctx, userID, taskID)
	if err != nil {
		return 0, err
	}
	remaining := c.RemainingReview(s.window, s.now())
	return int64(math.Ceil(remaining.Seconds())), nil
}

// BeginSession re-arms the countdowns for userID's reviewing completions.
func (s *RewardService) BeginSession(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, completion.ErrMissingIdentity
	}
	return s.Reconcile(ctx, userID)
}

// EndSession cancels userID's countdowns without touching persisted state.
func (s *RewardService) EndSession(_ context.Context, userID string) int {
	n := s.sched.CancelUser(userID)
	s.log.Debug().Str("user_id", userID).Int("cancelled", n).Msg("session ended")
	return n
}

// autoApprove is the scheduler's fire function.
func (s *RewardService) autoApprove(ctx context.Context, key completion.Key) error {
	lctx := logging.WithCompletion(ctx, key.UserID, key.TaskID)

	c, err := s.transition(ctx, key.UserID, key.TaskID, completion.ApproveAuto(s.window))
	switch {
	case err == nil:
		s.credited(ctx, c)
		return nil
	case completion.IsBenign(err):
		s.log.Debug().Ctx(lctx).Msg("countdown fired for completed task")
		return nil
	case errors.Is(err, completion.ErrReviewPending):
		// Clock skew between the timer and the persisted timestamp. The
		// scheduler keeps the countdown and fires again.
		return err
	case errors.Is(err, completion.ErrInvalidTransition), errors.Is(err, completion.ErrNotFound):
		s.log.Warn().Ctx(lctx).Err(err).Msg("countdown fired for task not in review")
		return nil
	default:
		return err
	}
}

func (s *RewardService) credited(ctx context.Context, c completion.Completion) {
	s.log.Info().
		Ctx(logging.WithCompletion(ctx, c.UserID, c.TaskID)).
		Str("earnings", c.Earnings.String()).
		Str("note", c.ApprovalNote).
		Msg("task completed")
	s.bus.PublishCompletionCompleted(eventbus.CompletionCompletedPayload{Completion: c})
}

// load returns the stored completion, or the implicit NotStarted one.
func (s *RewardService) load(ctx context.Context, userID, taskID string) (completion.Completion, error) {
	if userID == "" || taskID == "" {
		return completion.Completion{}, completion.ErrMissingIdentity
	}

	c, err := s.store.Get(ctx, userID, taskID)
	if errors.Is(err, completion.ErrNotFound) {
		return completion.New(userID, taskID), nil
	}
	if err != nil {
		return completion.Completion{}, fmt.Errorf("load completion %s/%s: %w", userID, taskID, err)
	}
	return c, nil
}

// transition applies ev to the stored completion and persists it guarded by
// the status that was read. A stale write re-reads and re-applies once; the
// second outcome is final. On error the returned record is the latest one
// read.
func (s *RewardService) transition(ctx context.Context, userID, taskID string, ev completion.Event) (completion.Completion, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var current completion.Completion
		current, err = s.load(ctx, userID, taskID)
		if err != nil {
			return current, err
		}

		var next completion.Completion
		next, err = completion.Apply(current, ev, s.now())
		if err != nil {
			return current, err
		}

		err = s.store.Upsert(ctx, next, current.Status)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, completion.ErrStaleWrite) {
			return current, fmt.Errorf("persist %s: %w", ev.Kind, err)
		}

		s.log.Debug().
			Ctx(logging.WithCompletion(ctx, userID, taskID)).
			Str("event", string(ev.Kind)).
			Msg("stale write, re-reading")
	}

	return completion.Completion{}, fmt.Errorf("persist %s: %w", ev.Kind, err)
}
