package earn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/earn/internal/core/completion"
	"github.com/colonyops/earn/internal/core/eventbus"
)

// FireFunc is called when the review window for key elapses.
type FireFunc func(ctx context.Context, key completion.Key) error

// SchedulerOptions configures retry behavior for failed fires.
type SchedulerOptions struct {
	// Retries is the number of extra attempts after a retryable failure.
	Retries int
	// Backoff is the delay before the first retry. It doubles per attempt.
	Backoff time.Duration
	// MaxBackoff caps the delay between rounds once Retries is exhausted.
	// Defaults to DefaultMaxBackoff.
	MaxBackoff time.Duration
}

// DefaultMaxBackoff is the longest wait between rounds of a fire that keeps
// failing with a retryable error.
const DefaultMaxBackoff = 30 * time.Second

// minRearmDelay bounds how soon a not-yet-due or still-failing fire runs again.
const minRearmDelay = 10 * time.Millisecond

type pendingTimer struct {
	timer       *time.Timer
	submittedAt time.Time
	fireAt      time.Time
	gen         uint64
	// nextDelay is the wait before the next round after a round of retries
	// failed. Zero until the first such round.
	nextDelay time.Duration
}

// Scheduler keeps at most one countdown per (user, task) and calls the fire
// function when it elapses. It is a liveness mechanism only: a stray or
// duplicate fire is absorbed by the store's compare-and-swap.
//
// A countdown stays pending until its fire succeeds, fails permanently, or is
// cancelled. Retryable failures are retried Retries times, then the countdown
// is re-armed with a backoff capped at MaxBackoff, indefinitely.
type Scheduler struct {
	fire FireFunc
	opts SchedulerOptions
	bus  *eventbus.EventBus
	log  zerolog.Logger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers map[completion.Key]*pendingTimer
	gen    uint64
	closed bool
}

// NewScheduler creates a scheduler that calls fire for elapsed countdowns.
func NewScheduler(fire FireFunc, opts SchedulerOptions, bus *eventbus.EventBus, log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		fire:   fire,
		opts:   opts,
		bus:    bus,
		log:    log,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[completion.Key]*pendingTimer),
	}
}

// Arm schedules the countdown for key to elapse at submittedAt+window. The
// remaining time is computed from submittedAt, so re-arming after a restart
// never extends the window. A countdown already pending for key is left
// alone, whatever its submittedAt; Cancel it first to replace it. Returns the
// pending fire time.
func (s *Scheduler) Arm(key completion.Key, submittedAt time.Time, window time.Duration) time.Time {
	fireAt := submittedAt.Add(window)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fireAt
	}

	if existing, ok := s.timers[key]; ok {
		armedAt, pendingAt := existing.submittedAt, existing.fireAt
		s.mu.Unlock()
		if !armedAt.Equal(submittedAt) {
			s.log.Warn().
				Str("key", key.String()).
				Time("armed_submitted_at", armedAt).
				Time("submitted_at", submittedAt).
				Msg("countdown already pending, keeping it")
		}
		return pendingAt
	}

	delay := fireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.gen++
	gen := s.gen
	s.timers[key] = &pendingTimer{
		timer:       time.AfterFunc(delay, func() { s.run(key, gen) }),
		submittedAt: submittedAt,
		fireAt:      fireAt,
		gen:         gen,
	}
	s.mu.Unlock()

	s.log.Debug().
		Str("key", key.String()).
		Dur("delay", delay).
		Time("fire_at", fireAt).
		Msg("countdown armed")
	s.bus.PublishReviewArmed(eventbus.ReviewArmedPayload{Key: key, FireAt: fireAt})

	return fireAt
}

// Cancel stops the countdown for key. Returns false if none was pending.
func (s *Scheduler) Cancel(key completion.Key) bool {
	s.mu.Lock()
	p, ok := s.timers[key]
	if ok {
		p.timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	if ok {
		s.log.Debug().Str("key", key.String()).Msg("countdown cancelled")
		s.bus.PublishReviewCancelled(eventbus.ReviewCancelledPayload{Key: key})
	}
	return ok
}

// CancelUser stops every countdown owned by userID and returns how many were
// pending. Persisted state is untouched.
func (s *Scheduler) CancelUser(userID string) int {
	var keys []completion.Key

	s.mu.Lock()
	for key := range s.timers {
		if key.UserID == userID {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, key := range keys {
		if s.Cancel(key) {
			n++
		}
	}
	return n
}

// Pending returns the fire time of the countdown for key.
func (s *Scheduler) Pending(key completion.Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return p.fireAt, true
}

// Len returns the number of pending countdowns.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops all countdowns and waits for in-flight fires to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for key, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(key completion.Key, gen uint64) {
	s.mu.Lock()
	p, ok := s.timers[key]
	if s.closed || !ok || p.gen != gen {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	attempts, err := s.attempt(key, gen)

	s.mu.Lock()
	p, ok = s.timers[key]
	if s.closed || !ok || p.gen != gen {
		// Cancelled or closed while firing.
		s.mu.Unlock()
		return
	}

	var delay time.Duration
	switch {
	case err == nil:
	case errors.Is(err, completion.ErrReviewPending):
		delay = max(p.fireAt.Sub(s.now()), minRearmDelay)
	case completion.IsRetryable(err):
		p.nextDelay = min(max(p.nextDelay*2, s.opts.Backoff, minRearmDelay), s.maxBackoff())
		delay = p.nextDelay
	}

	if delay == 0 {
		delete(s.timers, key)
		s.mu.Unlock()
		if err != nil {
			s.log.Error().
				Err(err).
				Str("key", key.String()).
				Int("attempts", attempts).
				Msg("auto-approval failed")
		}
		return
	}

	p.fireAt = s.now().Add(delay)
	p.timer = time.AfterFunc(delay, func() { s.run(key, gen) })
	s.mu.Unlock()

	s.log.Warn().
		Err(err).
		Str("key", key.String()).
		Int("attempts", attempts).
		Dur("delay", delay).
		Msg("auto-approval not done, countdown re-armed")
}

// attempt calls fire, retrying retryable errors with doubling backoff up to
// opts.Retries times. It stops early when the countdown is cancelled or the
// scheduler closes. Returns the number of calls made and the last error.
func (s *Scheduler) attempt(key completion.Key, gen uint64) (int, error) {
	backoff := s.opts.Backoff
	for attempt := 1; ; attempt++ {
		err := s.fire(s.ctx, key)
		if err == nil || !completion.IsRetryable(err) || attempt > s.opts.Retries {
			return attempt, err
		}

		s.log.Warn().
			Err(err).
			Str("key", key.String()).
			Dur("backoff", backoff).
			Msg("auto-approval failed, retrying")

		select {
		case <-s.ctx.Done():
			return attempt, err
		case <-time.After(backoff):
		}
		if !s.owns(key, gen) {
			return attempt, err
		}
		backoff *= 2
	}
}

func (s *Scheduler) owns(key completion.Key, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.timers[key]
	return ok && p.gen == gen
}

func (s *Scheduler) maxBackoff() time.Duration {
	if s.opts.MaxBackoff > 0 {
		return s.opts.MaxBackoff
	}
	return DefaultMaxBackoff
}
