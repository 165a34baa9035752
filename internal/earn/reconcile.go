package earn

import (
	"context"
	"fmt"

	"github.com/colonyops/earn/internal/core/completion"
)

// Reconcile re-arms a countdown for each of userID's reviewing completions
// using the persisted submission time. It does not modify stored state and is
// safe to call repeatedly. A store failure is returned as-is; it never reads
// as "nothing to reconcile".
func (s *RewardService) Reconcile(ctx context.Context, userID string) (int, error) {
	reviewing, err := s.store.ListByStatus(ctx, userID, completion.StatusReviewing)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("reconcile: list reviewing completions")
		return 0, fmt.Errorf("reconcile %s: %w", userID, err)
	}

	armed := 0
	for _, c := range reviewing {
		if c.SubmittedAt == nil {
			s.log.Warn().Str("user_id", userID).Str("task_id", c.TaskID).Msg("reconcile: reviewing completion without submitted_at")
			continue
		}
		s.sched.Arm(c.Key(), *c.SubmittedAt, s.window)
		armed++
	}

	s.log.Debug().Str("user_id", userID).Int("armed", armed).Msg("reconciled")
	return armed, nil
}
