// Package catalog provides read-only access to the task definitions that
// users can earn rewards for.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/shopspring/decimal"

	"github.com/colonyops/earn/internal/core/validate"
)

var (
	// ErrTaskNotFound is returned when no definition exists for a task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskInactive is returned when a definition exists but is disabled.
	ErrTaskInactive = errors.New("task is not active")
)

// TaskDefinition describes a task and the reward it pays.
type TaskDefinition struct {
	ID                   string          `json:"id"                     yaml:"id"`
	Title                string          `json:"title"                  yaml:"title"`
	RewardAmount         decimal.Decimal `json:"reward_amount"          yaml:"reward"`
	Category             string          `json:"category,omitempty"     yaml:"category"`
	Difficulty           string          `json:"difficulty,omitempty"   yaml:"difficulty"`
	MinEngagementSeconds int             `json:"min_engagement_seconds" yaml:"min_engagement_seconds"`
	Active               bool            `json:"active"                 yaml:"-"`
}

// MinEngagement returns the minimum time between start and submit.
func (d TaskDefinition) MinEngagement() time.Duration {
	return time.Duration(d.MinEngagementSeconds) * time.Second
}

// Validate checks that the definition can be offered to users.
func (d TaskDefinition) Validate() error {
	var errs criterio.FieldErrorsBuilder
	if err := validate.ID(d.ID); err != nil {
		errs = errs.Append("id", err)
	}
	if err := validate.Reward(&d.RewardAmount); err != nil {
		errs = errs.Append("reward", err)
	}
	if d.MinEngagementSeconds < 0 {
		errs = errs.Append("min_engagement_seconds", fmt.Errorf("must not be negative, got %d", d.MinEngagementSeconds))
	}
	return errs.ToError()
}

// Catalog is the read-only source of task definitions.
type Catalog interface {
	// ListActiveTasks returns the active definitions ordered by id.
	ListActiveTasks(ctx context.Context) ([]TaskDefinition, error)

	// Get returns a definition by id, active or not.
	// Returns ErrTaskNotFound if it does not exist.
	Get(ctx context.Context, id string) (TaskDefinition, error)
}

// Static is an in-memory Catalog whose contents can be swapped atomically.
type Static struct {
	mu    sync.RWMutex
	tasks map[string]TaskDefinition
}

var _ Catalog = (*Static)(nil)

// NewStatic creates a catalog holding defs.
func NewStatic(defs ...TaskDefinition) *Static {
	s := &Static{}
	s.Replace(defs)
	return s
}

// Replace swaps the catalog contents.
func (s *Static) Replace(defs []TaskDefinition) {
	tasks := make(map[string]TaskDefinition, len(defs))
	for _, d := range defs {
		tasks[d.ID] = d
	}

	s.mu.Lock()
	s.tasks = tasks
	s.mu.Unlock()
}

// ListActiveTasks returns the active definitions ordered by id.
func (s *Static) ListActiveTasks(_ context.Context) ([]TaskDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskDefinition, 0, len(s.tasks))
	for _, d := range s.tasks {
		if d.Active {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a definition by id.
func (s *Static) Get(_ context.Context, id string) (TaskDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.tasks[id]
	if !ok {
		return TaskDefinition{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return d, nil
}

// GetActive returns a definition only if it is active.
func GetActive(ctx context.Context, c Catalog, id string) (TaskDefinition, error) {
	d, err := c.Get(ctx, id)
	if err != nil {
		return TaskDefinition{}, err
	}
	if !d.Active {
		return TaskDefinition{}, fmt.Errorf("%w: %s", ErrTaskInactive, id)
	}
	return d, nil
}
