package eventbus

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/colonyops/earn/internal/core/completion"
)

// RegisterDebugLogger logs every published event at debug level, tagged with
// the completion it concerns. Dropped events log at warn and subscriber
// panics at error.
func RegisterDebugLogger(bus *EventBus, logger zerolog.Logger) {
	bus.OnPublish(func(event Event, payload any) {
		logEvent(logger.Debug(), event, payload).Msg("event fired")
	})

	bus.OnDrop(func(event Event, payload any) {
		logEvent(logger.Warn(), event, payload).Msg("event dropped: buffer full")
	})

	bus.OnPanic(func(event Event, payload any, recovered any) {
		logEvent(logger.Error(), event, payload).
			Str("panic", fmt.Sprint(recovered)).
			Msg("subscriber panicked")
	})
}

func logEvent(e *zerolog.Event, event Event, payload any) *zerolog.Event {
	e = e.Str("event", string(event))

	switch p := payload.(type) {
	case CatalogReloadedPayload:
		return e.Int("tasks", p.Tasks)
	case CompletionStartedPayload:
		return withKey(e, p.Completion.Key()).Str("status", string(p.Completion.Status))
	case CompletionSubmittedPayload:
		return withKey(e, p.Completion.Key()).Time("deadline", p.Deadline)
	case CompletionCompletedPayload:
		e = withKey(e, p.Completion.Key())
		if p.Completion.Earnings != nil {
			e = e.Str("earnings", p.Completion.Earnings.StringFixed(2))
		}
		return e
	case ReviewArmedPayload:
		return withKey(e, p.Key).Time("fire_at", p.FireAt)
	case ReviewCancelledPayload:
		return withKey(e, p.Key)
	default:
		return e
	}
}

func withKey(e *zerolog.Event, k completion.Key) *zerolog.Event {
	return e.Str("user_id", k.UserID).Str("task_id", k.TaskID)
}
