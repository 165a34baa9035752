// Package eventbus provides a typed publish/subscribe event bus for
// cross-component communication within earn.
package eventbus

import (
	"time"

	"github.com/colonyops/earn/internal/core/completion"
)

// Event names a kind of event published on the bus.
type Event string

// Keep list sorted A-Z
const (
	EventCatalogReloaded     Event = "catalog.reloaded"
	EventCompletionCompleted Event = "completion.completed"
	EventCompletionStarted   Event = "completion.started"
	EventCompletionSubmitted Event = "completion.submitted"
	EventReviewArmed         Event = "review.armed"
	EventReviewCancelled     Event = "review.cancelled"
)

// CatalogReloadedPayload is emitted after the task catalog is re-read.
type CatalogReloadedPayload struct {
	Tasks int
}

// CompletionStartedPayload is emitted when a user starts a task.
type CompletionStartedPayload struct {
	Completion completion.Completion
}

// CompletionSubmittedPayload is emitted when a task enters review.
type CompletionSubmittedPayload struct {
	Completion completion.Completion
	Deadline   time.Time
}

// CompletionCompletedPayload is emitted once per completion, when the
// transition into Completed is persisted.
type CompletionCompletedPayload struct {
	Completion completion.Completion
}

// ReviewArmedPayload is emitted when the countdown for a completion is armed.
type ReviewArmedPayload struct {
	Key    completion.Key
	FireAt time.Time
}

// ReviewCancelledPayload is emitted when a pending countdown is cancelled.
type ReviewCancelledPayload struct {
	Key completion.Key
}

// PublishCatalogReloaded publishes a catalog.reloaded event.
func (bus *EventBus) PublishCatalogReloaded(p CatalogReloadedPayload) {
	bus.send(EventCatalogReloaded, p)
}

// SubscribeCatalogReloaded registers fn for catalog.reloaded events.
func (bus *EventBus) SubscribeCatalogReloaded(fn func(CatalogReloadedPayload)) {
	bus.subscribe(EventCatalogReloaded, func(p any) { fn(p.(CatalogReloadedPayload)) })
}

// PublishCompletionCompleted publishes a completion.completed event.
func (bus *EventBus) PublishCompletionCompleted(p CompletionCompletedPayload) {
	bus.send(EventCompletionCompleted, p)
}

// SubscribeCompletionCompleted registers fn for completion.completed events.
func (bus *EventBus) SubscribeCompletionCompleted(fn func(CompletionCompletedPayload)) {
	bus.subscribe(EventCompletionCompleted, func(p any) { fn(p.(CompletionCompletedPayload)) })
}

// PublishCompletionStarted publishes a completion.started event.
func (bus *EventBus) PublishCompletionStarted(p CompletionStartedPayload) {
	bus.send(EventCompletionStarted, p)
}

// SubscribeCompletionStarted registers fn for completion.started events.
func (bus *EventBus) SubscribeCompletionStarted(fn func(CompletionStartedPayload)) {
	bus.subscribe(EventCompletionStarted, func(p any) { fn(p.(CompletionStartedPayload)) })
}

// PublishCompletionSubmitted publishes a completion.submitted event.
func (bus *EventBus) PublishCompletionSubmitted(p CompletionSubmittedPayload) {
	bus.send(EventCompletionSubmitted, p)
}

// SubscribeCompletionSubmitted registers fn for completion.submitted events.
func (bus *EventBus) SubscribeCompletionSubmitted(fn func(CompletionSubmittedPayload)) {
	bus.subscribe(EventCompletionSubmitted, func(p any) { fn(p.(CompletionSubmittedPayload)) })
}

// PublishReviewArmed publishes a review.armed event.
func (bus *EventBus) PublishReviewArmed(p ReviewArmedPayload) {
	bus.send(EventReviewArmed, p)
}

// SubscribeReviewArmed registers fn for review.armed events.
func (bus *EventBus) SubscribeReviewArmed(fn func(ReviewArmedPayload)) {
	bus.subscribe(EventReviewArmed, func(p any) { fn(p.(ReviewArmedPayload)) })
}

// PublishReviewCancelled publishes a review.cancelled event.
func (bus *EventBus) PublishReviewCancelled(p ReviewCancelledPayload) {
	bus.send(EventReviewCancelled, p)
}

// SubscribeReviewCancelled registers fn for review.cancelled events.
func (bus *EventBus) SubscribeReviewCancelled(fn func(ReviewCancelledPayload)) {
	bus.subscribe(EventReviewCancelled, func(p any) { fn(p.(ReviewCancelledPayload)) })
}
