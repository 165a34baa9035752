package completion

import "errors"

var (
	// ErrInvalidTransition is returned when an event is not valid from the
	// current status. Callers should re-read the record rather than retry.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyCompleted is returned for any event applied to a completed
	// record. It is a benign, idempotent outcome.
	ErrAlreadyCompleted = errors.New("completion already completed")
	// ErrReviewPending is returned when auto-approval is attempted before the
	// review window has elapsed.
	ErrReviewPending = errors.New("review window has not elapsed")
	// ErrEngagementTooShort is returned when a task is submitted before its
	// minimum engagement time.
	ErrEngagementTooShort = errors.New("minimum engagement time not reached")
	// ErrNotFound is returned by stores when no record exists for the pair.
	ErrNotFound = errors.New("completion not found")
	// ErrStaleWrite is returned when a compare-and-swap upsert finds the
	// stored status differs from the expected one.
	ErrStaleWrite = errors.New("stale write: status changed concurrently")
	// ErrStoreUnavailable wraps transient persistence failures.
	ErrStoreUnavailable = errors.New("completion store unavailable")

	ErrMissingIdentity    = errors.New("completion requires user and task ids")
	ErrUnknownStatus      = errors.New("unknown completion status")
	ErrInconsistentRecord = errors.New("completion fields inconsistent with status")
	ErrNegativeReward     = errors.New("reward must not be negative")
	ErrMissingReward      = errors.New("reviewing completion has no reward snapshot")
)

// IsBenign reports whether err is an idempotent outcome that callers should
// treat as success.
func IsBenign(err error) bool {
	return errors.Is(err, ErrAlreadyCompleted)
}

// IsRetryable reports whether err is transient and the caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
