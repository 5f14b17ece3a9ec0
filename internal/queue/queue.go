// Package queue provides the delayed-visibility dispatch task queue.
//
// A task enqueued with a delay stays invisible until due, is delivered to
// exactly one worker at a time, and is redelivered with exponential backoff
// when the worker reports a retryable failure. Retry bookkeeping lives
// entirely in the queue; workers only classify failures.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/23f1001861/email-sender/internal/domain"
)

// Defaults applied by Enqueue when Options fields are zero.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 5 * time.Second
)

// Options controls delivery timing and the retry budget of one task.
type Options struct {
	// Delay is how long the task stays invisible after enqueue.
	Delay time.Duration

	// MaxAttempts is the total number of deliveries, the first included.
	MaxAttempts int

	// BackoffBase seeds the redelivery schedule: after the n-th failed
	// attempt the task is redelivered in BackoffBase * 2^(n-1).
	BackoffBase time.Duration
}

// Delivery is one visible delivery of a task to a worker. Attempt counts
// this delivery; a worker seeing Attempt == MaxAttempts knows a transient
// failure will not be retried again.
type Delivery struct {
	TaskID      uuid.UUID
	Attempt     int // 1-based
	MaxAttempts int
	Task        domain.DispatchTask
}

// FailureKind classifies a handler failure for redelivery decisions.
type FailureKind int

const (
	// KindTransient failures consume a delivery attempt and are retried
	// with backoff until the budget runs out.
	KindTransient FailureKind = iota

	// KindRateLimited failures are retried with backoff but do not consume
	// an attempt; quota deferrals never exhaust the send budget.
	KindRateLimited

	// KindPermanent failures drop the task immediately.
	KindPermanent
)

func (k FailureKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// TaskError tags an error with an explicit failure kind so that retry
// classification never depends on message text.
type TaskError struct {
	Kind FailureKind
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure that consumes an attempt.
func Transient(err error) error {
	return &TaskError{Kind: KindTransient, Err: err}
}

// RateLimited wraps err as a quota deferral that does not consume an attempt.
func RateLimited(err error) error {
	return &TaskError{Kind: KindRateLimited, Err: err}
}

// Permanent wraps err as a failure that must not be retried.
func Permanent(err error) error {
	return &TaskError{Kind: KindPermanent, Err: err}
}

// KindOf extracts the failure kind from err. Untagged errors are treated as
// transient, matching the dispatcher's default posture toward unknown
// failures.
func KindOf(err error) FailureKind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindTransient
}

// backoffDelay returns the redelivery delay after the given number of
// completed attempts (1-based). The series for a 5s base is 5s, 10s, 20s.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	const maxShift = 16
	shift := attempts - 1
	if shift > maxShift {
		shift = maxShift
	}
	return base << shift
}
