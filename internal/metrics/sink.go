package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Submission metrics
	SubmissionAccepted(recipients int)
	SubmissionRejected()
	EnqueueError()

	// Dispatcher metrics
	SendAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	SendOutcome(outcome string)
	RateLimitDeferral()
	TasksInFlightIncr()
	TasksInFlightDecr()

	// Completion metrics
	JobCompleted()

	// Queue metrics
	QueueDepthUpdate(depth int)

	// Reconciler metrics
	StuckRecipientsUpdate(count int)
}

// Outcome constants for SendOutcome.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)
