// Package dispatcher runs the worker pool that executes dispatch tasks:
// quota admission, the outbound send, and the recipient state transitions
// that record the outcome.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/23f1001861/email-sender/internal/circuitbreaker"
	"github.com/23f1001861/email-sender/internal/queue"
)

// ErrRecipientFinal is returned by Store implementations when an update
// would change a recipient that already reached sent. A sent recipient is
// never altered again; on replay the update is safely skipped.
var ErrRecipientFinal = errors.New("recipient already sent, update refused")

type Store interface {
	// MarkRecipientSent sets status=sent and the sent timestamp.
	MarkRecipientSent(ctx context.Context, recipientID uuid.UUID, sentAt time.Time) error

	// MarkRecipientFailed sets status=failed, records the error message and
	// increments the retry count.
	MarkRecipientFailed(ctx context.Context, recipientID uuid.UUID, errorMessage string) error

	// MarkRecipientDeferred sets status=scheduled with a new scheduled time.
	// Implementations MUST refuse updates to sent recipients and return
	// ErrRecipientFinal; the same holds for the two methods above.
	MarkRecipientDeferred(ctx context.Context, recipientID uuid.UUID, scheduledAt time.Time) error
}

// QuotaLimiter admits a send against the user's hourly quota.
type QuotaLimiter interface {
	Admit(ctx context.Context, userID uuid.UUID, hourlyLimit int) (bool, error)
}

// CompletionTracker is invoked after each successful send.
type CompletionTracker interface {
	RecipientSent(ctx context.Context, jobID uuid.UUID) error
}

// TaskSource is the queue side the worker pool consumes from. Finish hands
// the outcome back so the queue can apply its retry bookkeeping.
type TaskSource interface {
	Deliveries() <-chan queue.Delivery
	Finish(ctx context.Context, d queue.Delivery, err error)
}

// Breaker gates sends per recipient email domain.
type Breaker interface {
	Allow(domain string) error
	RecordSuccess(domain string)
	RecordFailure(domain string)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SendAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	SendOutcome(outcome string)
	RateLimitDeferral()
	TasksInFlightIncr()
	TasksInFlightDecr()
}

// Config sizes the pool, independent of any per-user quota.
type Config struct {
	// Workers bounds simultaneous in-flight tasks. Default 5.
	Workers int

	// Throughput and ThroughputWindow form the coarse global ceiling on
	// task completions across all workers. Default 10 per 60s.
	Throughput       int
	ThroughputWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.Throughput <= 0 {
		c.Throughput = 10
	}
	if c.ThroughputWindow <= 0 {
		c.ThroughputWindow = time.Minute
	}
	return c
}

type Dispatcher struct {
	config     Config
	store      Store
	mailer     Mailer
	limiter    QuotaLimiter
	completion CompletionTracker
	source     TaskSource
	breaker    Breaker     // optional, nil = disabled
	metrics    MetricsSink // optional, nil = disabled
	throughput *rate.Limiter
	clock      func() time.Time
	nextWindow func(time.Time) time.Time
}

// New creates a dispatcher. nextWindow computes the persisted scheduledAt
// hint for quota-deferred recipients (start of the next hour bucket).
func New(config Config, store Store, mailer Mailer, limiter QuotaLimiter, completion CompletionTracker, source TaskSource, nextWindow func(time.Time) time.Time) *Dispatcher {
	config = config.withDefaults()
	perSecond := float64(config.Throughput) / config.ThroughputWindow.Seconds()
	return &Dispatcher{
		config:     config,
		store:      store,
		mailer:     mailer,
		limiter:    limiter,
		completion: completion,
		source:     source,
		throughput: rate.NewLimiter(rate.Limit(perSecond), config.Throughput),
		clock:      time.Now,
		nextWindow: nextWindow,
	}
}

// WithBreaker attaches a per-domain circuit breaker.
func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithClock overrides the time source. Only for tests.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// workers have returned. A failing task never brings a worker down.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case del, ok := <-d.source.Deliveries():
			if !ok {
				return
			}
			if err := d.throughput.Wait(ctx); err != nil {
				return
			}
			d.source.Finish(ctx, del, d.handle(ctx, del))
		}
	}
}

// handle executes one delivery and returns the tagged outcome the queue
// bases its redelivery decision on.
func (d *Dispatcher) handle(ctx context.Context, del queue.Delivery) error {
	if d.metrics != nil {
		d.metrics.TasksInFlightIncr()
		defer d.metrics.TasksInFlightDecr()
	}

	task := del.Task

	admitted, err := d.limiter.Admit(ctx, task.UserID, task.HourlyLimit)
	if err != nil {
		log.Printf("dispatcher: recipient=%s quota check failed: %v", task.RecipientID, err)
		return queue.Transient(fmt.Errorf("quota check: %w", err))
	}

	if !admitted {
		// Deferred, not failed: the recipient goes back to scheduled with
		// the next window as its hint, and the deferral does not consume a
		// send attempt. The queue redelivers on its own backoff schedule,
		// which may come up before the persisted hint; an early redelivery
		// just defers again.
		next := ratelimitNext(d.nextWindow, d.clock())
		if err := d.store.MarkRecipientDeferred(ctx, task.RecipientID, next); err != nil {
			if errors.Is(err, ErrRecipientFinal) {
				return nil
			}
			log.Printf("dispatcher: recipient=%s defer update failed: %v", task.RecipientID, err)
		}
		if d.metrics != nil {
			d.metrics.RateLimitDeferral()
		}
		log.Printf("dispatcher: recipient=%s user=%s over hourly limit %d, deferred to %s",
			task.RecipientID, task.UserID, task.HourlyLimit, next.Format(time.RFC3339))
		return queue.RateLimited(fmt.Errorf("user %s over hourly limit %d", task.UserID, task.HourlyLimit))
	}

	emailDomain := domainOf(task.Email)
	if d.breaker != nil {
		if err := d.breaker.Allow(emailDomain); err != nil {
			return d.recordFailure(ctx, del, SendResult{Error: err}, emailDomain)
		}
	}

	result := d.mailer.Send(ctx, SendRequest{
		To:          task.Email,
		Subject:     task.Subject,
		HTML:        task.Body,
		RecipientID: task.RecipientID.String(),
	})

	if d.metrics != nil {
		d.metrics.SendAttemptCompleted(del.Attempt, classifyStatus(result.StatusCode, result.Error), result.Duration)
	}

	if result.IsSuccess() {
		return d.recordSuccess(ctx, del, result, emailDomain)
	}
	return d.recordFailure(ctx, del, result, emailDomain)
}

func (d *Dispatcher) recordSuccess(ctx context.Context, del queue.Delivery, result SendResult, emailDomain string) error {
	if d.breaker != nil {
		d.breaker.RecordSuccess(emailDomain)
	}

	task := del.Task
	sentAt := d.clock().UTC()
	if err := d.store.MarkRecipientSent(ctx, task.RecipientID, sentAt); err != nil {
		if errors.Is(err, ErrRecipientFinal) {
			// Already recorded by an earlier delivery of this task.
			return nil
		}
		return queue.Transient(fmt.Errorf("mark sent: %w", err))
	}

	log.Printf("dispatcher: recipient=%s sent attempt=%d message_id=%s", task.RecipientID, del.Attempt, result.MessageID)
	if d.metrics != nil {
		d.metrics.SendOutcome("sent")
	}

	if err := d.completion.RecipientSent(ctx, task.JobID); err != nil {
		// The job stays processing until a sibling's completion check
		// succeeds; the send itself is done.
		log.Printf("dispatcher: job=%s completion check failed: %v", task.JobID, err)
	}
	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, del queue.Delivery, result SendResult, emailDomain string) error {
	if d.breaker != nil && !errors.Is(result.Error, circuitbreaker.ErrCircuitOpen) {
		d.breaker.RecordFailure(emailDomain)
	}

	task := del.Task
	message := failureMessage(result)

	if err := d.store.MarkRecipientFailed(ctx, task.RecipientID, message); err != nil {
		if errors.Is(err, ErrRecipientFinal) {
			return nil
		}
		log.Printf("dispatcher: recipient=%s failure update failed: %v", task.RecipientID, err)
	}

	sendErr := result.Error
	if sendErr == nil {
		sendErr = fmt.Errorf("mailer returned status %d", result.StatusCode)
	}

	if !result.IsRetryable() {
		log.Printf("dispatcher: recipient=%s permanent failure: %s", task.RecipientID, message)
		if d.metrics != nil {
			d.metrics.SendOutcome("failed")
		}
		return queue.Permanent(sendErr)
	}

	if del.Attempt >= del.MaxAttempts {
		// Budget exhausted; the recipient stays failed with this message.
		log.Printf("dispatcher: recipient=%s failed after %d attempts: %s", task.RecipientID, del.Attempt, message)
		if d.metrics != nil {
			d.metrics.SendOutcome("failed")
		}
	} else {
		log.Printf("dispatcher: recipient=%s attempt=%d failed, will retry: %s", task.RecipientID, del.Attempt, message)
	}
	return queue.Transient(sendErr)
}

func failureMessage(result SendResult) string {
	if result.Error != nil {
		return result.Error.Error()
	}
	return fmt.Sprintf("mailer returned status %d", result.StatusCode)
}

// domainOf returns the lowercased domain part of an email address.
func domainOf(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return email
	}
	return strings.ToLower(email[at+1:])
}

func ratelimitNext(nextWindow func(time.Time) time.Time, now time.Time) time.Time {
	if nextWindow == nil {
		return now.UTC().Truncate(time.Hour).Add(time.Hour)
	}
	return nextWindow(now)
}

// classifyStatus maps a status code and error to a bounded-cardinality
// metrics label: 2xx, 4xx, 5xx, timeout, connection_error, other_error.
func classifyStatus(statusCode int, err error) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial") {
			return "connection_error"
		}
		return "other_error"
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other_error"
	}
}
