// Package reconciler sweeps for recipients whose dispatch task went
// missing.
//
// Persistence and enqueue span two systems, so a crash or queue failure
// between commit and fan-out can leave a recipient in pending/scheduled
// with no task to deliver it: a stuck, undeliverable state. The sweep
// finds recipients past due by more than a threshold and enqueues a fresh
// task for each. The store's sent guard makes a duplicate task harmless
// to job state; a duplicate send on overlap is the accepted cost of
// recovery.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/23f1001861/email-sender/internal/domain"
	"github.com/23f1001861/email-sender/internal/queue"
)

// StuckRecipient is one past-due recipient joined with the job fields a
// replacement dispatch task needs.
type StuckRecipient struct {
	Task        domain.DispatchTask
	ScheduledAt time.Time
}

// Store defines the interface for fetching stuck recipients.
type Store interface {
	GetStuckRecipients(ctx context.Context, olderThan time.Time, maxResults int) ([]StuckRecipient, error)
}

// TaskQueue re-enqueues replacement tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, task domain.DispatchTask, opts queue.Options) (taskID uuid.UUID, err error)
}

// MetricsSink records sweep results; methods must not block.
type MetricsSink interface {
	StuckRecipientsUpdate(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the sweep runs. Default: 5 minutes.
	Interval time.Duration

	// Threshold is how far past its scheduled time a recipient must be
	// before it counts as stuck. It must exceed the queue's full retry
	// window so in-flight retries are never double-enqueued. Default: 15
	// minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of recipients per cycle. Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 15 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler detects stuck recipients and re-enqueues dispatch tasks.
type Reconciler struct {
	config  Config
	store   Store
	queue   TaskQueue
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store, taskQueue TaskQueue) *Reconciler {
	return &Reconciler{
		config: config,
		store:  store,
		queue:  taskQueue,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// WithClock overrides the time source. Only for tests.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	olderThan := now.Add(-r.config.Threshold)

	stuck, err := r.store.GetStuckRecipients(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to fetch stuck recipients: %v", err)
		return
	}

	if r.metrics != nil {
		r.metrics.StuckRecipientsUpdate(len(stuck))
	}

	if len(stuck) == 0 {
		// Nothing to do. Silent success.
		return
	}

	log.Printf("reconciler: found %d stuck recipients", len(stuck))

	enqueued := 0
	failed := 0

	for _, sr := range stuck {
		// Check context before each enqueue to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d recipients", enqueued+failed, len(stuck))
			return
		}

		opts := queue.Options{
			MaxAttempts: queue.DefaultMaxAttempts,
			BackoffBase: queue.DefaultBackoffBase,
		}

		if _, err := r.queue.Enqueue(ctx, sr.Task, opts); err != nil {
			log.Printf("reconciler: failed to re-enqueue recipient=%s job=%s: %v",
				sr.Task.RecipientID, sr.Task.JobID, err)
			failed++
			continue
		}

		log.Printf("reconciler: re-enqueued recipient=%s job=%s scheduled_at=%s (age=%s)",
			sr.Task.RecipientID, sr.Task.JobID, sr.ScheduledAt.Format(time.RFC3339),
			now.Sub(sr.ScheduledAt).Round(time.Second))
		enqueued++
	}

	log.Printf("reconciler: cycle complete, re-enqueued=%d, failed=%d", enqueued, failed)
}
