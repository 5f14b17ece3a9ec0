// Package completion decides whether a job is fully done after each
// successful send.
package completion

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/23f1001861/email-sender/internal/domain"
)

type Store interface {
	ListJobRecipients(ctx context.Context, jobID uuid.UUID) ([]domain.Recipient, error)
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status domain.JobStatus) error
}

// MetricsSink counts completed jobs; methods must not block.
type MetricsSink interface {
	JobCompleted()
}

// Tracker re-checks a job's recipients and marks the job completed once
// every one of them has been sent. The check is a monotone predicate over
// recipient states, so concurrent invocations from workers finishing
// siblings at the same time converge on the same single terminal write;
// writing completed twice is harmless.
type Tracker struct {
	store   Store
	metrics MetricsSink // optional, nil = disabled
}

func New(store Store) *Tracker {
	return &Tracker{store: store}
}

// WithMetrics attaches a metrics sink.
func (t *Tracker) WithMetrics(sink MetricsSink) *Tracker {
	t.metrics = sink
	return t
}

// RecipientSent is invoked after a recipient of the job reached sent.
// It never runs for failed or deferred recipients: a job with a permanent
// failure simply stays non-completed.
func (t *Tracker) RecipientSent(ctx context.Context, jobID uuid.UUID) error {
	recipients, err := t.store.ListJobRecipients(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil
	}

	for _, r := range recipients {
		if r.Status != domain.RecipientStatusSent {
			return nil
		}
	}

	if err := t.store.UpdateJobStatus(ctx, jobID, domain.JobStatusCompleted); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	if t.metrics != nil {
		t.metrics.JobCompleted()
	}
	log.Printf("completion: job=%s completed, %d recipients sent", jobID, len(recipients))
	return nil
}
