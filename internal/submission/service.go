// Package submission turns a validated batch request into persisted state
// and one timed dispatch task per recipient.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/23f1001861/email-sender/internal/domain"
	"github.com/23f1001861/email-sender/internal/queue"
)

// Recipients whose send time is less than this far away are classified
// immediate and persisted as pending; everything later starts scheduled.
const immediateThreshold = 10 * time.Second

// Retry budget stamped on every dispatch task.
const (
	taskMaxAttempts = 3
	taskBackoffBase = 5 * time.Second
)

var (
	// ErrUserNotFound is returned by Store lookups that match no user.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned by Store.CreateUser on the unique email
	// constraint; it marks the race recovered by re-fetching.
	ErrUserExists = errors.New("user email already exists")
)

type Store interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (domain.User, error)
	// CreateUser MUST surface the unique email constraint as ErrUserExists.
	CreateUser(ctx context.Context, user domain.User) error
	// CreateJobWithRecipients persists the job and all recipients in a
	// single transaction; either everything commits or nothing does.
	CreateJobWithRecipients(ctx context.Context, job domain.Job, recipients []domain.Recipient) error
}

// TaskQueue is the delayed-visibility queue tasks are fanned out to.
type TaskQueue interface {
	Enqueue(ctx context.Context, task domain.DispatchTask, opts queue.Options) (uuid.UUID, error)
}

// MetricsSink records submission metrics; methods must not block.
type MetricsSink interface {
	SubmissionAccepted(recipients int)
	SubmissionRejected()
	EnqueueError()
}

// Request is one batch email submission.
type Request struct {
	Subject      string
	Body         string
	Recipients   []string
	StartTime    time.Time
	DelaySeconds int
	HourlyLimit  int
	UserID       uuid.UUID
	UserEmail    string
}

// Result is returned to the caller on success.
type Result struct {
	JobID          uuid.UUID
	RecipientCount int
	ScheduledFor   time.Time
}

// EnqueueError reports that recipients were committed but their tasks could
// not be enqueued. It carries the ids an operator needs for manual
// recovery; the reconciler also picks these recipients up once they are
// past due.
type EnqueueError struct {
	JobID        uuid.UUID
	RecipientIDs []uuid.UUID
	Err          error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("job %s: enqueue failed for %d recipients: %v", e.JobID, len(e.RecipientIDs), e.Err)
}

func (e *EnqueueError) Unwrap() error {
	return e.Err
}

type Service struct {
	store   Store
	queue   TaskQueue
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(store Store, taskQueue TaskQueue) *Service {
	return &Service{
		store: store,
		queue: taskQueue,
		clock: time.Now,
	}
}

// WithMetrics attaches a metrics sink to the service.
func (s *Service) WithMetrics(sink MetricsSink) *Service {
	s.metrics = sink
	return s
}

// WithClock overrides the time source. Only for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Submit validates the request, persists one job with its recipients in a
// single transaction, then enqueues one dispatch task per recipient with
// the stagger delay baked into each task's visibility delay.
//
// Persistence and enqueue span two systems and are not atomic: the commit
// happens first, and an enqueue failure afterwards is returned as an
// *EnqueueError naming the affected ids rather than pretending the batch
// never happened.
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		if s.metrics != nil {
			s.metrics.SubmissionRejected()
		}
		return Result{}, err
	}

	now := s.clock().UTC()

	user, err := s.resolveUser(ctx, req, now)
	if err != nil {
		return Result{}, fmt.Errorf("resolve user: %w", err)
	}

	job := domain.Job{
		ID:           uuid.New(),
		Subject:      req.Subject,
		Body:         req.Body,
		ScheduledFor: req.StartTime.UTC(),
		DelaySeconds: req.DelaySeconds,
		HourlyLimit:  req.HourlyLimit,
		Status:       domain.JobStatusPending,
		UserID:       user.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	recipients := make([]domain.Recipient, len(req.Recipients))
	delays := make([]time.Duration, len(req.Recipients))
	for i, email := range req.Recipients {
		scheduledAt := job.RecipientScheduledAt(i)

		delay := scheduledAt.Sub(now)
		if delay < 0 {
			delay = 0
		}
		delays[i] = delay

		status := domain.RecipientStatusScheduled
		if delay < immediateThreshold {
			status = domain.RecipientStatusPending
		}

		recipients[i] = domain.Recipient{
			ID:          uuid.New(),
			Email:       email,
			JobID:       job.ID,
			Status:      status,
			ScheduledAt: scheduledAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	if err := s.store.CreateJobWithRecipients(ctx, job, recipients); err != nil {
		return Result{}, fmt.Errorf("create job: %w", err)
	}

	for i, r := range recipients {
		task := domain.DispatchTask{
			RecipientID: r.ID,
			JobID:       job.ID,
			Email:       r.Email,
			Subject:     job.Subject,
			Body:        job.Body,
			UserID:      job.UserID,
			HourlyLimit: job.HourlyLimit,
		}

		opts := queue.Options{
			Delay:       delays[i],
			MaxAttempts: taskMaxAttempts,
			BackoffBase: taskBackoffBase,
		}

		if _, err := s.queue.Enqueue(ctx, task, opts); err != nil {
			// The job and its recipients are committed; without a task a
			// recipient is undeliverable, so the caller gets the ids.
			if s.metrics != nil {
				s.metrics.EnqueueError()
			}
			remaining := make([]uuid.UUID, 0, len(recipients)-i)
			for _, rest := range recipients[i:] {
				remaining = append(remaining, rest.ID)
			}
			return Result{}, &EnqueueError{JobID: job.ID, RecipientIDs: remaining, Err: err}
		}
	}

	if s.metrics != nil {
		s.metrics.SubmissionAccepted(len(recipients))
	}
	log.Printf("submission: job=%s user=%s recipients=%d start=%s delay=%ds",
		job.ID, job.UserID, len(recipients), job.ScheduledFor.Format(time.RFC3339), job.DelaySeconds)

	return Result{
		JobID:          job.ID,
		RecipientCount: len(recipients),
		ScheduledFor:   job.ScheduledFor,
	}, nil
}

// resolveUser finds the owning user, creating it on first submission.
// A create losing the unique-email race re-fetches by email instead of
// failing the request.
func (s *Service) resolveUser(ctx context.Context, req Request, now time.Time) (domain.User, error) {
	user, err := s.store.FindUserByID(ctx, req.UserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return domain.User{}, err
	}

	if req.UserEmail == "" {
		return domain.User{}, fmt.Errorf("user %s: %w", req.UserID, ErrUserNotFound)
	}

	user = domain.User{ID: req.UserID, Email: req.UserEmail, CreatedAt: now}
	err = s.store.CreateUser(ctx, user)
	if err == nil {
		return user, nil
	}
	if errors.Is(err, ErrUserExists) {
		return s.store.FindUserByEmail(ctx, req.UserEmail)
	}
	return domain.User{}, err
}
