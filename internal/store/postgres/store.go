package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/23f1001861/email-sender/internal/api"
	"github.com/23f1001861/email-sender/internal/completion"
	"github.com/23f1001861/email-sender/internal/dispatcher"
	"github.com/23f1001861/email-sender/internal/domain"
	"github.com/23f1001861/email-sender/internal/reconciler"
	"github.com/23f1001861/email-sender/internal/submission"
)

// Store implements the submission, dispatcher, completion, reconciler and
// api store interfaces using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a store over the given connection pool. opTimeout bounds
// every single statement; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// CreateUser inserts a user record.
// Returns submission.ErrUserExists on the unique email constraint so the
// caller can recover the creation race by re-fetching.
func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertUser, user.ID, user.Email, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return submission.ErrUserExists
		}
		return err
	}
	return nil
}

func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var user domain.User
	err := s.db.QueryRowContext(ctx, queryGetUserByID, id).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, submission.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var user domain.User
	err := s.db.QueryRowContext(ctx, queryGetUserByEmail, email).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, submission.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

// CreateJobWithRecipients inserts the job and all its recipients in one
// transaction. A partial batch never becomes visible.
func (s *Store) CreateJobWithRecipients(ctx context.Context, job domain.Job, recipients []domain.Recipient) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertJob,
		job.ID,
		job.Subject,
		job.Body,
		job.ScheduledFor,
		job.DelaySeconds,
		job.HourlyLimit,
		string(job.Status),
		job.UserID,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, r := range recipients {
		_, err = tx.ExecContext(ctx, queryInsertRecipient,
			r.ID,
			r.Email,
			r.JobID,
			string(r.Status),
			r.ScheduledAt,
			r.ErrorMessage,
			r.RetryCount,
			r.CreatedAt,
			r.UpdatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// MarkRecipientSent records a successful send.
// Returns dispatcher.ErrRecipientFinal if the recipient already reached
// sent. The guard lives in the UPDATE's WHERE clause, so concurrent
// deliveries of the same task serialize on the row lock.
func (s *Store) MarkRecipientSent(ctx context.Context, recipientID uuid.UUID, sentAt time.Time) error {
	return s.guardedRecipientUpdate(ctx, queryMarkRecipientSent, recipientID, sentAt, sentAt)
}

// MarkRecipientFailed records a failed attempt and bumps retry_count.
func (s *Store) MarkRecipientFailed(ctx context.Context, recipientID uuid.UUID, errorMessage string) error {
	now := time.Now().UTC()
	return s.guardedRecipientUpdate(ctx, queryMarkRecipientFailed, recipientID, errorMessage, now)
}

// MarkRecipientDeferred moves a recipient back to scheduled with a new
// scheduled time after a quota deferral.
func (s *Store) MarkRecipientDeferred(ctx context.Context, recipientID uuid.UUID, scheduledAt time.Time) error {
	now := time.Now().UTC()
	return s.guardedRecipientUpdate(ctx, queryMarkRecipientDeferred, recipientID, scheduledAt, now)
}

func (s *Store) guardedRecipientUpdate(ctx context.Context, query string, recipientID uuid.UUID, arg any, updatedAt time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, query, recipientID, arg, updatedAt)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Either the recipient does not exist or it is already sent.
		var status string
		err := s.db.QueryRowContext(ctx, queryGetRecipientStatus, recipientID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return dispatcher.ErrRecipientFinal
	}

	return nil
}

func (s *Store) ListJobRecipients(ctx context.Context, jobID uuid.UUID) ([]domain.Recipient, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListJobRecipients, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		var status string
		var sentAt sql.NullTime

		err := rows.Scan(
			&r.ID,
			&r.Email,
			&r.JobID,
			&status,
			&r.ScheduledAt,
			&sentAt,
			&r.ErrorMessage,
			&r.RetryCount,
			&r.CreatedAt,
			&r.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		r.Status = domain.RecipientStatus(status)
		if sentAt.Valid {
			t := sentAt.Time
			r.SentAt = &t
		}
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status domain.JobStatus) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpdateJobStatus, jobID, string(status), time.Now().UTC())
	return err
}

// ListScheduledEmails returns the caller's not-yet-sent recipients, oldest
// scheduled time first, capped at limit rows.
func (s *Store) ListScheduledEmails(ctx context.Context, userEmail string, limit int) ([]api.ScheduledEmail, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListScheduledEmails, userEmail, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []api.ScheduledEmail
	for rows.Next() {
		var e api.ScheduledEmail
		if err := rows.Scan(&e.ID, &e.Email, &e.Subject, &e.Body, &e.ScheduledFor, &e.Status); err != nil {
			return nil, err
		}
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// ListSentEmails returns the caller's delivered and permanently failed
// recipients, most recent send first, capped at limit rows.
func (s *Store) ListSentEmails(ctx context.Context, userEmail string, limit int) ([]api.SentEmail, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListSentEmails, userEmail, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []api.SentEmail
	for rows.Next() {
		var e api.SentEmail
		var sentAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Email, &e.Subject, &e.Body, &sentAt, &e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			t := sentAt.Time
			e.SentAt = &t
		}
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetStuckRecipients returns recipients that are past due but still
// pending or scheduled, joined with the job fields a fresh dispatch task
// needs. Oldest first, limited to maxResults.
func (s *Store) GetStuckRecipients(ctx context.Context, olderThan time.Time, maxResults int) ([]reconciler.StuckRecipient, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetStuckRecipients, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reconciler.StuckRecipient
	for rows.Next() {
		var sr reconciler.StuckRecipient
		err := rows.Scan(
			&sr.Task.RecipientID,
			&sr.Task.JobID,
			&sr.Task.Email,
			&sr.Task.Subject,
			&sr.Task.Body,
			&sr.Task.UserID,
			&sr.Task.HourlyLimit,
			&sr.ScheduledAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, sr)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// isUniqueViolation checks for a PostgreSQL unique constraint violation
// (code 23505) via the driver's typed error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Compile-time interface assertions
var (
	_ submission.Store = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ completion.Store = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
	_ api.Store        = (*Store)(nil)
)
