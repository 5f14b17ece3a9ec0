package completion

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23f1001861/email-sender/internal/domain"
	"github.com/23f1001861/email-sender/internal/testutil"
)

type mockStore struct {
	recipients []domain.Recipient
	listErr    error
	updateErr  error

	statusUpdates []domain.JobStatus
}

func (m *mockStore) ListJobRecipients(ctx context.Context, jobID uuid.UUID) ([]domain.Recipient, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.recipients, nil
}

func (m *mockStore) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status domain.JobStatus) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.statusUpdates = append(m.statusUpdates, status)
	return nil
}

var jobID = testutil.MustParseUUID("22222222-2222-2222-2222-222222222222")

func recipients(statuses ...domain.RecipientStatus) []domain.Recipient {
	rs := make([]domain.Recipient, len(statuses))
	for i, s := range statuses {
		rs[i] = domain.Recipient{ID: uuid.New(), JobID: jobID, Status: s}
	}
	return rs
}

func TestRecipientSent_AllSentCompletesJob(t *testing.T) {
	store := &mockStore{recipients: recipients(
		domain.RecipientStatusSent,
		domain.RecipientStatusSent,
		domain.RecipientStatusSent,
	)}

	err := New(store).RecipientSent(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, []domain.JobStatus{domain.JobStatusCompleted}, store.statusUpdates)
}

func TestRecipientSent_PartialLeavesJobAlone(t *testing.T) {
	tests := []struct {
		name     string
		statuses []domain.RecipientStatus
	}{
		{"one pending", []domain.RecipientStatus{domain.RecipientStatusSent, domain.RecipientStatusPending}},
		{"one scheduled", []domain.RecipientStatus{domain.RecipientStatusSent, domain.RecipientStatusScheduled}},
		{"one failed", []domain.RecipientStatus{domain.RecipientStatusSent, domain.RecipientStatusFailed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{recipients: recipients(tt.statuses...)}

			err := New(store).RecipientSent(context.Background(), jobID)
			require.NoError(t, err)
			assert.Empty(t, store.statusUpdates, "job must stay non-completed")
		})
	}
}

func TestRecipientSent_NoRecipientsIsNoop(t *testing.T) {
	store := &mockStore{}

	err := New(store).RecipientSent(context.Background(), jobID)
	require.NoError(t, err)
	assert.Empty(t, store.statusUpdates)
}

func TestRecipientSent_Idempotent(t *testing.T) {
	// Concurrent workers finishing siblings both re-check; writing
	// completed twice is harmless.
	store := &mockStore{recipients: recipients(domain.RecipientStatusSent)}
	tracker := New(store)

	require.NoError(t, tracker.RecipientSent(context.Background(), jobID))
	require.NoError(t, tracker.RecipientSent(context.Background(), jobID))
	assert.Len(t, store.statusUpdates, 2)
	for _, s := range store.statusUpdates {
		assert.Equal(t, domain.JobStatusCompleted, s)
	}
}

type captureSink struct {
	completed int
}

func (c *captureSink) JobCompleted() { c.completed++ }

func TestRecipientSent_CountsCompletedJobs(t *testing.T) {
	store := &mockStore{recipients: recipients(domain.RecipientStatusSent)}
	sink := &captureSink{}
	tracker := New(store).WithMetrics(sink)

	require.NoError(t, tracker.RecipientSent(context.Background(), jobID))
	assert.Equal(t, 1, sink.completed)

	// A partial job does not count.
	store.recipients = recipients(domain.RecipientStatusSent, domain.RecipientStatusPending)
	require.NoError(t, tracker.RecipientSent(context.Background(), jobID))
	assert.Equal(t, 1, sink.completed)
}

func TestRecipientSent_ListErrorPropagates(t *testing.T) {
	store := &mockStore{listErr: errors.New("db down")}

	err := New(store).RecipientSent(context.Background(), jobID)
	assert.ErrorContains(t, err, "list recipients")
}

func TestRecipientSent_UpdateErrorPropagates(t *testing.T) {
	store := &mockStore{
		recipients: recipients(domain.RecipientStatusSent),
		updateErr:  errors.New("db down"),
	}

	err := New(store).RecipientSent(context.Background(), jobID)
	assert.ErrorContains(t, err, "mark completed")
}
