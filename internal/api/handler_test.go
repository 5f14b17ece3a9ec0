package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23f1001861/email-sender/internal/submission"
	"github.com/23f1001861/email-sender/internal/testutil"
)

type mockStore struct {
	scheduled []ScheduledEmail
	sent      []SentEmail
	err       error

	gotUserEmail string
	gotLimit     int
}

func (m *mockStore) ListScheduledEmails(ctx context.Context, userEmail string, limit int) ([]ScheduledEmail, error) {
	m.gotUserEmail = userEmail
	m.gotLimit = limit
	return m.scheduled, m.err
}

func (m *mockStore) ListSentEmails(ctx context.Context, userEmail string, limit int) ([]SentEmail, error) {
	m.gotUserEmail = userEmail
	m.gotLimit = limit
	return m.sent, m.err
}

type mockSubmitter struct {
	result  submission.Result
	err     error
	lastReq submission.Request
}

func (m *mockSubmitter) Submit(ctx context.Context, req submission.Request) (submission.Result, error) {
	m.lastReq = req
	return m.result, m.err
}

type mockPinger struct{ err error }

func (p mockPinger) PingContext(ctx context.Context) error { return p.err }

func validBody() map[string]any {
	return map[string]any{
		"subject":      "June launch",
		"body":         "<p>hello</p>",
		"recipients":   []string{"a@example.com"},
		"startTime":    "2025-06-01T12:00:00Z",
		"delaySeconds": 5,
		"hourlyLimit":  100,
		"userId":       "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		"userEmail":    "owner@example.com",
	}
}

func postSchedule(t *testing.T, h *Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/api/emails/schedule", &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSchedule_Success(t *testing.T) {
	jobID := testutil.MustParseUUID("99999999-9999-9999-9999-999999999999")
	sub := &mockSubmitter{result: submission.Result{
		JobID:          jobID,
		RecipientCount: 1,
		ScheduledFor:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}}
	h := NewHandler(&mockStore{}, sub)

	rec := postSchedule(t, h, validBody())

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID.String(), resp.JobID)
	assert.Equal(t, 1, resp.RecipientCount)
	assert.Equal(t, "2025-06-01T12:00:00Z", resp.ScheduledFor)

	// Wire fields made it through to the submission request.
	assert.Equal(t, "June launch", sub.lastReq.Subject)
	assert.Equal(t, 5, sub.lastReq.DelaySeconds)
	assert.Equal(t, testutil.MustParseUUID("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"), sub.lastReq.UserID)
}

func TestSchedule_InvalidJSON(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockSubmitter{})

	req := httptest.NewRequest(http.MethodPost, "/api/emails/schedule", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedule_BodyTooLarge(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockSubmitter{})

	body := validBody()
	body["body"] = strings.Repeat("x", maxRequestBodySize+1)
	rec := postSchedule(t, h, body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSchedule_BadStartTime(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockSubmitter{})

	body := validBody()
	body["startTime"] = "tomorrow"
	rec := postSchedule(t, h, body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "startTime", resp.Field)
}

func TestSchedule_BadUserID(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockSubmitter{})

	body := validBody()
	body["userId"] = "not-a-uuid"
	rec := postSchedule(t, h, body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "userId", resp.Field)
}

func TestSchedule_ValidationErrorFromService(t *testing.T) {
	sub := &mockSubmitter{err: &submission.ValidationError{Field: "hourlyLimit", Message: "must be between 1 and 1000"}}
	h := NewHandler(&mockStore{}, sub)

	rec := postSchedule(t, h, validBody())

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hourlyLimit", resp.Field)
	assert.Equal(t, "must be between 1 and 1000", resp.Error)
}

func TestSchedule_EnqueueErrorNamesRecipients(t *testing.T) {
	jobID := testutil.MustParseUUID("99999999-9999-9999-9999-999999999999")
	stuck := []uuid.UUID{uuid.New(), uuid.New()}
	sub := &mockSubmitter{err: &submission.EnqueueError{
		JobID:        jobID,
		RecipientIDs: stuck,
		Err:          errors.New("queue full"),
	}}
	h := NewHandler(&mockStore{}, sub)

	rec := postSchedule(t, h, validBody())

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID.String(), resp.JobID)
	require.Len(t, resp.RecipientIDs, 2)
	assert.Equal(t, stuck[0].String(), resp.RecipientIDs[0])
}

func TestSchedule_InternalError(t *testing.T) {
	sub := &mockSubmitter{err: errors.New("db down")}
	h := NewHandler(&mockStore{}, sub)

	rec := postSchedule(t, h, validBody())

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotContains(t, resp.Error, "db down", "internal detail must not leak")
}

func TestListScheduled_RequiresUserEmail(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/api/emails/scheduled", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListScheduled_ReturnsEmails(t *testing.T) {
	store := &mockStore{scheduled: []ScheduledEmail{{
		ID:           "r1",
		Email:        "a@example.com",
		Subject:      "hello",
		Body:         "<p>hi</p>",
		ScheduledFor: time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC),
		Status:       "scheduled",
	}}}
	h := NewHandler(store, &mockSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/api/emails/scheduled?userEmail=owner@example.com", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "owner@example.com", store.gotUserEmail)
	assert.Equal(t, ListLimit, store.gotLimit)

	var resp []ScheduledEmailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "2025-06-01T12:00:05Z", resp[0].ScheduledFor)
	assert.Equal(t, "scheduled", resp[0].Status)
}

func TestListSent_IncludesFailures(t *testing.T) {
	sentAt := time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)
	store := &mockStore{sent: []SentEmail{
		{ID: "r1", Email: "a@example.com", Status: "sent", SentAt: &sentAt},
		{ID: "r2", Email: "b@example.com", Status: "failed", ErrorMessage: "mailer returned status 500"},
	}}
	h := NewHandler(store, &mockSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/api/emails/sent?userEmail=owner@example.com", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []SentEmailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "2025-06-01T12:00:10Z", resp[0].SentAt)
	assert.Empty(t, resp[1].SentAt)
	assert.Equal(t, "mailer returned status 500", resp[1].ErrorMessage)
}

func TestListSent_StoreError(t *testing.T) {
	store := &mockStore{err: errors.New("db down")}
	h := NewHandler(store, &mockSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/api/emails/sent?userEmail=owner@example.com", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth_Basic(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Components)
}

func TestHealth_VerboseHealthy(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockSubmitter{}).
		WithHealthChecker("postgres", mockPinger{}).
		WithHealthChecker("redis", mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "healthy", resp.Components["postgres"])
	assert.Equal(t, "healthy", resp.Components["redis"])
}

func TestHealth_VerboseDegraded(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockSubmitter{}).
		WithHealthChecker("postgres", mockPinger{}).
		WithHealthChecker("redis", mockPinger{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Components["redis"], "unhealthy")
}

func TestRouting_UnknownPathAndMethod(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockSubmitter{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/api/emails/schedule"},
		{http.MethodPost, "/api/emails/scheduled"},
		{http.MethodDelete, "/health"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tt.method, tt.path)
	}
}

func TestSchedule_MissingUserIDMapsToNil(t *testing.T) {
	// An absent userId reaches the service as uuid.Nil, where validation
	// rejects it; the handler itself does not guess.
	sub := &mockSubmitter{err: &submission.ValidationError{Field: "userId", Message: "required"}}
	h := NewHandler(&mockStore{}, sub)

	body := validBody()
	delete(body, "userId")
	rec := postSchedule(t, h, body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, uuid.Nil, sub.lastReq.UserID)
}
