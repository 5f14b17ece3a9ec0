// Package api exposes the HTTP surface of the dispatch engine. The
// gateway in front of it handles sessions and authorization; requests
// arriving here are already attributed to a user.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/23f1001861/email-sender/internal/submission"
)

// ListLimit caps the scheduled/sent listings.
const ListLimit = 100

type Store interface {
	ListScheduledEmails(ctx context.Context, userEmail string, limit int) ([]ScheduledEmail, error)
	ListSentEmails(ctx context.Context, userEmail string, limit int) ([]SentEmail, error)
}

// Submitter accepts a validated batch submission.
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Result, error)
}

// HealthChecker reports connectivity of one backing component.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store     Store
	submitter Submitter
	checkers  map[string]HealthChecker
	clock     func() time.Time
}

func NewHandler(store Store, submitter Submitter) *Handler {
	return &Handler{
		store:     store,
		submitter: submitter,
		checkers:  make(map[string]HealthChecker),
		clock:     time.Now,
	}
}

// WithHealthChecker registers a named component for verbose /health
// responses.
func (h *Handler) WithHealthChecker(name string, hc HealthChecker) *Handler {
	h.checkers[name] = hc
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/api/emails/schedule" && r.Method == http.MethodPost:
		h.schedule(w, r)

	case path == "/api/emails/scheduled" && r.Method == http.MethodGet:
		h.listScheduled(w, r)

	case path == "/api/emails/sent" && r.Method == http.MethodGet:
		h.listSent(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: formatTime(h.clock()),
	}

	if r.URL.Query().Get("verbose") != "true" || len(h.checkers) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Components = make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, hc := range h.checkers {
		if err := hc.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	subReq, err := parseScheduleRequest(req)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	result, err := h.submitter.Submit(r.Context(), subReq)
	if err != nil {
		var vErr *submission.ValidationError
		if errors.As(err, &vErr) {
			writeValidationError(w, err)
			return
		}

		var eErr *submission.EnqueueError
		if errors.As(err, &eErr) {
			// The batch is committed but tasks are missing; hand the
			// caller everything needed for manual recovery.
			log.Printf("api: schedule enqueue error: %v", eErr)
			ids := make([]string, len(eErr.RecipientIDs))
			for i, id := range eErr.RecipientIDs {
				ids[i] = id.String()
			}
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{
				Error:        "failed to enqueue dispatch tasks",
				JobID:        eErr.JobID.String(),
				RecipientIDs: ids,
			})
			return
		}

		log.Printf("api: schedule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to schedule emails")
		return
	}

	writeJSON(w, http.StatusOK, ScheduleResponse{
		JobID:          result.JobID.String(),
		RecipientCount: result.RecipientCount,
		ScheduledFor:   formatTime(result.ScheduledFor),
	})
}

func (h *Handler) listScheduled(w http.ResponseWriter, r *http.Request) {
	userEmail := r.URL.Query().Get("userEmail")
	if userEmail == "" {
		writeError(w, http.StatusBadRequest, "userEmail is required")
		return
	}

	emails, err := h.store.ListScheduledEmails(r.Context(), userEmail, ListLimit)
	if err != nil {
		log.Printf("api: list scheduled error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list scheduled emails")
		return
	}

	resp := make([]ScheduledEmailResponse, len(emails))
	for i, e := range emails {
		resp[i] = ScheduledEmailResponse{
			ID:           e.ID,
			Email:        e.Email,
			Subject:      e.Subject,
			Body:         e.Body,
			ScheduledFor: formatTime(e.ScheduledFor),
			Status:       e.Status,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listSent(w http.ResponseWriter, r *http.Request) {
	userEmail := r.URL.Query().Get("userEmail")
	if userEmail == "" {
		writeError(w, http.StatusBadRequest, "userEmail is required")
		return
	}

	emails, err := h.store.ListSentEmails(r.Context(), userEmail, ListLimit)
	if err != nil {
		log.Printf("api: list sent error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list sent emails")
		return
	}

	resp := make([]SentEmailResponse, len(emails))
	for i, e := range emails {
		sr := SentEmailResponse{
			ID:           e.ID,
			Email:        e.Email,
			Subject:      e.Subject,
			Body:         e.Body,
			Status:       e.Status,
			ErrorMessage: e.ErrorMessage,
		}
		if e.SentAt != nil {
			sr.SentAt = formatTime(*e.SentAt)
		}
		resp[i] = sr
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseScheduleRequest converts the wire request into a submission
// request, resolving the string-typed fields.
func parseScheduleRequest(req ScheduleRequest) (submission.Request, error) {
	startTime, err := parseStartTime(req.StartTime)
	if err != nil {
		return submission.Request{}, &submission.ValidationError{
			Field:   "startTime",
			Message: "must be an RFC 3339 timestamp",
		}
	}

	userID := uuid.Nil
	if req.UserID != "" {
		userID, err = uuid.Parse(req.UserID)
		if err != nil {
			return submission.Request{}, &submission.ValidationError{
				Field:   "userId",
				Message: "must be a UUID",
			}
		}
	}

	return submission.Request{
		Subject:      req.Subject,
		Body:         req.Body,
		Recipients:   req.Recipients,
		StartTime:    startTime,
		DelaySeconds: req.DelaySeconds,
		HourlyLimit:  req.HourlyLimit,
		UserID:       userID,
		UserEmail:    req.UserEmail,
	}, nil
}

func parseStartTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339, s)
}

func writeValidationError(w http.ResponseWriter, err error) {
	var vErr *submission.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: vErr.Message, Field: vErr.Field})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
