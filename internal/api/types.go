package api

import "time"

// ScheduledEmail is the read model behind GET /api/emails/scheduled.
type ScheduledEmail struct {
	ID           string
	Email        string
	Subject      string
	Body         string
	ScheduledFor time.Time
	Status       string
}

// SentEmail is the read model behind GET /api/emails/sent.
type SentEmail struct {
	ID           string
	Email        string
	Subject      string
	Body         string
	SentAt       *time.Time
	Status       string
	ErrorMessage string
}

type ScheduleRequest struct {
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Recipients   []string `json:"recipients"`
	StartTime    string   `json:"startTime"`
	DelaySeconds int      `json:"delaySeconds"`
	HourlyLimit  int      `json:"hourlyLimit"`
	UserID       string   `json:"userId"`
	UserEmail    string   `json:"userEmail,omitempty"`
}

type ScheduleResponse struct {
	JobID          string `json:"jobId"`
	RecipientCount int    `json:"recipientCount"`
	ScheduledFor   string `json:"scheduledFor"`
}

type ScheduledEmailResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	ScheduledFor string `json:"scheduledFor"`
	Status       string `json:"status"`
}

type SentEmailResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	SentAt       string `json:"sentAt,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ErrorResponse carries the failure; Field is set for validation errors,
// the id fields for post-commit enqueue failures needing manual recovery.
type ErrorResponse struct {
	Error        string   `json:"error"`
	Field        string   `json:"field,omitempty"`
	JobID        string   `json:"jobId,omitempty"`
	RecipientIDs []string `json:"recipientIds,omitempty"`
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
