package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Bounds for per-job scheduling parameters.
const (
	MinDelaySeconds = 1
	MaxDelaySeconds = 300

	MinHourlyLimit = 1
	MaxHourlyLimit = 1000
)

// Job is a submitted batch email request. Subject and body are shared by
// every recipient; the stagger delay spaces consecutive sends apart.
type Job struct {
	ID uuid.UUID

	Subject string
	Body    string

	ScheduledFor time.Time
	DelaySeconds int
	HourlyLimit  int

	Status JobStatus
	UserID uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecipientScheduledAt returns the send time for the recipient at the given
// position in the submitted list (0-based).
func (j Job) RecipientScheduledAt(index int) time.Time {
	return j.ScheduledFor.Add(time.Duration(index*j.DelaySeconds) * time.Second)
}
