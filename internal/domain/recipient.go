package domain

import (
	"time"

	"github.com/google/uuid"
)

type RecipientStatus string

const (
	RecipientStatusPending   RecipientStatus = "pending"
	RecipientStatusScheduled RecipientStatus = "scheduled"
	RecipientStatusSent      RecipientStatus = "sent"
	RecipientStatusFailed    RecipientStatus = "failed"
)

// Recipient is one addressee of a Job with its own delivery lifecycle.
// Status moves forward only: pending/scheduled may become sent or failed,
// scheduled is re-entered on rate-limit deferral, and sent is final.
type Recipient struct {
	ID    uuid.UUID
	Email string
	JobID uuid.UUID

	Status      RecipientStatus
	ScheduledAt time.Time
	SentAt      *time.Time

	ErrorMessage string
	RetryCount   int

	CreatedAt time.Time
	UpdatedAt time.Time
}
