package domain

import "github.com/google/uuid"

// DispatchTask is the queue-resident unit of work: "attempt to deliver to
// this recipient". It carries everything the dispatcher needs so that a
// worker never has to re-read the job row on the hot path. Identity is 1:1
// with a Recipient; the queue owns due time and attempt bookkeeping.
type DispatchTask struct {
	RecipientID uuid.UUID
	JobID       uuid.UUID

	Email   string
	Subject string
	Body    string

	UserID      uuid.UUID
	HourlyLimit int
}
