package domain

import (
	"time"

	"github.com/google/uuid"
)

// User owns jobs. uuid.Nil is reserved for "no authenticated user" and must
// never reach the store; validation rejects it as a caller bug.
type User struct {
	ID    uuid.UUID
	Email string

	CreatedAt time.Time
}
