package submission

import (
	"fmt"
	"net/mail"

	"github.com/google/uuid"

	"github.com/23f1001861/email-sender/internal/domain"
)

// ValidationError names the offending request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a submission request. It fails fast on the first bad
// field; nothing here is retryable.
func Validate(req Request) error {
	if req.Subject == "" {
		return &ValidationError{Field: "subject", Message: "required"}
	}
	if req.Body == "" {
		return &ValidationError{Field: "body", Message: "required"}
	}

	if len(req.Recipients) == 0 {
		return &ValidationError{Field: "recipients", Message: "at least one recipient is required"}
	}
	for i, email := range req.Recipients {
		if err := validateEmail(email); err != nil {
			return &ValidationError{
				Field:   "recipients",
				Message: fmt.Sprintf("recipient %d (%q): %v", i, email, err),
			}
		}
	}

	if req.StartTime.IsZero() {
		return &ValidationError{Field: "startTime", Message: "required"}
	}

	if req.DelaySeconds < domain.MinDelaySeconds || req.DelaySeconds > domain.MaxDelaySeconds {
		return &ValidationError{
			Field:   "delaySeconds",
			Message: fmt.Sprintf("must be between %d and %d", domain.MinDelaySeconds, domain.MaxDelaySeconds),
		}
	}
	if req.HourlyLimit < domain.MinHourlyLimit || req.HourlyLimit > domain.MaxHourlyLimit {
		return &ValidationError{
			Field:   "hourlyLimit",
			Message: fmt.Sprintf("must be between %d and %d", domain.MinHourlyLimit, domain.MaxHourlyLimit),
		}
	}

	// uuid.Nil is the "no authenticated user" sentinel. It reaching this
	// layer is a gateway bug, never a state to persist.
	if req.UserID == uuid.Nil {
		return &ValidationError{Field: "userId", Message: "required"}
	}
	if req.UserEmail != "" {
		if err := validateEmail(req.UserEmail); err != nil {
			return &ValidationError{Field: "userEmail", Message: err.Error()}
		}
	}

	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("empty address")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("malformed address")
	}
	// Reject display-name forms; the engine stores bare addresses only.
	if addr.Address != email {
		return fmt.Errorf("must be a bare address")
	}
	return nil
}
