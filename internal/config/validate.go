package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// MAILER_URL is required: there is nothing to dispatch to without it.
	if cfg.MailerURL == "" {
		errs = append(errs, ValidationError{
			Field:   "MAILER_URL",
			Message: "required",
		})
	}

	for _, dur := range []struct {
		field string
		raw   string
	}{
		{"MAILER_TIMEOUT", cfg.MailerTimeoutStr},
		{"THROUGHPUT_WINDOW", cfg.ThroughputWindowStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr},
	} {
		if dur.raw == "" {
			continue
		}
		d, err := time.ParseDuration(dur.raw)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: "must be positive",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
