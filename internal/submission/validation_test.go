package submission

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidRequest(t *testing.T) {
	assert.NoError(t, Validate(validRequest()))
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Request)
		wantField string
	}{
		{"missing subject", func(r *Request) { r.Subject = "" }, "subject"},
		{"missing body", func(r *Request) { r.Body = "" }, "body"},
		{"no recipients", func(r *Request) { r.Recipients = nil }, "recipients"},
		{"empty recipient", func(r *Request) { r.Recipients = []string{""} }, "recipients"},
		{"malformed recipient", func(r *Request) { r.Recipients = []string{"not-an-email"} }, "recipients"},
		{"display-name recipient", func(r *Request) { r.Recipients = []string{"Alice <a@example.com>"} }, "recipients"},
		{"zero start time", func(r *Request) { r.StartTime = time.Time{} }, "startTime"},
		{"delay too small", func(r *Request) { r.DelaySeconds = 0 }, "delaySeconds"},
		{"delay too large", func(r *Request) { r.DelaySeconds = 301 }, "delaySeconds"},
		{"hourly limit too small", func(r *Request) { r.HourlyLimit = 0 }, "hourlyLimit"},
		{"hourly limit too large", func(r *Request) { r.HourlyLimit = 1001 }, "hourlyLimit"},
		{"nil user id", func(r *Request) { r.UserID = uuid.Nil }, "userId"},
		{"malformed user email", func(r *Request) { r.UserEmail = "nope" }, "userEmail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := Validate(req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestValidate_BoundaryValuesAccepted(t *testing.T) {
	req := validRequest()
	req.DelaySeconds = 1
	req.HourlyLimit = 1
	assert.NoError(t, Validate(req))

	req.DelaySeconds = 300
	req.HourlyLimit = 1000
	assert.NoError(t, Validate(req))
}

func TestValidate_EmptyUserEmailAllowed(t *testing.T) {
	// UserEmail is only needed for first-time user creation.
	req := validRequest()
	req.UserEmail = ""
	assert.NoError(t, Validate(req))
}

func TestValidate_BadRecipientNamesIndexAndAddress(t *testing.T) {
	req := validRequest()
	req.Recipients = []string{"ok@example.com", "broken"}

	err := Validate(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient 1")
	assert.Contains(t, err.Error(), `"broken"`)
}
