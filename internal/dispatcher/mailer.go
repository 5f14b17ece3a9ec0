package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Mailer performs the synchronous send of one message.
type Mailer interface {
	Send(ctx context.Context, req SendRequest) SendResult
}

type SendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`

	// RecipientID is echoed in the provider request headers for tracing.
	RecipientID string `json:"-"`
}

type SendResult struct {
	MessageID  string
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r SendResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRetryable reports whether the failure is worth another attempt:
// transport errors, throttling, and server-side failures are; any other
// client error is a permanent rejection of the message.
func (r SendResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return r.StatusCode >= 500
}

// HTTPMailer sends mail through an HTTP mail provider API. One JSON POST
// per message; the provider's response carries the transport message id.
type HTTPMailer struct {
	client  *http.Client
	url     string
	apiKey  string
	timeout time.Duration
}

// NewHTTPMailer creates a mailer posting to the given provider endpoint.
// A zero timeout defaults to 30s; a send is never allowed to hang a worker
// indefinitely.
func NewHTTPMailer(url, apiKey string, timeout time.Duration) *HTTPMailer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPMailer{
		client:  &http.Client{},
		url:     url,
		apiKey:  apiKey,
		timeout: timeout,
	}
}

type providerResponse struct {
	ID string `json:"id"`
}

// Send posts the message and decodes the provider's message id.
// Headers: Authorization (bearer key), X-Mailer-Recipient-ID.
func (m *HTTPMailer) Send(ctx context.Context, req SendRequest) SendResult {
	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return SendResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	httpReq.Header.Set("X-Mailer-Recipient-ID", req.RecipientID)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return SendResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	result := SendResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var pr providerResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&pr); err == nil {
			result.MessageID = pr.ID
		}
	}

	return result
}
