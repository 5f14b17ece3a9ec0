package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPMailer_Success(t *testing.T) {
	var gotAuth, gotRecipient string
	var gotBody SendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRecipient = r.Header.Get("X-Mailer-Recipient-ID")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg-abc"}`))
	}))
	defer srv.Close()

	m := NewHTTPMailer(srv.URL, "test-key", 5*time.Second)
	result := m.Send(context.Background(), SendRequest{
		To:          "alice@example.com",
		Subject:     "hello",
		HTML:        "<p>hi</p>",
		RecipientID: "rcpt-1",
	})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got status=%d err=%v", result.StatusCode, result.Error)
	}
	if result.MessageID != "msg-abc" {
		t.Errorf("MessageID = %q, want msg-abc", result.MessageID)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotRecipient != "rcpt-1" {
		t.Errorf("X-Mailer-Recipient-ID = %q", gotRecipient)
	}
	if gotBody.To != "alice@example.com" || gotBody.Subject != "hello" {
		t.Errorf("provider payload = %+v", gotBody)
	}
	if result.Duration <= 0 {
		t.Error("Duration should be recorded")
	}
}

func TestHTTPMailer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewHTTPMailer(srv.URL, "", time.Second)
	result := m.Send(context.Background(), SendRequest{To: "a@b.com"})

	if result.IsSuccess() {
		t.Fatal("502 must not be a success")
	}
	if !result.IsRetryable() {
		t.Error("502 should be retryable")
	}
	if result.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d", result.StatusCode)
	}
}

func TestHTTPMailer_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	m := NewHTTPMailer(srv.URL, "", 50*time.Millisecond)
	result := m.Send(context.Background(), SendRequest{To: "a@b.com"})

	if result.Error == nil {
		t.Fatal("expected a timeout error")
	}
	if !result.IsRetryable() {
		t.Error("timeout should be retryable")
	}
}

func TestHTTPMailer_ConnectionRefused(t *testing.T) {
	// Port 1 is never listening.
	m := NewHTTPMailer("http://127.0.0.1:1/send", "", time.Second)
	result := m.Send(context.Background(), SendRequest{To: "a@b.com"})

	if result.Error == nil {
		t.Fatal("expected a transport error")
	}
	if result.IsSuccess() {
		t.Error("transport failure must not be a success")
	}
}

func TestHTTPMailer_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	m := NewHTTPMailer(srv.URL, "", time.Second)
	m.Send(context.Background(), SendRequest{To: "a@b.com"})

	if gotAuth != "" {
		t.Errorf("Authorization should be absent without an api key, got %q", gotAuth)
	}
}

func TestSendResult_Classification(t *testing.T) {
	tests := []struct {
		name      string
		result    SendResult
		success   bool
		retryable bool
	}{
		{"200", SendResult{StatusCode: 200}, true, false},
		{"201", SendResult{StatusCode: 201}, true, false},
		{"400", SendResult{StatusCode: 400}, false, false},
		{"422", SendResult{StatusCode: 422}, false, false},
		{"429", SendResult{StatusCode: 429}, false, true},
		{"500", SendResult{StatusCode: 500}, false, true},
		{"transport error", SendResult{Error: context.DeadlineExceeded}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.IsSuccess(); got != tt.success {
				t.Errorf("IsSuccess() = %v, want %v", got, tt.success)
			}
			if got := tt.result.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}
