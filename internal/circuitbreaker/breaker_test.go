package circuitbreaker

import (
	"testing"
	"time"
)

func TestAllow_UnknownDomain_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	if err := cb.Allow("example.com"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	domain := "example.com"
	cb.RecordFailure(domain)
	cb.RecordFailure(domain)
	if err := cb.Allow(domain); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb := New(3, 5*time.Second)
	domain := "example.com"
	cb.RecordFailure(domain)
	cb.RecordFailure(domain)
	cb.RecordFailure(domain)
	if err := cb.Allow(domain); err == nil {
		t.Fatal("expected ErrCircuitOpen, got nil")
	}
}

func TestAllow_OpenAfterCooldown_HalfOpen(t *testing.T) {
	cb := New(3, 10*time.Millisecond)
	domain := "example.com"
	cb.RecordFailure(domain)
	cb.RecordFailure(domain)
	cb.RecordFailure(domain)
	time.Sleep(15 * time.Millisecond)
	if err := cb.Allow(domain); err != nil {
		t.Fatalf("expected nil (probe allowed), got %v", err)
	}
	if err := cb.Allow(domain); err == nil {
		t.Fatal("expected ErrCircuitOpen while half-open probe in flight")
	}
}

func TestRecordSuccess_ResetsToClose(t *testing.T) {
	cb := New(3, 10*time.Millisecond)
	domain := "example.com"
	cb.RecordFailure(domain)
	cb.RecordFailure(domain)
	cb.RecordFailure(domain)
	time.Sleep(15 * time.Millisecond)
	cb.Allow(domain)
	cb.RecordSuccess(domain)
	if err := cb.Allow(domain); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}
}

func TestRecordFailure_HalfOpenReOpens(t *testing.T) {
	cb := New(3, 10*time.Millisecond)
	domain := "example.com"
	cb.RecordFailure(domain)
	cb.RecordFailure(domain)
	cb.RecordFailure(domain)
	time.Sleep(15 * time.Millisecond)
	cb.Allow(domain)
	cb.RecordFailure(domain)
	if err := cb.Allow(domain); err == nil {
		t.Fatal("expected ErrCircuitOpen after probe failure re-open")
	}
}

func TestRecordSuccess_ClosedState_NoOp(t *testing.T) {
	cb := New(3, 5*time.Second)
	domain := "example.com"
	cb.RecordSuccess(domain)
	if err := cb.Allow(domain); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIndependentDomains(t *testing.T) {
	cb := New(2, 5*time.Second)
	cb.RecordFailure("a.com")
	cb.RecordFailure("a.com")
	if err := cb.Allow("a.com"); err == nil {
		t.Fatal("expected a.com open")
	}
	if err := cb.Allow("b.com"); err != nil {
		t.Fatalf("expected b.com allowed, got %v", err)
	}
}
