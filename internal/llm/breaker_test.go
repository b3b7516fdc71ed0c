package llm

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := newBreaker(3, 50*time.Millisecond)
	for i := 0; i < 3; i++ {
		if !b.allow() {
			t.Fatalf("call %d: expected allow before threshold", i)
		}
		b.recordFailure()
	}
	if b.allow() {
		t.Fatal("expected breaker open after 3 consecutive failures")
	}
	if !b.isOpen() {
		t.Fatal("expected isOpen true")
	}
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	b := newBreaker(1, 10*time.Millisecond)
	b.allow()
	b.recordFailure()
	if b.allow() {
		t.Fatal("expected breaker open immediately after failure")
	}
	time.Sleep(15 * time.Millisecond)
	if !b.allow() {
		t.Fatal("expected half-open probe to be allowed after cooldown")
	}
	if b.allow() {
		t.Fatal("expected only one half-open probe at a time")
	}
}

func TestBreakerRecoversOnSuccess(t *testing.T) {
	b := newBreaker(1, 5*time.Millisecond)
	b.allow()
	b.recordFailure()
	time.Sleep(10 * time.Millisecond)
	b.allow()
	b.recordSuccess()
	if b.isOpen() {
		t.Fatal("expected breaker closed after half-open success")
	}
	if !b.allow() {
		t.Fatal("expected subsequent calls to be allowed")
	}
}
