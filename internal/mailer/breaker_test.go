package mailer

import (
	"testing"
	"time"
)

func TestBreakerClosedAllows(t *testing.T) {
	b := NewMicroBreaker(3, time.Minute)
	for i := 0; i < 5; i++ {
		if !b.TryAcquire() {
			t.Fatal("closed breaker refused acquire")
		}
		b.OnSuccess()
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewMicroBreaker(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !b.TryAcquire() {
			t.Fatalf("acquire %d refused before threshold", i)
		}
		b.OnFailure()
	}
	if b.TryAcquire() {
		t.Fatal("breaker still closed after threshold failures")
	}
}

func TestBreakerFailureCountResetsOnSuccess(t *testing.T) {
	b := NewMicroBreaker(3, time.Minute)
	b.TryAcquire()
	b.OnFailure()
	b.TryAcquire()
	b.OnFailure()
	b.TryAcquire()
	b.OnSuccess()

	// two more failures stay under the threshold
	b.TryAcquire()
	b.OnFailure()
	b.TryAcquire()
	b.OnFailure()
	if !b.TryAcquire() {
		t.Fatal("success did not reset the failure count")
	}
}

func TestBreakerSingleProbeAfterOpenWindow(t *testing.T) {
	b := NewMicroBreaker(1, 10*time.Millisecond)
	b.TryAcquire()
	b.OnFailure()
	if b.TryAcquire() {
		t.Fatal("open breaker allowed acquire inside the window")
	}

	time.Sleep(20 * time.Millisecond)
	if !b.TryAcquire() {
		t.Fatal("probe refused after the open window elapsed")
	}
	if b.TryAcquire() {
		t.Fatal("second acquire allowed while the probe is in flight")
	}
}

func TestBreakerProbeOutcome(t *testing.T) {
	b := NewMicroBreaker(1, 10*time.Millisecond)
	b.TryAcquire()
	b.OnFailure()
	time.Sleep(20 * time.Millisecond)

	// failed probe reopens
	if !b.TryAcquire() {
		t.Fatal("probe refused")
	}
	b.OnFailure()
	if b.TryAcquire() {
		t.Fatal("breaker closed after a failed probe")
	}

	time.Sleep(20 * time.Millisecond)
	// successful probe closes
	if !b.TryAcquire() {
		t.Fatal("second probe refused")
	}
	b.OnSuccess()
	if !b.TryAcquire() {
		t.Fatal("breaker not closed after a successful probe")
	}
}
