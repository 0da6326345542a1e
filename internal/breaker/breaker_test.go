package breaker

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewDefaultsToClosed(t *testing.T) {
	cb := New("test", Config{}, zap.NewNop())
	if cb.State() != StateClosed {
		t.Errorf("initial state = %s, want CLOSED", cb.State())
	}
}

func TestExecuteSuccessStaysClosed(t *testing.T) {
	cb := New("send", Config{MaxRequests: 3, Interval: time.Second, Timeout: time.Second}, zap.NewNop())

	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Errorf("iteration %d: unexpected error %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED", cb.State())
	}
}

func TestConsecutiveFailuresTripsOpen(t *testing.T) {
	cb := New("send", Config{Interval: time.Minute, Timeout: time.Minute}, zap.NewNop())
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return boom })
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN after 5 consecutive failures", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestHalfOpenRecoversToClosedOnSuccess(t *testing.T) {
	cb := New("send", Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Millisecond,
	}, zap.NewNop())
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	time.Sleep(15 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe request should have been allowed through, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED after a successful half-open probe", cb.State())
	}
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	cb := New("send", Config{Interval: time.Minute, Timeout: time.Minute}, zap.NewNop())

	func() {
		defer func() { _ = recover() }()
		_ = cb.Execute(func() error { panic("boom") })
	}()

	if cb.State() != StateClosed {
		t.Fatalf("one panic should not itself open the breaker, got %s", cb.State())
	}
}
