package window

import (
	"sync"
	"time"
)

// recvStep is one scripted outcome for fakeAdapter.Recv: either a timeout,
// or an acknowledgement for a specific tag (which need not be a tag the
// adapter ever actually sent — tests use this to script unknown-tag and
// late-retired-tag acks).
type recvStep struct {
	timeout bool
	tag     int
}

// fakeAdapter is a deterministic, single-threaded ProtocolAdapter test
// double, modeled on original_source/tests/helper.py's Protocol double. By
// default it acknowledges payloads in send order (a perfect adapter);
// ackOrder, dropAlways, and script let tests build the scenarios from
// spec.md §8.
type fakeAdapter struct {
	mu sync.Mutex

	nextTag   int
	sent      []any // payload sent on each Send call, indexed by tag
	sentOrder []int // tags, in the order Send was called

	// awaiting holds tags sent but not yet returned by Recv, in send order.
	// Used by the default FIFO/ackOrder behavior when script is empty.
	awaiting []int

	// ackOrder, when non-nil, picks which position within awaiting Recv
	// returns next; once exhausted, Recv falls back to FIFO.
	ackOrder []int
	ackIdx   int

	// dropAlways, if true, makes every Recv call time out (ignored once
	// script is non-empty).
	dropAlways bool

	// script, if non-empty, fully drives Recv: each call pops one recvStep
	// regardless of what is in awaiting. Intended for precise,
	// out-of-band scenarios (late acks of retired/unknown tags).
	script []recvStep
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{}
}

func (f *fakeAdapter) Send(payload any) (Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tag := f.nextTag
	f.nextTag++
	f.sent = append(f.sent, payload)
	f.sentOrder = append(f.sentOrder, tag)
	f.awaiting = append(f.awaiting, tag)
	return tag, nil
}

func (f *fakeAdapter) Recv(timeout time.Duration) (Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.script) > 0 {
		step := f.script[0]
		f.script = f.script[1:]
		if step.timeout {
			return nil, ErrTimeout
		}
		f.removeAwaiting(step.tag)
		return step.tag, nil
	}

	if f.dropAlways || len(f.awaiting) == 0 {
		return nil, ErrTimeout
	}

	if f.ackIdx < len(f.ackOrder) {
		pos := f.ackOrder[f.ackIdx]
		f.ackIdx++
		tag := f.awaiting[pos]
		f.awaiting = append(f.awaiting[:pos], f.awaiting[pos+1:]...)
		return tag, nil
	}

	tag := f.awaiting[0]
	f.awaiting = f.awaiting[1:]
	return tag, nil
}

// removeAwaiting drops tag from the awaiting queue if present; scripted
// steps may ack a tag that was already evicted (a retired or unknown tag),
// in which case this is a no-op.
func (f *fakeAdapter) removeAwaiting(tag int) {
	for i, t := range f.awaiting {
		if t == tag {
			f.awaiting = append(f.awaiting[:i], f.awaiting[i+1:]...)
			return
		}
	}
}

func (f *fakeAdapter) sentPayloads() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeAdapter) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// scriptedClock replays a fixed sequence of Now() results, one per call,
// then repeats the last value. Used to pin exact receive-budget
// computations, including a clock that appears to move backwards.
type scriptedClock struct {
	mu     sync.Mutex
	values []time.Time
	i      int
}

func newScriptedClock(values ...time.Time) *scriptedClock {
	return &scriptedClock{values: values}
}

func (c *scriptedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.i >= len(c.values) {
		return c.values[len(c.values)-1]
	}
	v := c.values[c.i]
	c.i++
	return v
}

// recordingClock wraps a real or fake clock and is paired with
// recordingAdapter to capture every budget Engine.Run actually requests.
type recordingClock struct {
	Clock
	mu      sync.Mutex
	budgets []time.Duration
}

type recordingAdapter struct {
	*fakeAdapter
	rc *recordingClock
}

func (r *recordingAdapter) Recv(timeout time.Duration) (Tag, error) {
	r.rc.mu.Lock()
	r.rc.budgets = append(r.rc.budgets, timeout)
	r.rc.mu.Unlock()
	return r.fakeAdapter.Recv(timeout)
}

// fakeMetrics is a MetricsRecorder test double that just counts calls, so
// tests can assert Run actually reports what it observes.
type fakeMetrics struct {
	mu sync.Mutex

	budgets           []time.Duration
	retransmissions   int
	unexpectedRetired int
	unexpectedUnknown int
	inFlight          []int
}

func (m *fakeMetrics) ObserveBudget(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets = append(m.budgets, d)
}

func (m *fakeMetrics) RecordRetransmission() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retransmissions++
}

func (m *fakeMetrics) RecordUnexpectedResponse(retired bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if retired {
		m.unexpectedRetired++
	} else {
		m.unexpectedUnknown++
	}
}

func (m *fakeMetrics) SetInFlight(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = append(m.inFlight, n)
}
