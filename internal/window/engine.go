// Package window implements a reliable sliding-window transmission engine:
// it sequences an arbitrary stream of payloads over a caller-supplied
// ProtocolAdapter, driving retransmissions by per-payload deadlines and
// bounding the number of retries per payload.
package window

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// PayloadSource is a finite lazy sequence of payloads, consumed exactly
// once by Run. It returns ok=false once exhausted and must never be
// re-iterated. See FromSlice for the common case of a pre-built slice.
type PayloadSource func() (payload any, ok bool)

// FromSlice adapts a slice into a PayloadSource.
func FromSlice(items []any) PayloadSource {
	i := 0
	return func() (any, bool) {
		if i >= len(items) {
			return nil, false
		}
		v := items[i]
		i++
		return v, true
	}
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the default SystemClock. Intended for deterministic
// tests with a scripted clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger attaches a zap logger. Without this option the engine logs
// nothing (zap.NewNop()).
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStrictUnexpected switches the unexpected-response policy from the
// default Lenient mode (warn and ignore) to Strict mode (fail the run with
// ErrUnexpectedResponse). See spec §4.2.3.
func WithStrictUnexpected() Option {
	return func(e *Engine) { e.strict = true }
}

// WithRetiredSetLimit bounds the number of retired tags remembered for
// late-ack detection in Lenient mode. Defaults to 4x the window size.
func WithRetiredSetLimit(n int) Option {
	return func(e *Engine) { e.retiredLimit = n }
}

// Engine drives a bounded in-flight window of payloads across a
// ProtocolAdapter. Construction validates its configuration; a single Engine
// may run multiple transmissions — each Run call owns a fresh window and
// shares no state with prior runs.
type Engine struct {
	size         int
	maxRetrans   int
	timeout      time.Duration
	clock        Clock
	logger       *zap.Logger
	metrics      MetricsRecorder
	strict       bool
	retiredLimit int
}

// New validates size and timeout and returns a configured Engine, or a
// *ConfigurationError if size < 1 or timeout < 0. maxRetrans may be any
// non-negative integer; zero permits a single transmission and no retries.
func New(size int, maxRetrans int, timeout time.Duration, opts ...Option) (*Engine, error) {
	if size < 1 {
		return nil, &ConfigurationError{Field: "size", Reason: "must be >= 1"}
	}
	if timeout < 0 {
		return nil, &ConfigurationError{Field: "timeout", Reason: "must be >= 0"}
	}
	if maxRetrans < 0 {
		return nil, &ConfigurationError{Field: "max_retrans", Reason: "must be >= 0"}
	}

	e := &Engine{
		size:       size,
		maxRetrans: maxRetrans,
		timeout:    timeout,
		clock:      SystemClock{},
		logger:     zap.NewNop(),
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retiredLimit <= 0 {
		e.retiredLimit = 4 * size
	}
	return e, nil
}

// Run executes one sliding-window transmission of payloads over adapter. It
// returns nil once every payload has been acknowledged, or an error:
// *ErrTransmissionFailed, *ErrUnexpectedResponse (Strict mode only), or
// whatever error the adapter itself raised from Send or Recv. On failure the
// window is abandoned in its current state; a later Run call starts fresh.
func (e *Engine) Run(adapter ProtocolAdapter, payloads PayloadSource) error {
	w := newSlidingWindow(e.size)
	retired := newRetiredTags(e.retiredLimit)

	// Phase 1 — initial burst: fill the window up to size, or until the
	// sequence is exhausted.
	for i := 0; i < e.size; i++ {
		payload, ok := payloads()
		if !ok {
			break
		}
		if err := e.send(adapter, w, payload, e.maxRetrans); err != nil {
			return err
		}
	}

	// Phase 2 — steady state: one Recv per iteration against the head's
	// adaptive budget, followed by either a retransmission or an
	// acknowledgement (plus a single top-up Send).
	for w.Len() > 0 {
		head := w.head()
		budget := clamp(head.deadline.Sub(e.clock.Now()), 0, e.timeout)
		e.metrics.ObserveBudget(budget)

		tag, err := adapter.Recv(budget)
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				return err
			}
			w.remove(head.tag)
			e.metrics.SetInFlight(w.Len())
			if head.retransLeft == 0 {
				return &ErrTransmissionFailed{Tag: head.tag, Retries: e.maxRetrans, Err: err}
			}
			retired.add(head.tag)
			e.metrics.RecordRetransmission()
			e.logger.Warn("request timed out, retransmitting", zap.Any("tag", head.tag))
			if err := e.send(adapter, w, head.payload, head.retransLeft-1); err != nil {
				return err
			}
			continue
		}

		acked := false
		if _, ok := w.remove(tag); ok {
			acked = true
			e.metrics.SetInFlight(w.Len())
			retired.discard(tag)
			e.logger.Debug("ack received", zap.Any("tag", tag))
		} else if e.strict {
			e.metrics.RecordUnexpectedResponse(retired.contains(tag))
			return &ErrUnexpectedResponse{Tag: tag}
		} else if retired.contains(tag) {
			e.metrics.RecordUnexpectedResponse(true)
			e.logger.Warn("ack after retransmit; consider increasing timeout",
				zap.Any("tag", tag))
		} else {
			e.metrics.RecordUnexpectedResponse(false)
			e.logger.Warn("unexpected response for unknown tag", zap.Any("tag", tag))
		}

		if acked {
			payload, ok := payloads()
			if ok {
				if err := e.send(adapter, w, payload, e.maxRetrans); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// send transmits payload through adapter and records a fresh window entry
// with retransLeft remaining retries and a deadline of clock()+timeout.
func (e *Engine) send(adapter ProtocolAdapter, w *slidingWindow, payload any, retransLeft int) error {
	tag, err := adapter.Send(payload)
	if err != nil {
		return err
	}
	w.push(&entry{
		tag:         tag,
		deadline:    e.clock.Now().Add(e.timeout),
		payload:     payload,
		retransLeft: retransLeft,
	})
	e.metrics.SetInFlight(w.Len())
	e.logger.Debug("payload sent", zap.Any("tag", tag), zap.Int("retrans_left", retransLeft))
	return nil
}

// clamp constrains d to [lo, hi], guarding against a clock that moves
// backwards or jumps past a deadline.
func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
