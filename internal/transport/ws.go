package transport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaywire/slidewindow/internal/breaker"
	"github.com/relaywire/slidewindow/internal/metrics"
	"github.com/relaywire/slidewindow/internal/relay"
	"github.com/relaywire/slidewindow/internal/window"
	"github.com/relaywire/slidewindow/pkg/rid"
)

// WSAdapter implements window.ProtocolAdapter over a gorilla/websocket
// connection, carrying the same relay.Frame wire format as UDPAdapter. Its
// existence demonstrates that the window engine is transport-agnostic: it
// depends only on the ProtocolAdapter interface, never on UDP specifically.
type WSAdapter struct {
	conn    *websocket.Conn
	session rid.ID
	seq     uint32

	breaker *breaker.CircuitBreaker
	metrics *metrics.Metrics
}

// DialWS connects to a ws:// or wss:// url and returns an adapter scoped to
// session.
func DialWS(url string, session rid.ID, cb *breaker.CircuitBreaker, m *metrics.Metrics) (*WSAdapter, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return &WSAdapter{conn: conn, session: session, breaker: cb, metrics: m}, nil
}

// Send implements window.ProtocolAdapter. payload must be an Outbound.
func (a *WSAdapter) Send(payload any) (window.Tag, error) {
	out, ok := payload.(Outbound)
	if !ok {
		return nil, fmt.Errorf("transport: Send expects transport.Outbound, got %T", payload)
	}

	seq := atomic.AddUint32(&a.seq, 1)
	frame := &relay.Frame{Kind: out.Kind, Session: a.session, Sequence: seq, Payload: out.Body}
	raw, err := frame.Marshal()
	if err != nil {
		return nil, fmt.Errorf("transport: marshal frame: %w", err)
	}

	send := func() error {
		return a.conn.WriteMessage(websocket.BinaryMessage, raw)
	}
	if a.breaker != nil {
		err = a.breaker.Execute(send)
	} else {
		err = send()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: send frame: %w", err)
	}

	if a.metrics != nil {
		a.metrics.PayloadsSent.Inc()
		a.metrics.BytesSent.Add(float64(len(raw)))
	}
	return seq, nil
}

// Recv implements window.ProtocolAdapter. It reads one message and expects
// a KindAck frame, returning the sequence number it acknowledges.
func (a *WSAdapter) Recv(timeout time.Duration) (window.Tag, error) {
	if err := a.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}

	_, raw, err := a.conn.ReadMessage()
	if err != nil {
		if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
			return nil, window.ErrTimeout
		}
		return nil, fmt.Errorf("transport: read: %w", err)
	}

	if a.metrics != nil {
		a.metrics.BytesReceived.Add(float64(len(raw)))
	}

	var frame relay.Frame
	if err := frame.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("transport: unmarshal frame: %w", err)
	}
	if frame.Kind != relay.KindAck {
		return nil, fmt.Errorf("transport: expected Ack frame, got %s", frame.Kind)
	}

	if a.metrics != nil {
		a.metrics.PayloadsAcked.Inc()
	}
	return frame.Sequence, nil
}

// Close closes the underlying websocket connection.
func (a *WSAdapter) Close() error {
	return a.conn.Close()
}
