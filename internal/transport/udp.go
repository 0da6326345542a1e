// Package transport implements window.ProtocolAdapter over two concrete
// wire transports — UDP and WebSocket — proving the window engine itself
// never needs to know which one carries its traffic.
package transport

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/relaywire/slidewindow/internal/breaker"
	"github.com/relaywire/slidewindow/internal/metrics"
	"github.com/relaywire/slidewindow/internal/relay"
	"github.com/relaywire/slidewindow/internal/window"
	"github.com/relaywire/slidewindow/pkg/rid"
)

// DefaultReadBufferBytes is sized for one relay.Frame at MaxPayloadSize.
const DefaultReadBufferBytes = relay.HeaderSize + relay.MaxPayloadSize

// Outbound is what callers pass to UDPAdapter.Send: a frame kind plus its
// already-encoded command payload (see relay.EncodeInitFile and friends).
type Outbound struct {
	Kind relay.Kind
	Body []byte
}

// UDPAdapter implements window.ProtocolAdapter over a connected UDP socket.
// Send assigns the next sequence number and returns it as the Tag; Recv
// reads one datagram, expects a relay.KindAck frame, and returns the
// sequence number it acknowledges.
type UDPAdapter struct {
	conn    *net.UDPConn
	session rid.ID
	seq     uint32
	readBuf []byte

	breaker *breaker.CircuitBreaker
	metrics *metrics.Metrics
}

// DialUDP connects to address and returns an adapter scoped to session.
func DialUDP(address string, session rid.ID, cb *breaker.CircuitBreaker, m *metrics.Metrics) (*UDPAdapter, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", address, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}
	return &UDPAdapter{
		conn:    conn,
		session: session,
		readBuf: make([]byte, DefaultReadBufferBytes),
		breaker: cb,
		metrics: m,
	}, nil
}

// Send implements window.ProtocolAdapter. payload must be an Outbound.
func (a *UDPAdapter) Send(payload any) (window.Tag, error) {
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
		_, err := a.conn.Write(raw)
		return err
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

// Recv implements window.ProtocolAdapter. It reads one datagram and expects
// a KindAck frame, returning the sequence number it acknowledges.
func (a *UDPAdapter) Recv(timeout time.Duration) (window.Tag, error) {
	if err := a.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}

	n, err := a.conn.Read(a.readBuf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, window.ErrTimeout
		}
		return nil, fmt.Errorf("transport: read: %w", err)
	}

	if a.metrics != nil {
		a.metrics.BytesReceived.Add(float64(n))
	}

	var frame relay.Frame
	if err := frame.Unmarshal(a.readBuf[:n]); err != nil {
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

// Close releases the underlying UDP socket.
func (a *UDPAdapter) Close() error {
	return a.conn.Close()
}
