// Package relay defines the wire format exchanged between a relay client and
// server: a small file-transfer protocol (init/put/finalize/ack) carried as
// the payloads and tags of a window.Engine transmission.
package relay

import (
	"encoding/binary"
	"fmt"

	"github.com/relaywire/slidewindow/pkg/rid"
)

// Magic identifies a relay protocol frame.
const Magic uint32 = 0x52454C59 // "RELY"

// CurrentVersion is the only wire version this package emits or accepts.
const CurrentVersion uint8 = 1

// HeaderSize is the fixed portion of every frame, before the payload.
const HeaderSize = 4 + 1 + 1 + 16 + 4 + 4 + 8 // magic+version+kind+session+seq+len+checksum

// MaxPayloadSize bounds a single frame's payload, leaving room under a
// typical UDP datagram so a frame never needs IP-level fragmentation.
const MaxPayloadSize = 1400 - HeaderSize

// Kind identifies which file-transfer command a frame carries.
type Kind uint8

const (
	KindInitFile Kind = iota + 1
	KindPutData
	KindFinalize
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindInitFile:
		return "InitFile"
	case KindPutData:
		return "PutData"
	case KindFinalize:
		return "Finalize"
	case KindAck:
		return "Ack"
	default:
		return "Unknown"
	}
}

// Frame is one relay protocol message: a header plus a kind-specific
// payload. Sequence is the tag the window engine tracks; Ack frames carry
// the sequence number of the frame they acknowledge.
type Frame struct {
	Kind     Kind
	Session  rid.ID
	Sequence uint32
	Payload  []byte
	Checksum uint64
}

// Marshal serializes f to bytes, computing the checksum over the payload.
func (f *Frame) Marshal() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("relay: payload too large: %d > %d", len(f.Payload), MaxPayloadSize)
	}
	checksum := Checksum(f.Payload)

	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = CurrentVersion
	buf[5] = uint8(f.Kind)
	copy(buf[6:22], f.Session.Bytes())
	binary.BigEndian.PutUint32(buf[22:26], f.Sequence)
	binary.BigEndian.PutUint32(buf[26:30], uint32(len(f.Payload)))
	binary.BigEndian.PutUint64(buf[30:38], checksum)
	copy(buf[38:], f.Payload)

	return buf, nil
}

// Unmarshal parses data into f, validating the magic number, version, frame
// length, and payload checksum.
func (f *Frame) Unmarshal(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("relay: frame too small: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != Magic {
		return fmt.Errorf("relay: invalid magic number: 0x%08X", magic)
	}

	version := data[4]
	if version != CurrentVersion {
		return fmt.Errorf("relay: unsupported version: %d", version)
	}

	kind := Kind(data[5])

	var session rid.ID
	copy(session[:], data[6:22])

	sequence := binary.BigEndian.Uint32(data[22:26])
	payloadLen := binary.BigEndian.Uint32(data[26:30])
	checksum := binary.BigEndian.Uint64(data[30:38])

	if int(payloadLen) != len(data)-HeaderSize {
		return fmt.Errorf("relay: payload length mismatch: header says %d, got %d",
			payloadLen, len(data)-HeaderSize)
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[HeaderSize:])

	if got := Checksum(payload); got != checksum {
		return fmt.Errorf("relay: checksum mismatch: expected %x, got %x", checksum, got)
	}

	f.Kind = kind
	f.Session = session
	f.Sequence = sequence
	f.Payload = payload
	f.Checksum = checksum
	return nil
}

// Validate checks structural invariants beyond what Unmarshal already
// enforces (callers building a Frame by hand, rather than parsing one,
// should still run it before Marshal).
func (f *Frame) Validate() error {
	switch f.Kind {
	case KindInitFile, KindPutData, KindFinalize, KindAck:
	default:
		return fmt.Errorf("relay: unknown frame kind %d", f.Kind)
	}
	if f.Session.IsZero() {
		return fmt.Errorf("relay: session id cannot be zero")
	}
	if len(f.Payload) > MaxPayloadSize {
		return fmt.Errorf("relay: payload too large: %d > %d", len(f.Payload), MaxPayloadSize)
	}
	return nil
}
