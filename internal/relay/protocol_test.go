package relay

import (
	"bytes"
	"testing"

	"github.com/relaywire/slidewindow/pkg/rid"
)

func mustSession(t *testing.T) rid.ID {
	t.Helper()
	id, err := rid.New()
	if err != nil {
		t.Fatalf("rid.New: %v", err)
	}
	return id
}

func TestFrameRoundTrip(t *testing.T) {
	session := mustSession(t)
	payload := EncodePutData(PutData{Offset: 40, Data: []byte("hello")})
	f := &Frame{Kind: KindPutData, Session: session, Sequence: 7, Payload: payload}

	raw, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Frame
	if err := got.Unmarshal(raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Kind != KindPutData || got.Sequence != 7 || got.Session != session {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch: got %v, want %v", got.Payload, payload)
	}
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	raw := make([]byte, HeaderSize)
	var f Frame
	if err := f.Unmarshal(raw); err == nil {
		t.Fatal("expected an error for a zeroed (wrong-magic) frame")
	}
}

func TestUnmarshalRejectsLengthMismatch(t *testing.T) {
	f := &Frame{Kind: KindAck, Session: mustSession(t), Sequence: 1}
	raw, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	raw = append(raw, 0xFF) // grows the frame without updating the length header

	var got Frame
	if err := got.Unmarshal(raw); err == nil {
		t.Fatal("expected a length mismatch error")
	}
}

func TestUnmarshalRejectsCorruptedPayload(t *testing.T) {
	f := &Frame{Kind: KindPutData, Session: mustSession(t), Sequence: 1,
		Payload: EncodePutData(PutData{Offset: 0, Data: []byte("abc")})}
	raw, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	raw[HeaderSize] ^= 0xFF // flip a payload byte without touching the checksum

	var got Frame
	if err := got.Unmarshal(raw); err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	f := &Frame{Kind: Kind(99), Session: mustSession(t)}
	if err := f.Validate(); err == nil {
		t.Fatal("expected an error for an unknown frame kind")
	}
}

func TestValidateRejectsZeroSession(t *testing.T) {
	f := &Frame{Kind: KindAck}
	if err := f.Validate(); err == nil {
		t.Fatal("expected an error for a zero session id")
	}
}

func TestCommandEncodeDecodeRoundTrip(t *testing.T) {
	init, err := DecodeInitFile(EncodeInitFile(InitFile{Filename: "report.pdf"}))
	if err != nil || init.Filename != "report.pdf" {
		t.Fatalf("InitFile round trip: got %+v, err %v", init, err)
	}

	put, err := DecodePutData(EncodePutData(PutData{Offset: 1024, Data: []byte("chunk")}))
	if err != nil || put.Offset != 1024 || string(put.Data) != "chunk" {
		t.Fatalf("PutData round trip: got %+v, err %v", put, err)
	}

	fin, err := DecodeFinalize(EncodeFinalize(Finalize{Checksum: 0xDEADBEEF}))
	if err != nil || fin.Checksum != 0xDEADBEEF {
		t.Fatalf("Finalize round trip: got %+v, err %v", fin, err)
	}
}

func TestDecodePutDataRejectsShortPayload(t *testing.T) {
	if _, err := DecodePutData([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a payload shorter than the offset field")
	}
}
