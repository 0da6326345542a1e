package main

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/relaywire/slidewindow/internal/chunker"
	"github.com/relaywire/slidewindow/internal/relay"
	"github.com/relaywire/slidewindow/pkg/rid"
)

func TestHandlerCompletesTransfer(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHandler(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	session, err := rid.New()
	if err != nil {
		t.Fatalf("rid.New: %v", err)
	}

	data := []byte("the full contents of the file being transferred")

	initAck, err := h.Process(&relay.Frame{
		Kind: relay.KindInitFile, Session: session, Sequence: 1,
		Payload: relay.EncodeInitFile(relay.InitFile{Filename: "out.txt"}),
	})
	if err != nil || initAck.Sequence != 1 {
		t.Fatalf("InitFile: ack=%+v err=%v", initAck, err)
	}

	seq := uint32(2)
	for _, chunk := range chunker.Split(data, 8) {
		ack, err := h.Process(&relay.Frame{
			Kind: relay.KindPutData, Session: session, Sequence: seq,
			Payload: relay.EncodePutData(chunk),
		})
		if err != nil {
			t.Fatalf("PutData: %v", err)
		}
		if ack.Sequence != seq {
			t.Fatalf("ack sequence = %d, want %d", ack.Sequence, seq)
		}
		seq++
	}

	finAck, err := h.Process(&relay.Frame{
		Kind: relay.KindFinalize, Session: session, Sequence: seq,
		Payload: relay.EncodeFinalize(relay.Finalize{Checksum: relay.Checksum(data)}),
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if finAck.Sequence != seq {
		t.Fatalf("finalize ack sequence = %d, want %d", finAck.Sequence, seq)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("final file = %q, want %q", got, data)
	}
}

func TestHandlerRejectsFinalizeWithBadChecksum(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHandler(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	session, _ := rid.New()

	if _, err := h.Process(&relay.Frame{
		Kind: relay.KindInitFile, Session: session, Sequence: 1,
		Payload: relay.EncodeInitFile(relay.InitFile{Filename: "bad.txt"}),
	}); err != nil {
		t.Fatalf("InitFile: %v", err)
	}
	if _, err := h.Process(&relay.Frame{
		Kind: relay.KindPutData, Session: session, Sequence: 2,
		Payload: relay.EncodePutData(relay.PutData{Offset: 0, Data: []byte("abc")}),
	}); err != nil {
		t.Fatalf("PutData: %v", err)
	}

	_, err = h.Process(&relay.Frame{
		Kind: relay.KindFinalize, Session: session, Sequence: 3,
		Payload: relay.EncodeFinalize(relay.Finalize{Checksum: 0xBAD}),
	})
	if err == nil {
		t.Fatal("expected a checksum verification error")
	}
}

func TestHandlerRejectsPutDataWithoutInit(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHandler(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	session, _ := rid.New()

	_, err = h.Process(&relay.Frame{
		Kind: relay.KindPutData, Session: session, Sequence: 1,
		Payload: relay.EncodePutData(relay.PutData{Offset: 0, Data: []byte("x")}),
	})
	if err == nil {
		t.Fatal("expected an error for PutData with no InitFile")
	}
}

func TestHandlerRejectsUnsupportedKind(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHandler(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	session, _ := rid.New()

	_, err = h.Process(&relay.Frame{Kind: relay.KindAck, Session: session, Sequence: 1})
	if err == nil {
		t.Fatal("expected an error: the server never accepts Ack frames")
	}
}
