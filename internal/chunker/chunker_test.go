package chunker

import (
	"bytes"
	"testing"

	"github.com/relaywire/slidewindow/internal/relay"
)

// memFile is a minimal io.WriterAt/io.ReaderAt backed by an in-memory
// buffer, standing in for an *os.File in tests.
type memFile struct {
	buf []byte
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := int(off) + len(p)
	if end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.buf[off:])
	return n, nil
}

func TestSplitCoversEveryByte(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 10)
	chunks := Split(data, 4)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].Offset != 0 || len(chunks[0].Data) != 4 {
		t.Errorf("chunk 0 = %+v", chunks[0])
	}
	if chunks[2].Offset != 8 || len(chunks[2].Data) != 2 {
		t.Errorf("last chunk = %+v", chunks[2])
	}
}

func TestSplitDefaultsChunkSize(t *testing.T) {
	data := make([]byte, DefaultChunkSize+1)
	chunks := Split(data, 0)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
}

func TestAssemblerReassemblesOutOfOrderChunks(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	chunks := Split(data, 7)

	// Deliver in reverse order, as an unordered window engine might.
	f := &memFile{}
	a := NewAssembler(f)
	for i := len(chunks) - 1; i >= 0; i-- {
		if err := a.Put(chunks[i]); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if !bytes.Equal(f.buf, data) {
		t.Fatalf("reassembled = %q, want %q", f.buf, data)
	}
}

func TestAssemblerToleratesDuplicatePuts(t *testing.T) {
	data := []byte("duplicate me")
	chunks := Split(data, 4)
	f := &memFile{}
	a := NewAssembler(f)
	for _, c := range chunks {
		_ = a.Put(c)
		_ = a.Put(c) // retransmit of the same chunk
	}
	if !bytes.Equal(f.buf, data) {
		t.Fatalf("reassembled = %q, want %q", f.buf, data)
	}
}

func TestVerifyDetectsMismatch(t *testing.T) {
	data := []byte("integrity matters")
	f := &memFile{buf: append([]byte(nil), data...)}

	want := relay.Checksum(data)
	if err := Verify(f, int64(len(data)), want); err != nil {
		t.Errorf("Verify on intact data: %v", err)
	}

	f.buf[0] ^= 0xFF
	if err := Verify(f, int64(len(data)), want); err == nil {
		t.Error("expected Verify to detect the corruption")
	}
}
