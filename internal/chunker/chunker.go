// Package chunker splits a file into relay.PutData commands on the sending
// side and reassembles them at arbitrary offsets on the receiving side,
// mirroring the toy file-transfer protocol the window engine was built to
// carry.
package chunker

import (
	"fmt"
	"io"

	"github.com/relaywire/slidewindow/internal/relay"
)

// DefaultChunkSize matches the reference client's fixed chunk size.
const DefaultChunkSize = 4096

// Split breaks data into chunkSize-byte PutData commands covering every
// byte of data exactly once, in ascending offset order. The final chunk may
// be shorter than chunkSize.
func Split(data []byte, chunkSize int) []relay.PutData {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var chunks []relay.PutData
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, end-offset)
		copy(chunk, data[offset:end])
		chunks = append(chunks, relay.PutData{Offset: uint64(offset), Data: chunk})
	}
	return chunks
}

// Assembler writes out-of-order PutData commands into dst at their declared
// offsets; the whole-file checksum is checked separately with Verify. Commands may
// arrive in any order and may repeat (a retransmitted PutData is simply
// written again at the same offset).
type Assembler struct {
	dst io.WriterAt
}

// NewAssembler wraps dst, which must support writes at arbitrary offsets
// (an *os.File opened for writing, for instance).
func NewAssembler(dst io.WriterAt) *Assembler {
	return &Assembler{dst: dst}
}

// Put writes one chunk at its declared offset.
func (a *Assembler) Put(chunk relay.PutData) error {
	if _, err := a.dst.WriteAt(chunk.Data, int64(chunk.Offset)); err != nil {
		return fmt.Errorf("chunker: write at offset %d: %w", chunk.Offset, err)
	}
	return nil
}

// Verify reads back size bytes from src and compares their checksum against
// want, returning an error if they differ. Call this after every PutData
// has landed and the transfer has received a Finalize command.
func Verify(src io.ReaderAt, size int64, want uint64) error {
	buf := make([]byte, size)
	if _, err := src.ReadAt(buf, 0); err != nil && err != io.EOF {
		return fmt.Errorf("chunker: read back for verification: %w", err)
	}
	if got := relay.Checksum(buf); got != want {
		return fmt.Errorf("chunker: checksum mismatch: expected %x, got %x", want, got)
	}
	return nil
}
