package relay

import (
	"encoding/binary"
	"fmt"
)

// InitFile announces a new file transfer and the name the server should
// eventually save it under.
type InitFile struct {
	Filename string
}

// PutData writes Data at Offset in the file currently being assembled.
type PutData struct {
	Offset uint64
	Data   []byte
}

// Finalize ends a transfer and supplies the xxHash64 checksum of the whole
// file, so the server can detect a corrupted or incomplete transfer before
// it commits the result.
type Finalize struct {
	Checksum uint64
}

// EncodeInitFile builds the payload bytes for a KindInitFile frame.
func EncodeInitFile(c InitFile) []byte {
	return []byte(c.Filename)
}

// DecodeInitFile parses the payload of a KindInitFile frame.
func DecodeInitFile(payload []byte) (InitFile, error) {
	return InitFile{Filename: string(payload)}, nil
}

// EncodePutData builds the payload bytes for a KindPutData frame: an 8 byte
// big-endian offset followed by the raw chunk.
func EncodePutData(c PutData) []byte {
	buf := make([]byte, 8+len(c.Data))
	binary.BigEndian.PutUint64(buf[0:8], c.Offset)
	copy(buf[8:], c.Data)
	return buf
}

// DecodePutData parses the payload of a KindPutData frame.
func DecodePutData(payload []byte) (PutData, error) {
	if len(payload) < 8 {
		return PutData{}, fmt.Errorf("relay: PutData payload too short: %d bytes", len(payload))
	}
	offset := binary.BigEndian.Uint64(payload[0:8])
	data := make([]byte, len(payload)-8)
	copy(data, payload[8:])
	return PutData{Offset: offset, Data: data}, nil
}

// EncodeFinalize builds the payload bytes for a KindFinalize frame.
func EncodeFinalize(c Finalize) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, c.Checksum)
	return buf
}

// DecodeFinalize parses the payload of a KindFinalize frame.
func DecodeFinalize(payload []byte) (Finalize, error) {
	if len(payload) != 8 {
		return Finalize{}, fmt.Errorf("relay: Finalize payload must be 8 bytes, got %d", len(payload))
	}
	return Finalize{Checksum: binary.BigEndian.Uint64(payload)}, nil
}
