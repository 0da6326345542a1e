// Package rid generates the session identifiers relay clients and servers
// exchange to tell concurrent transfers apart on a shared transport.
package rid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// ID is a 16-byte session identifier. The first 8 bytes embed the creation
// time so ids sort roughly in issue order; the remaining 8 are random.
type ID [16]byte

// New generates an ID with an embedded timestamp and 8 random bytes.
func New() (ID, error) {
	var id ID
	binary.BigEndian.PutUint64(id[:8], uint64(time.Now().UnixNano()))
	if _, err := rand.Read(id[8:]); err != nil {
		return ID{}, fmt.Errorf("rid: generate: %w", err)
	}
	return id, nil
}

// FromString parses the hex representation produced by String.
func FromString(s string) (ID, error) {
	if len(s) != 32 {
		return ID{}, fmt.Errorf("rid: invalid length: expected 32 hex chars, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("rid: invalid hex: %w", err)
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// String returns the lowercase hex encoding of id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 16 bytes of id.
func (id ID) Bytes() []byte {
	return id[:]
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Timestamp extracts the creation time embedded in id.
func (id ID) Timestamp() time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(id[:8])))
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := FromString(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
