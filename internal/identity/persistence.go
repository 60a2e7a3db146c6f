package identity

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// PersistenceSource supplies the 128-bit time-ordered value behind a
// persistence code. Implementations must never return the same value twice.
type PersistenceSource interface {
	Next() ([16]byte, error)
}

// UUIDv7Source generates RFC 9562 UUIDv7 values.
//
// UUIDv7 puts a millisecond Unix timestamp in the top 48 bits and a
// monotonic sub-millisecond sequence plus random bits below it, so values
// from one process are strictly increasing.
//
// Thread-safety: UUIDv7Source is stateless and safe for concurrent use.
type UUIDv7Source struct{}

// Next returns a fresh UUIDv7.
func (UUIDv7Source) Next() ([16]byte, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return [16]byte{}, err
	}
	return [16]byte(u), nil
}

// persistenceTime extracts the millisecond timestamp from the top 48 bits.
func persistenceTime(b [16]byte) time.Time {
	var ms [8]byte
	copy(ms[2:], b[:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(ms[:]))).UTC()
}
