package testutil

import (
	"encoding/binary"
	"sync"
	"time"
)

// SequenceSource produces deterministic UUIDv7-shaped persistence values.
//
// The top 48 bits hold a fixed millisecond timestamp plus the call count, so
// values are strictly increasing and decode to predictable creation times.
// The version and variant bits are set like a real UUIDv7.
//
// Thread-safety: SequenceSource is safe for concurrent use via internal mutex.
type SequenceSource struct {
	mu   sync.Mutex
	base uint64
	n    uint64
}

// NewSequenceSource starts the sequence at start (millisecond precision).
func NewSequenceSource(start time.Time) *SequenceSource {
	return &SequenceSource{base: uint64(start.UnixMilli())}
}

// Next returns the next value. It never fails.
func (s *SequenceSource) Next() ([16]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++

	var b [16]byte
	var ms [8]byte
	binary.BigEndian.PutUint64(ms[:], s.base+s.n)
	copy(b[0:6], ms[2:])
	b[6] = 0x70 // version 7
	binary.BigEndian.PutUint64(b[8:16], s.n)
	b[8] = b[8]&0x3F | 0x80 // RFC 9562 variant
	return b, nil
}

// Count returns how many values have been issued.
func (s *SequenceSource) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
