package ring

import "sync/atomic"

// seqBits is the width of the per-node sequence inside a message id. The
// node index fills the top 16 bits.
const seqBits = 48

const seqMask = 1<<seqBits - 1

// Clock is a node's monotonic message sequence.
//
// Message ids are source<<48 | seq, so ids from different nodes never
// collide and ids from one node strictly increase until the 48-bit sequence
// wraps.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a clock starting at 0. The first id it stamps uses 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start, used when a node comes
// back with a durable ledger and must not reuse ids it already sent.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.seq.Store(start & seqMask)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1) & seqMask
}

// Current returns the last issued sequence number.
func (c *Clock) Current() uint64 {
	return c.seq.Load() & seqMask
}

// MessageID combines a source index and a sequence number.
func MessageID(source uint16, seq uint64) uint64 {
	return uint64(source)<<seqBits | seq&seqMask
}

// SplitMessageID is the inverse of MessageID.
func SplitMessageID(id uint64) (source uint16, seq uint64) {
	return uint16(id >> seqBits), id & seqMask
}
