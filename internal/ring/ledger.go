package ring

import (
	"context"
	"sync"
)

// DefaultDedupeWindow is the number of message ids a MemoryLedger remembers.
const DefaultDedupeWindow = 4096

// Ledger records consumed message ids for one node. Claim returns true the
// first time an id is seen and false for every repeat; consumption is
// idempotent only as long as the ledger remembers the id.
type Ledger interface {
	Claim(ctx context.Context, id uint64) (bool, error)
}

// MemoryLedger is a bounded in-memory Ledger. Once full it forgets the
// oldest id first. Hop counts bound how long a duplicate can circulate, so
// a window of a few thousand ids covers any retransmission the ring can
// produce.
//
// Thread-safety: MemoryLedger is safe for concurrent use.
type MemoryLedger struct {
	mu     sync.Mutex
	seen   map[uint64]struct{}
	order  []uint64
	next   int
	window int
}

// NewMemoryLedger creates a ledger remembering window ids. A non-positive
// window selects DefaultDedupeWindow.
func NewMemoryLedger(window int) *MemoryLedger {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &MemoryLedger{
		seen:   make(map[uint64]struct{}, window),
		order:  make([]uint64, 0, window),
		window: window,
	}
}

// Claim implements Ledger.
func (l *MemoryLedger) Claim(_ context.Context, id uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[id]; ok {
		return false, nil
	}
	if len(l.order) < l.window {
		l.order = append(l.order, id)
	} else {
		delete(l.seen, l.order[l.next])
		l.order[l.next] = id
		l.next = (l.next + 1) % l.window
	}
	l.seen[id] = struct{}{}
	return true, nil
}

// Len returns the number of remembered ids.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
