package ring

import "sync"

// delivery is one frame in flight on a link.
type delivery struct {
	from  uint16
	to    uint16
	frame []byte
}

// deliveryQueue is a thread-safe FIFO of in-flight frames.
//
// The queue is unbounded so a node forwarding inside Receive never blocks
// on its own ring. A buffered signal channel of size 1 lets Run wait for
// work alongside ctx.Done().
type deliveryQueue struct {
	mu     sync.Mutex
	items  []delivery
	closed bool
	signal chan struct{}
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		items:  make([]delivery, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends d. Returns false once the queue is closed.
func (q *deliveryQueue) Enqueue(d delivery) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, d)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front delivery without blocking.
func (q *deliveryQueue) TryDequeue() (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return delivery{}, false
	}
	d := q.items[0]

	// Release the frame so the backing array does not pin it.
	q.items[0] = delivery{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return d, true
}

// Wait signals that deliveries may be available. The channel is closed by
// Close.
func (q *deliveryQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued deliveries.
func (q *deliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues and wakes waiters.
func (q *deliveryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
