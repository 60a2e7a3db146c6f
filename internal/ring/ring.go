package ring

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultDrainLimit bounds the deliveries a single Drain may process.
const DefaultDrainLimit = 1 << 20

// Ring is an in-process ring of N nodes joined by a FIFO delivery queue.
//
// Links are instantaneous but asynchronous: a send enqueues the frame and
// Drain (or Run) delivers it. This keeps delivery order deterministic for a
// given sequence of Ticks and submissions, which the simulation commands and
// tests rely on.
//
// Thread-safety model:
//   - Submit/Originate on nodes, Kill, Revive, Inject: safe from any goroutine
//   - Drain, Tick, Run: one goroutine at a time
type Ring struct {
	cfg        Config
	nodes      []*Node
	queue      *deliveryQueue
	now        func() time.Time
	logger     *slog.Logger
	drainLimit int
}

// Option configures a Ring.
type Option func(*ringOptions)

type ringOptions struct {
	now        func() time.Time
	logger     *slog.Logger
	handler    Handler
	ledger     func(node uint16) Ledger
	sequence   func(node uint16) (*Clock, error)
	drainLimit int
}

// WithRingClock sets the time source for nodes and Run.
func WithRingClock(now func() time.Time) Option {
	return func(o *ringOptions) { o.now = now }
}

// WithRingLogger sets the logger shared by the ring and its nodes.
func WithRingLogger(l *slog.Logger) Option {
	return func(o *ringOptions) { o.logger = l }
}

// WithRingHandler installs the same consumer on every node.
func WithRingHandler(h Handler) Option {
	return func(o *ringOptions) { o.handler = h }
}

// WithLedgers supplies a dedupe ledger per node, for example a durable one.
func WithLedgers(f func(node uint16) Ledger) Option {
	return func(o *ringOptions) { o.ledger = f }
}

// WithSequences resumes each node's message sequence. Pair it with durable
// ledgers: ids a node sent before a restart are still on record, and a
// node restarting at sequence 0 would have its new messages dropped as
// duplicates.
func WithSequences(f func(node uint16) (*Clock, error)) Option {
	return func(o *ringOptions) { o.sequence = f }
}

// WithDrainLimit overrides DefaultDrainLimit.
func WithDrainLimit(n int) Option {
	return func(o *ringOptions) { o.drainLimit = n }
}

// New builds a ring and grants the first token, epoch 1, to node 0.
func New(cfg Config, opts ...Option) (*Ring, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := ringOptions{now: time.Now, drainLimit: DefaultDrainLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Ring{
		cfg:        cfg,
		nodes:      make([]*Node, cfg.Nodes),
		queue:      newDeliveryQueue(),
		now:        o.now,
		logger:     o.logger,
		drainLimit: o.drainLimit,
	}
	for i := range r.nodes {
		idx := uint16(i)
		nodeOpts := []NodeOption{
			WithClock(o.now),
			WithLogger(o.logger),
			WithHandler(o.handler),
		}
		if o.ledger != nil {
			nodeOpts = append(nodeOpts, WithLedger(o.ledger(idx)))
		}
		if o.sequence != nil {
			seq, err := o.sequence(idx)
			if err != nil {
				return nil, fmt.Errorf("node %d sequence: %w", i, err)
			}
			nodeOpts = append(nodeOpts, WithSequence(seq))
		}
		n, err := NewNode(idx, cfg, r, nodeOpts...)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		r.nodes[i] = n
	}
	r.nodes[0].Grant(context.Background(), 1, o.now())
	return r, nil
}

// Config returns the ring configuration.
func (r *Ring) Config() Config { return r.cfg }

// Size returns N.
func (r *Ring) Size() int { return len(r.nodes) }

// Node returns node i.
func (r *Ring) Node(i uint16) (*Node, error) {
	if int(i) >= len(r.nodes) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, i)
	}
	return r.nodes[i], nil
}

// Nodes returns every node in index order.
func (r *Ring) Nodes() []*Node {
	return append([]*Node(nil), r.nodes...)
}

// Send implements Transport. Only neighbours are linked, and a link to a
// killed node refuses frames.
func (r *Ring) Send(from, to uint16, frame []byte) error {
	if int(to) >= len(r.nodes) || int(from) >= len(r.nodes) {
		return fmt.Errorf("%w: link %d->%d", ErrUnknownNode, from, to)
	}
	if to != r.cfg.next(from) && to != r.cfg.prev(from) {
		return fmt.Errorf("ring: %d and %d are not neighbours", from, to)
	}
	if r.nodes[to].Down() {
		return newNodeDownError(to)
	}
	if !r.queue.Enqueue(delivery{from: from, to: to, frame: frame}) {
		return fmt.Errorf("ring: closed")
	}
	return nil
}

// Inject places a raw frame on the link from -> to without any checks.
// Tests use it to deliver corrupted frames.
func (r *Ring) Inject(from, to uint16, frame []byte) {
	r.queue.Enqueue(delivery{from: from, to: to, frame: frame})
}

// Pending returns the number of frames in flight.
func (r *Ring) Pending() int { return r.queue.Len() }

// Drain delivers frames until none are in flight and returns how many were
// delivered. Deliveries that forward or reply enqueue more frames; hop
// budgets and dedupe guarantee this terminates, and the drain limit guards
// against a protocol bug turning it into a livelock.
func (r *Ring) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		d, ok := r.queue.TryDequeue()
		if !ok {
			return delivered, nil
		}
		if delivered >= r.drainLimit {
			return delivered, fmt.Errorf("ring: drain exceeded %d deliveries", r.drainLimit)
		}
		r.nodes[d.to].Receive(ctx, d.from, d.frame)
		delivered++
	}
}

// Tick advances every live node's timers in index order.
func (r *Ring) Tick(ctx context.Context, now time.Time) {
	for _, n := range r.nodes {
		n.Tick(ctx, now)
	}
}

// Step is Tick followed by Drain.
func (r *Ring) Step(ctx context.Context, now time.Time) (int, error) {
	r.Tick(ctx, now)
	return r.Drain(ctx)
}

// Run ticks the ring every interval and delivers frames as they arrive,
// until ctx is cancelled or Close is called.
func (r *Ring) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: tick interval %s", ErrInvalidConfig, interval)
	}
	r.logger.Info("ring starting", "nodes", len(r.nodes), "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if d, ok := r.queue.TryDequeue(); ok {
			r.nodes[d.to].Receive(ctx, d.from, d.frame)
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("ring stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx, r.now())
		case _, ok := <-r.queue.Wait():
			if !ok && r.queue.Len() == 0 {
				r.logger.Info("ring stopping: closed")
				return nil
			}
		}
	}
}

// Close stops Run and refuses further sends.
func (r *Ring) Close() {
	r.queue.Close()
}

// Kill crashes node i. A token it held is lost.
func (r *Ring) Kill(i uint16) error {
	n, err := r.Node(i)
	if err != nil {
		return err
	}
	n.Kill()
	r.logger.Info("node killed", "node", i)
	return nil
}

// Revive restarts node i.
func (r *Ring) Revive(i uint16) error {
	n, err := r.Node(i)
	if err != nil {
		return err
	}
	n.Revive(r.now())
	r.logger.Info("node revived", "node", i)
	return nil
}

// TokenHolders returns the indices of nodes holding the token. Outside a
// hand-off it has exactly one element.
func (r *Ring) TokenHolders() []uint16 {
	var out []uint16
	for _, n := range r.nodes {
		if n.HoldsToken() {
			out = append(out, n.Index())
		}
	}
	return out
}

// Stats sums the counters of every node.
func (r *Ring) Stats() Stats {
	var total Stats
	for _, n := range r.nodes {
		s := n.Stats()
		total.Consumed += s.Consumed
		total.Forwarded += s.Forwarded
		total.Duplicates += s.Duplicates
		total.Corrupted += s.Corrupted
		total.Expired += s.Expired
		total.Misrouted += s.Misrouted
		total.StaleTokens += s.StaleTokens
		total.LedgerErrors += s.LedgerErrors
		total.Originated += s.Originated
		total.Heartbeats += s.Heartbeats
		total.Claims += s.Claims
	}
	return total
}
