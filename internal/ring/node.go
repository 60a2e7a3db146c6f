package ring

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cp5337/sx9-sub010/internal/drift"
)

// Transport moves one frame across the link between neighbours. Send fails
// when the peer is unreachable; a frame accepted by Send may still be lost.
type Transport interface {
	Send(from, to uint16, frame []byte) error
}

// Handler receives every message a node consumes except token transfers.
// It runs with the node locked and must not call back into the same node.
type Handler func(node uint16, m Message)

// Stats is a snapshot of a node's counters.
type Stats struct {
	Consumed     uint64
	Forwarded    uint64
	Duplicates   uint64
	Corrupted    uint64
	Expired      uint64
	Misrouted    uint64
	StaleTokens  uint64
	LedgerErrors uint64
	Originated   uint64
	Heartbeats   uint64
	Claims       uint64
}

type counters struct {
	consumed     atomic.Uint64
	forwarded    atomic.Uint64
	duplicates   atomic.Uint64
	corrupted    atomic.Uint64
	expired      atomic.Uint64
	misrouted    atomic.Uint64
	staleTokens  atomic.Uint64
	ledgerErrors atomic.Uint64
	originated   atomic.Uint64
	heartbeats   atomic.Uint64
	claims       atomic.Uint64
}

// generation orders tokens. A higher epoch wins; within an epoch the token
// created by the lower node index wins.
type generation struct {
	epoch uint32
	owner uint16
}

func (g generation) newerThan(o generation) bool {
	if g.epoch != o.epoch {
		return g.epoch > o.epoch
	}
	return g.owner < o.owner
}

type pending struct {
	dst     uint16
	payload Payload
	drift   drift.Position
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithLedger replaces the in-memory dedupe ledger.
func WithLedger(l Ledger) NodeOption {
	return func(n *Node) { n.ledger = l }
}

// WithHandler sets the consumer for delivered messages.
func WithHandler(h Handler) NodeOption {
	return func(n *Node) { n.handler = h }
}

// WithLogger sets the node's logger.
func WithLogger(l *slog.Logger) NodeOption {
	return func(n *Node) { n.logger = l }
}

// WithClock sets the time source used when a frame arrives.
func WithClock(now func() time.Time) NodeOption {
	return func(n *Node) { n.now = now }
}

// WithSequence resumes message ids from an existing clock.
func WithSequence(c *Clock) NodeOption {
	return func(n *Node) { n.seq = c }
}

// Node is one ring member.
//
// Every method locks the node, so a Node is safe for concurrent use. The
// token is a field of exactly one live node or a Token frame in flight;
// receiving a Token frame is the only way to gain it besides a regeneration
// claim that no better claim outranked for one TokenHold.
type Node struct {
	index      uint16
	cfg        Config
	transport  Transport
	ledger     Ledger
	handler    Handler
	logger     *slog.Logger
	now        func() time.Time
	seq        *Clock
	heartbeats *rate.Limiter
	metrics    nodeMetrics
	stats      counters

	// down is read by transports without the node lock.
	down atomic.Bool

	mu         sync.Mutex
	holding    bool
	claiming   bool
	reverse    bool
	gen        generation
	heldSince  time.Time
	claimedAt  time.Time
	lastToken  time.Time
	lastHolder uint16
	budget     int
	outbox     []pending
}

// NewNode creates node index of a ring described by cfg.
func NewNode(index uint16, cfg Config, transport Transport, opts ...NodeOption) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if int(index) >= cfg.Nodes {
		return nil, fmt.Errorf("%w: index %d in a %d-node ring", ErrUnknownNode, index, cfg.Nodes)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}

	n := &Node{
		index:     index,
		cfg:       cfg,
		transport: transport,
		now:       time.Now,
		metrics:   newNodeMetrics(index),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.ledger == nil {
		n.ledger = NewMemoryLedger(cfg.DedupeWindow)
	}
	if n.logger == nil {
		n.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if n.seq == nil {
		n.seq = NewClock()
	}
	if cfg.HeartbeatInterval > 0 {
		n.heartbeats = rate.NewLimiter(rate.Every(cfg.HeartbeatInterval), 1)
	}
	n.lastToken = n.now()
	return n, nil
}

// Index returns the node's ring position.
func (n *Node) Index() uint16 { return n.index }

// Stats returns a snapshot of the node's counters.
func (n *Node) Stats() Stats {
	return Stats{
		Consumed:     n.stats.consumed.Load(),
		Forwarded:    n.stats.forwarded.Load(),
		Duplicates:   n.stats.duplicates.Load(),
		Corrupted:    n.stats.corrupted.Load(),
		Expired:      n.stats.expired.Load(),
		Misrouted:    n.stats.misrouted.Load(),
		StaleTokens:  n.stats.staleTokens.Load(),
		LedgerErrors: n.stats.ledgerErrors.Load(),
		Originated:   n.stats.originated.Load(),
		Heartbeats:   n.stats.heartbeats.Load(),
		Claims:       n.stats.claims.Load(),
	}
}

// HoldsToken reports whether the node currently holds the token.
func (n *Node) HoldsToken() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.holding
}

// Epoch returns the newest token epoch the node knows of.
func (n *Node) Epoch() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen.epoch
}

// Down reports whether the node has been killed. It does not take the node
// lock, so a transport may call it while another node is locked.
func (n *Node) Down() bool { return n.down.Load() }

// Pending returns the number of queued submissions.
func (n *Node) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.outbox)
}

// Submit queues a message for origination. It never waits for the token:
// the message leaves when the node next holds it. Submit fails only when
// the node is down, the destination is unknown or the outbox is full.
func (n *Node) Submit(ctx context.Context, dst uint16, p Payload, pos drift.Position) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.down.Load() {
		return newNodeDownError(n.index)
	}
	if err := n.checkDestination(dst); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("submit: %w: nil payload", ErrMalformedPayload)
	}
	if len(n.outbox) >= n.cfg.OutboxSize {
		return newOutboxFullError(n.index, len(n.outbox))
	}
	n.outbox = append(n.outbox, pending{dst: dst, payload: p, drift: pos})
	if n.holding {
		n.flush(ctx, n.now())
	}
	n.metrics.outbox(len(n.outbox))
	return nil
}

// Originate sends a message immediately. It requires the token and does
// not draw on the per-token outbox budget.
func (n *Node) Originate(ctx context.Context, dst uint16, p Payload, pos drift.Position) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.down.Load() {
		return 0, newNodeDownError(n.index)
	}
	if !n.holding {
		return 0, newNoTokenError(n.index)
	}
	if err := n.checkDestination(dst); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, fmt.Errorf("originate: %w: nil payload", ErrMalformedPayload)
	}
	return n.originate(ctx, dst, p, pos, n.now())
}

// Receive handles one frame arriving from neighbour from. Corrupted,
// duplicate and expired frames are counted and dropped; nothing is
// returned to the caller.
func (n *Node) Receive(ctx context.Context, from uint16, frame []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.down.Load() {
		n.metrics.frame(outcomeDown)
		return
	}

	msg, err := Unmarshal(frame)
	if err != nil {
		n.stats.corrupted.Add(1)
		n.metrics.frame(outcomeCorrupted)
		n.logger.Debug("dropping corrupted frame",
			"node", n.index,
			"from", from,
			"error", err,
		)
		return
	}

	now := n.now()
	switch {
	case msg.Destination == n.index:
		n.deliver(ctx, msg, now)

	case msg.IsBroadcast():
		if !n.deliver(ctx, msg, now) {
			return
		}
		other := n.cfg.next(n.index)
		if other == from {
			other = n.cfg.prev(n.index)
		}
		if other == from {
			return
		}
		if msg.Hops == 0 {
			n.expire(msg)
			return
		}
		n.forward(other, frame, msg.Hops-1)

	case int(msg.Destination) >= n.cfg.Nodes:
		n.stats.misrouted.Add(1)
		n.metrics.frame(outcomeMisrouted)

	default:
		if msg.Hops == 0 {
			n.expire(msg)
			return
		}
		n.forward(n.toward(msg.Destination), frame, msg.Hops-1)
	}
}

// Tick advances the node's timers: heartbeats, outbox flushing, token
// passing once TokenHold has elapsed, confirming a pending claim, and
// claiming the token after the staggered silence deadline.
func (n *Node) Tick(ctx context.Context, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.down.Load() {
		return
	}
	n.heartbeat(ctx, now)

	if n.holding {
		n.flush(ctx, now)
		if now.Sub(n.heldSince) >= n.cfg.TokenHold {
			n.passToken(now)
		}
		return
	}
	if n.claiming {
		if now.Sub(n.claimedAt) >= n.cfg.TokenHold {
			n.confirmClaim(ctx, now)
		}
		return
	}
	if now.Sub(n.lastToken) >= n.silenceLimit() {
		n.claimToken(ctx, now)
	}
}

// Grant hands the node a fresh token at epoch, owned by this node. Rings use
// it once at start-up.
func (n *Node) Grant(ctx context.Context, epoch uint32, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.setGeneration(generation{epoch: epoch, owner: n.index})
	n.claiming = false
	n.acquire(now)
	n.flush(ctx, now)
}

// Kill simulates a crash: the node stops receiving, and a token it held is
// gone with it.
func (n *Node) Kill() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.holding {
		n.logger.Warn("node killed while holding token",
			"node", n.index,
			"epoch", n.gen.epoch,
		)
	}
	n.down.Store(true)
	n.holding = false
	n.claiming = false
	n.outbox = nil
	n.metrics.outbox(0)
}

// Revive brings a killed node back. It waits for a token like any other
// non-holder.
func (n *Node) Revive(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.down.Store(false)
	n.lastToken = now
}

func (n *Node) checkDestination(dst uint16) error {
	if dst != Broadcast && int(dst) >= n.cfg.Nodes {
		return fmt.Errorf("%w: destination %d in a %d-node ring", ErrUnknownNode, dst, n.cfg.Nodes)
	}
	return nil
}

// originate stamps and sends a new message. Broadcasts go to both
// neighbours and the node marks its own id as seen so the returning waves
// stop here.
func (n *Node) originate(ctx context.Context, dst uint16, p Payload, pos drift.Position, now time.Time) (uint64, error) {
	msg := Message{
		ID:          MessageID(n.index, n.seq.Next()),
		Source:      n.index,
		Destination: dst,
		Payload:     p,
		Drift:       pos,
		Hops:        n.cfg.TTL,
		Timestamp:   now,
	}
	frame, err := msg.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("originate %s: %w", p.Type(), err)
	}
	n.stats.originated.Add(1)
	n.metrics.originated(p.Type())

	switch dst {
	case Broadcast:
		if _, err := n.ledger.Claim(ctx, msg.ID); err != nil {
			n.stats.ledgerErrors.Add(1)
			n.logger.Warn("ledger claim failed", "node", n.index, "message", msg.ID, "error", err)
		}
		right, left := n.cfg.next(n.index), n.cfg.prev(n.index)
		n.send(right, frame)
		if left != right {
			n.send(left, frame)
		}
	case n.index:
		n.deliver(ctx, msg, now)
	default:
		n.send(n.toward(dst), frame)
	}
	return msg.ID, nil
}

// deliver consumes msg once. It reports false for duplicates and for ids
// the ledger could not record.
func (n *Node) deliver(ctx context.Context, msg Message, now time.Time) bool {
	fresh, err := n.ledger.Claim(ctx, msg.ID)
	if err != nil {
		n.stats.ledgerErrors.Add(1)
		n.logger.Warn("ledger claim failed, dropping message",
			"node", n.index,
			"message", msg.ID,
			"error", err,
		)
		return false
	}
	if !fresh {
		n.stats.duplicates.Add(1)
		n.metrics.frame(outcomeDuplicate)
		return false
	}
	n.stats.consumed.Add(1)
	n.metrics.frame(outcomeConsumed)

	switch p := msg.Payload.(type) {
	case Token:
		n.acceptToken(ctx, p, now)
		return true
	case Fault:
		n.observeFault(ctx, p, now)
	case Heartbeat:
		n.observeHeartbeat(p, msg.Source, now)
	}
	if n.handler != nil {
		n.handler(n.index, msg)
	}
	return true
}

func (n *Node) forward(to uint16, frame []byte, hops uint8) {
	if n.send(to, withHops(frame, hops)) {
		n.stats.forwarded.Add(1)
		n.metrics.frame(outcomeForwarded)
	}
}

func (n *Node) send(to uint16, frame []byte) bool {
	if err := n.transport.Send(n.index, to, frame); err != nil {
		n.logger.Debug("link send failed", "node", n.index, "to", to, "error", err)
		return false
	}
	return true
}

func (n *Node) expire(msg Message) {
	n.stats.expired.Add(1)
	n.metrics.frame(outcomeExpired)
	n.logger.Debug("hop budget exhausted", "node", n.index, "message", msg.String())
}

// toward picks the neighbour on the shorter arc to dst. Ties go clockwise.
func (n *Node) toward(dst uint16) uint16 {
	if n.cfg.clockwise(n.index, dst) <= n.cfg.Nodes/2 {
		return n.cfg.next(n.index)
	}
	return n.cfg.prev(n.index)
}

func (n *Node) heartbeat(ctx context.Context, now time.Time) {
	if n.heartbeats == nil || !n.heartbeats.AllowN(now, 1) {
		return
	}
	hb := Heartbeat{Epoch: n.gen.epoch, Owner: n.gen.owner, Holding: n.holding}
	if _, err := n.originate(ctx, Broadcast, hb, drift.Position{}, now); err != nil {
		n.logger.Warn("heartbeat failed", "node", n.index, "error", err)
		return
	}
	n.stats.heartbeats.Add(1)
}

// flush originates queued submissions while the token budget lasts.
func (n *Node) flush(ctx context.Context, now time.Time) {
	for n.budget > 0 && len(n.outbox) > 0 {
		p := n.outbox[0]
		n.outbox[0] = pending{}
		n.outbox = n.outbox[1:]
		n.budget--
		if _, err := n.originate(ctx, p.dst, p.payload, p.drift, now); err != nil {
			n.logger.Warn("dropping submission", "node", n.index, "type", p.payload.Type(), "error", err)
		}
	}
	n.metrics.outbox(len(n.outbox))
}
