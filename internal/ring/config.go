package ring

import (
	"fmt"
	"math"
	"time"
)

// DefaultNodes is the ring size used when nothing else is configured.
const DefaultNodes = 9

// Config holds the ring parameters shared by every node.
type Config struct {
	// Nodes is the ring size N. Node indices are 0..N-1.
	Nodes int

	// TTL is the hop budget a message starts with.
	TTL uint8

	// TokenHold is how long a holder keeps the token before passing it.
	TokenHold time.Duration

	// TokenTimeout is the token silence after which a node regenerates the
	// token.
	TokenTimeout time.Duration

	// HeartbeatInterval paces heartbeats. Zero disables them.
	HeartbeatInterval time.Duration

	// DedupeWindow sizes each node's in-memory ledger.
	DedupeWindow int

	// MessagesPerToken caps outbox messages sent per token holding.
	MessagesPerToken int

	// OutboxSize bounds queued submissions per node.
	OutboxSize int
}

// DefaultConfig returns a configuration for an n-node ring.
func DefaultConfig(n int) Config {
	ttl := n
	if ttl > math.MaxUint8 {
		ttl = math.MaxUint8
	}
	if ttl < 1 {
		ttl = 1
	}
	return Config{
		Nodes:             n,
		TTL:               uint8(ttl),
		TokenHold:         10 * time.Millisecond,
		TokenTimeout:      time.Duration(n+1) * 10 * time.Millisecond * 2,
		HeartbeatInterval: 0,
		DedupeWindow:      DefaultDedupeWindow,
		MessagesPerToken:  16,
		OutboxSize:        256,
	}
}

// Validate rejects configurations the protocol cannot run on:
//
//   - fewer than two nodes, or so many that an index collides with Broadcast
//   - a TTL below N/2, which cannot reach the far side of the ring
//   - a token timeout that a healthy circulation (N holds) could exceed
func (c Config) Validate() error {
	if c.Nodes <= 1 {
		return fmt.Errorf("%w: node count %d, need at least 2", ErrInvalidConfig, c.Nodes)
	}
	if c.Nodes > int(Broadcast) {
		return fmt.Errorf("%w: node count %d exceeds %d", ErrInvalidConfig, c.Nodes, Broadcast)
	}
	if int(c.TTL) < c.Nodes/2 {
		return fmt.Errorf("%w: ttl %d below half the ring (%d)", ErrInvalidConfig, c.TTL, c.Nodes/2)
	}
	if c.TokenHold <= 0 {
		return fmt.Errorf("%w: token hold must be positive", ErrInvalidConfig)
	}
	if c.TokenTimeout <= time.Duration(c.Nodes)*c.TokenHold {
		return fmt.Errorf("%w: token timeout %s must exceed one circulation (%d x %s)",
			ErrInvalidConfig, c.TokenTimeout, c.Nodes, c.TokenHold)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("%w: negative heartbeat interval", ErrInvalidConfig)
	}
	if c.DedupeWindow < 0 || c.MessagesPerToken < 1 || c.OutboxSize < 1 {
		return fmt.Errorf("%w: dedupe window %d, messages per token %d, outbox %d",
			ErrInvalidConfig, c.DedupeWindow, c.MessagesPerToken, c.OutboxSize)
	}
	return nil
}

// clockwise returns the clockwise distance from a to b.
func (c Config) clockwise(a, b uint16) int {
	n := c.Nodes
	return (int(b) - int(a) + n) % n
}

func (c Config) next(i uint16) uint16 { return uint16((int(i) + 1) % c.Nodes) }

func (c Config) prev(i uint16) uint16 { return uint16((int(i) - 1 + c.Nodes) % c.Nodes) }
