package ring

import (
	"context"
	"time"

	"github.com/cp5337/sx9-sub010/internal/drift"
)

// Token rules, all evaluated under the node lock:
//
//   - A token is identified by its generation (epoch, owner). A node only
//     accepts a token at least as new as the newest generation it knows.
//   - The holder passes the token to its successor once TokenHold has
//     elapsed. If the successor's link is down it reverses direction, so a
//     single failed node turns the circulation into a back-and-forth sweep
//     instead of losing the token.
//   - A non-holder that has seen no evidence of the token for TokenTimeout,
//     plus TokenHold per clockwise step from the last holder it knows of,
//     claims epoch+1 and broadcasts a TokenLost claim. Successors of a dead
//     holder therefore claim one at a time, in ring order.
//   - A claim is not the token. The claimant originates nothing and only
//     becomes the holder once TokenHold passes without a better claim.
//   - A claim newer than a holder's token or a pending claim makes that node
//     yield; a claim older than a holder's token makes the holder assert its
//     own generation so the claimant yields. Concurrent claims at the same
//     epoch resolve to the lowest claimant index.

func (n *Node) acceptToken(ctx context.Context, t Token, now time.Time) {
	g := generation{epoch: t.Epoch, owner: t.Owner}
	if n.gen.newerThan(g) {
		n.stats.staleTokens.Add(1)
		n.metrics.frame(outcomeStale)
		n.logger.Debug("discarding stale token",
			"node", n.index,
			"token_epoch", t.Epoch,
			"token_owner", t.Owner,
			"epoch", n.gen.epoch,
			"owner", n.gen.owner,
		)
		return
	}
	n.setGeneration(g)
	n.claiming = false
	n.reverse = t.Reverse
	n.acquire(now)
	n.flush(ctx, now)
}

func (n *Node) observeFault(ctx context.Context, f Fault, now time.Time) {
	g := generation{epoch: f.Epoch, owner: f.Node}
	switch {
	case g.newerThan(n.gen):
		n.yield(g, "newer token generation announced")
		n.setGeneration(g)
		n.lastToken = now
		n.lastHolder = f.Node
	case g == n.gen:
		n.lastToken = now
	case n.holding && f.Code == FaultTokenLost:
		n.logger.Warn("asserting token against older claim",
			"node", n.index,
			"epoch", n.gen.epoch,
			"claim_epoch", f.Epoch,
			"claimant", f.Node,
		)
		assert := Fault{Code: FaultTokenAssert, Epoch: n.gen.epoch, Node: n.gen.owner}
		if _, err := n.originate(ctx, Broadcast, assert, drift.Position{}, now); err != nil {
			n.logger.Warn("token assert failed", "node", n.index, "error", err)
		}
	}
}

func (n *Node) observeHeartbeat(h Heartbeat, from uint16, now time.Time) {
	if !h.Holding {
		return
	}
	g := generation{epoch: h.Epoch, owner: h.Owner}
	if n.gen.newerThan(g) {
		return
	}
	if g.newerThan(n.gen) {
		n.yield(g, "holder of newer token is alive")
		n.setGeneration(g)
	}
	n.lastToken = now
	n.lastHolder = from
}

// silenceLimit is how long the node waits for evidence of the token before
// claiming it.
func (n *Node) silenceLimit() time.Duration {
	steps := n.cfg.clockwise(n.lastHolder, n.index)
	return n.cfg.TokenTimeout + time.Duration(steps)*n.cfg.TokenHold
}

// claimToken announces a regenerated token after silence. The claim holds
// the new generation but not the token; see confirmClaim.
func (n *Node) claimToken(ctx context.Context, now time.Time) {
	g := generation{epoch: n.gen.epoch + 1, owner: n.index}
	n.logger.Warn("token silence, claiming token",
		"node", n.index,
		"epoch", g.epoch,
		"silence", now.Sub(n.lastToken),
	)
	n.stats.claims.Add(1)
	n.metrics.claim()

	n.setGeneration(g)
	n.reverse = false
	n.claiming = true
	n.claimedAt = now
	n.lastToken = now

	claim := Fault{Code: FaultTokenLost, Epoch: g.epoch, Node: n.index}
	if _, err := n.originate(ctx, Broadcast, claim, drift.Position{}, now); err != nil {
		n.logger.Warn("token claim broadcast failed", "node", n.index, "error", err)
	}
}

// confirmClaim turns a claim that stood for TokenHold into the token.
func (n *Node) confirmClaim(ctx context.Context, now time.Time) {
	n.claiming = false
	n.logger.Info("token claim confirmed", "node", n.index, "epoch", n.gen.epoch)
	n.acquire(now)
	n.flush(ctx, now)
}

// passToken hands the token to the successor in the current direction,
// falling back to the other neighbour. An isolated node keeps the token.
func (n *Node) passToken(now time.Time) {
	for _, reverse := range [2]bool{n.reverse, !n.reverse} {
		to := n.cfg.next(n.index)
		if reverse {
			to = n.cfg.prev(n.index)
		}
		msg := Message{
			ID:          MessageID(n.index, n.seq.Next()),
			Source:      n.index,
			Destination: to,
			Payload:     Token{Epoch: n.gen.epoch, Owner: n.gen.owner, Reverse: reverse},
			Hops:        n.cfg.TTL,
			Timestamp:   now,
		}
		frame, err := msg.MarshalBinary()
		if err != nil {
			n.logger.Error("encoding token", "node", n.index, "error", err)
			return
		}
		if !n.send(to, frame) {
			continue
		}
		n.holding = false
		n.reverse = reverse
		n.lastToken = now
		n.lastHolder = to
		n.stats.originated.Add(1)
		n.metrics.originated(TypeToken)
		n.logger.Debug("token passed", "node", n.index, "to", to, "epoch", n.gen.epoch)
		return
	}
	n.heldSince = now
}

func (n *Node) acquire(now time.Time) {
	n.holding = true
	n.lastHolder = n.index
	n.heldSince = now
	n.lastToken = now
	n.budget = n.cfg.MessagesPerToken
}

func (n *Node) yield(to generation, reason string) {
	if !n.holding && !n.claiming {
		return
	}
	n.logger.Warn("yielding token",
		"node", n.index,
		"epoch", n.gen.epoch,
		"owner", n.gen.owner,
		"to_epoch", to.epoch,
		"to_owner", to.owner,
		"pending_claim", n.claiming,
		"reason", reason,
	)
	n.holding = false
	n.claiming = false
}

func (n *Node) setGeneration(g generation) {
	n.gen = g
	n.metrics.epoch(g.epoch)
}
