// Package ring implements a fixed-topology bidirectional ring that
// broadcasts gate, drift and identity changes between processing nodes.
//
// Every frame carries a hop budget and a CRC-32 over all preceding bytes.
// Unicast frames travel the shorter arc to their destination; broadcast
// frames leave the originator in both directions, are consumed once per
// node (dedupe by message id through a Ledger) and forwarded to the other
// neighbour, so the two waves meet on the far side and stop.
//
// Origination of non-heartbeat traffic requires the token. The token moves
// between neighbours as an explicit Token frame after TokenHold; a node
// that sees no sign of it for TokenTimeout regenerates it at a higher epoch
// and broadcasts the claim. Token generations (epoch, owner) are totally
// ordered, so when claims race exactly one token survives.
//
// Integrity failures are counted and dropped; token regeneration is logged
// as a warning. Nothing here terminates the process.
package ring
