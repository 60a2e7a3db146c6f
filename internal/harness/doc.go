// Package harness runs deterministic scenarios against the lineage
// processor and the token ring it publishes to.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	config:            # optional, same schema as a config file
//	  ring:
//	    nodes: 5
//	steps:
//	  - observe:
//	      lineage: sensor
//	      position: [0.1, 0.1, 0.1]
//	      content: v1
//	      node: 0
//	  - drain: true
//	  - advance_ms: 10
//	    tick: true
//	  - kill: 3
//	  - revive: 3
//	assertions:
//	  - type: class_sequence
//	    lineage: sensor
//	    values: [none, critical]
//	  - type: delivered
//	    payload: identity-refresh
//	    node: 4
//	    count: 2
//
// Every step may advance the manual clock first and then performs exactly
// one action.
//
// # Assertion Types
//
//   - class_sequence: drift class of every observation of a lineage, in order
//   - gate_sequence: gate state after every observation of a lineage, in order
//   - identity_changes: number of identifiers recorded for a lineage
//   - delivered: payloads of one type consumed at a node, or ring-wide
//   - token_holders: the nodes holding the token at the end
//
// # Deterministic Testing
//
// The harness uses:
//   - A manual clock starting at testutil.Epoch
//   - Sequential persistence codes (testutil.SequenceSource)
//   - An in-memory SQLite database (isolated per run) for history and
//     the ring's dedupe ledgers
//
// Ring delivery is a FIFO queue drained only by drain and tick steps, so
// traces are identical across runs and can be compared to golden files.
package harness
