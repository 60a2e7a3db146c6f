// Package lineage ties the identity, drift, gate and ring packages into one
// processing path per identifier lineage.
//
// For every Observation the Processor:
//
//  1. updates the lineage's drift tracker and classifies the move
//  2. maps the operational axis to a phase and loads that phase's gate
//     parameters
//  3. regenerates the identifier when the class is Micro or above (the
//     first observation of a lineage mints it)
//  4. feeds the gate an excitation derived from the move
//  5. publishes every change (drift update, identifier refresh, gate
//     transition) as a ring broadcast and records it
//
// Lineages are independent: each has its own lock, and observations of
// different lineages never contend.
package lineage
