// Package drift tracks a lineage's position in a normalized three-axis space
// (semantic, operational, temporal) and classifies how far each update moved.
//
// The magnitude of a move is the Euclidean norm of the per-axis delta scaled
// by 180, so the bands read as degrees-equivalent. Classes drive identifier
// regeneration:
//
//	None      nothing to do
//	Micro     refresh the context code
//	Soft/Hard refresh content and context codes
//	Critical  start a new lineage
//
// Positions keep six decimals; FixedPosition mirrors them as int32
// micro-units for code that avoids floating point.
package drift
