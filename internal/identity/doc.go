// Package identity mints trivariate identifiers.
//
// An identifier has three codes, each rendered in the codec alphabet:
//
//   - content: Murmur3 x64 128 of the content and a 32-bit seed, 24 symbols.
//     Deterministic; the hash is not cryptographic and proves nothing about
//     tampering.
//   - context: a 16-byte packed ContextDescriptor, 20 symbols. It changes
//     whenever the owning context changes.
//   - persistence: a UUIDv7, 20 symbols. Fresh on every mint, never reused,
//     and ordered by creation time because the alphabet is ordered.
//
// The canonical text form is id:<content>_<context>_<persistence>.
//
// Regenerate applies the drift policy: Micro refreshes context only, Soft and
// Hard refresh content and context, Critical re-mints and so starts a new
// lineage. Downstream audit trails depend on this mapping.
package identity
