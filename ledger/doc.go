// Package ledger implements the append-only, hash-chained vote ledger at the
// heart of Entekhablock.
//
// # Core Components
//
// Chain: An append-only log of anonymized votes with cryptographic hash
// chaining and proof-of-work sealing for tamper detection.
//
// Block: A single sealed entry containing the vote payload, its position,
// the seal counter found by proof of work and cryptographic links to the
// previous block.
//
// Store: The durable backing file the chain loads at startup and rewrites
// atomically after every append.
//
// # Security Properties
//
// The chain provides:
//   - Immutability: Once sealed, blocks cannot be modified unnoticed
//   - Verifiability: Anyone can re-derive the integrity of the entire chain
//   - Auditability: Complete history of all recorded votes
//   - Tamper detection: Any modification breaks the hash chain
//
// Sealing is a work-bounding step, not a defense against an adversary with
// comparable hardware: its role is making tampering detectable, since a
// tampered block's recomputed hash no longer meets the difficulty condition
// nor its successor's linkage.
//
// # Usage
//
// Create a chain with New, optionally attaching a FileStore for durability.
// Append records a vote and returns the sealed block as a receipt. Verify
// can be called at any time to ensure the chain remains intact, and Tamper
// exists solely to demonstrate that a mutation is detected.
package ledger
