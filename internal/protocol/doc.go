// Package protocol owns the SIMP wire contract and parsing primitives.
//
// Ownership boundary:
// - fixed 39-byte header layout (type, operation, sequence, user, length)
// - message constructors and kind classification
// - encode/decode with malformed-datagram rejection
//
// Reliability (sequence alternation, acks, retransmission) lives in
// package session; this package only validates that a sequence bit is 0 or 1.
package protocol
