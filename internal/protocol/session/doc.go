// Package session owns the SIMP reliability engine.
//
// Ownership boundary:
// - per-peer session state (alternating send/receive bits, outstanding message)
// - stop-and-wait send with fixed-timeout retransmission and optional retry cap
// - inbound DATA delivery with duplicate suppression and re-acknowledgement
// - SYN / SYN+ACK / ACK handshake and FIN close
// - reconnect backoff for callers that redial after a failed handshake
//
// An Engine is driven by one goroutine at a time (see package conversation);
// Close, Abort and Snapshot may be called concurrently.
package session
