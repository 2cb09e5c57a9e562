// Package transport provides the unreliable datagram channel under a SIMP
// session.
//
// Ownership boundary:
// - Transport contract: send one datagram, receive one datagram with a timeout
// - UDP adapter for a socket owned by one session (client side)
// - Mux/Endpoint for one socket shared by many peer sessions (server side)
// - Lossy and Pipe for fault injection and in-memory tests
package transport
