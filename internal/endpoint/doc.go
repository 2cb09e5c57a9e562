// Package endpoint binds sessions to UDP sockets.
//
// Dial opens a private socket per client session. Listen shares one socket
// among every peer of a server through transport.Mux; each peer gets its own
// engine and sequence state, and new peers are admitted up to MaxSessions.
package endpoint
