// Package session owns MLLP connection configuration and socket lifecycle.
//
// Ownership boundary:
// - option defaults and validation
// - socket options (keep-alive, no-delay, buffers, reuse-address)
// - dial/listen/accept with optional TLS
// - graceful close vs abortive reset
package session
