// Package transport owns the UDP side of the framing protocol.
//
// Ownership boundary:
// - datagram sockets (lazy bind, bounded receive, short-write detection)
// - the background receive loop and its completed-message queue
// - verified send (request/ack) for control messages
//
// Frame encoding and reassembly live in internal/protocol.
package transport
