// Package session owns UDP session defaults and control-plane envelopes.
//
// Ownership boundary:
// - receive/ack timing and frame size defaults
// - verify request/ack envelopes for acknowledged sends
// - agent control commands carried inside verified sends
// - retry/backoff/outbox primitives
package session
