// Package protocol owns the datagram framing contract.
//
// Ownership boundary:
// - message -> frame encoding (begin header, length prefix, end marker)
// - per-peer frame reassembly and crc32 validation
//
// No I/O happens here; see internal/transport for sockets.
package protocol
