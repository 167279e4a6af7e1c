// Package wire implements the fixed-size frame codec for the pulse device's
// host-communication channel.
//
// # Frame Layout
//
// Every message exchanged between host and device is exactly one 64-byte
// frame, matching the transport unit used throughout the device link:
//
//	byte 0     CommandType
//	byte 1     CommandID (caller-chosen correlation id)
//	byte 2     PayloadLength (0-60)
//	byte 3     IntegrityToken
//	bytes 4-63 payload, zero-padded
//
// Multi-byte quantities inside payloads are little-endian.
//
// # Integrity Token
//
// The integrity token is a seeded XOR fold over the command type, command
// id, payload length, and payload bytes. Sender and receiver both derive it
// with ComputeToken, so a frame that decodes cleanly is guaranteed to have
// the same token computation on both ends. Any single-bit corruption of a
// non-padding byte flips at least one token bit and is detected by Decode.
//
// The token is a transit-integrity check, not a cryptographic MAC; the
// channel is assumed unreliable, not adversarial.
package wire
