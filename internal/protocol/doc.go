// Package protocol owns the fragmentation contract shared by every layer.
//
// Ownership boundary:
// - transfer directions and endpoint sides
// - per-direction packet and payload limits
// - sentinel errors for framing and reassembly
//
// Wire contract:
//
//	frame := varint(total_length) payload_bytes
//
// A frame is sliced into chunks of at most Limits.MaxChunkSize bytes and each
// chunk travels as one physical packet with no per-chunk header. The transport
// must deliver the chunks of one (connection, channel) stream whole, in order,
// without loss or duplication; reassembly performs no resequencing.
//
// Subpackages:
// - frame: length prefix codec
// - fragment: chunk sequence
// - reassembly: per-stream sessions and the session table
package protocol
