// Package wire is the physical packet envelope used by the stream and
// websocket transports.
//
// Layout (big endian):
//
//	magic u32 | version u16 | header_len u16 | sequence u64 | kind u32 | flags u32 | body_len u64
//	body := field(channel, string) field(chunk, bytes)
//	field := id u16 | type u8 | len u32 | value
//
// The chunk field carries one fragment exactly as produced by the
// fragmenter; the envelope adds nothing to the fragmentation protocol.
package wire
