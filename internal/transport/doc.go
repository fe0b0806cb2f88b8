// Package transport carries chunk packets over TCP and websocket connections.
//
// Ownership boundary:
// - listening, dialing with backoff, and the hello handshake
// - optional TLS and hello token checks
// - one ordered send queue and writer goroutine per connection
// - one reader goroutine per connection feeding the splitter
//
// Every chunk of a payload is queued before any chunk of the next payload on
// the same connection, and the writer drains the queue in order, so packets
// reach the peer in the order the splitter produced them. A closed
// connection discards all of its in-flight reassembly streams.
package transport
