// Package splitter is the application-facing boundary of the fragmentation
// protocol.
//
// Ownership boundary:
// - sending large payloads as ordered chunk packets through a Sender
// - feeding received packets into the reassembly table
// - handing completed payloads to the application Handler
// - discarding a connection's streams on disconnect
//
// Splitter does not own connections or their ordering; the Sender must
// deliver packets for one connection in call order.
package splitter
