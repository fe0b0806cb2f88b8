// Package reassembly joins chunk streams back into payloads.
//
// Ownership boundary:
// - per (connection, channel) reassembly sessions
// - the session table: lazy creation, completion, abort, removal
// - idle eviction of abandoned sessions
//
// A session is created by the first packet seen for a key. That packet must
// begin with the complete length prefix. Later packets for the key are
// appended in arrival order until the declared length is reached, at which
// point the payload is returned and the session removed. Packets for one key
// must arrive in send order; out-of-order delivery silently corrupts the
// payload and is a transport precondition, not something this package detects.
package reassembly
