package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/chunkwire/internal/transport/wire"
)

var (
	ErrConnClosed    = errors.New("transport: connection closed")
	ErrSequenceGap   = errors.New("transport: packet sequence gap")
	ErrUnexpectedMsg = errors.New("transport: unexpected message type")
)

// link is one established physical connection carrying wire packets.
type link interface {
	writePacket(b []byte) error
	readPacket() (wire.Packet, error)
	close() error
	remoteAddr() string
	kind() string
}

// Conn is one connection handle. Its pointer identity keys reassembly
// sessions, so a reconnect is always a fresh stream space.
type Conn struct {
	id     uint64
	peerID string
	link   link
	queue  *sendQueue

	// sendMu keeps the chunks of one payload contiguous on the wire.
	sendMu sync.Mutex
	// seq is owned by writeLoop: numbers go only to packets actually written.
	seq     uint64
	pending atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
	errMu     sync.Mutex
	err       error
	opened    time.Time
	writeDone chan struct{}
}

func newConn(id uint64, peerID string, l link, depth int) *Conn {
	c := &Conn{
		id:        id,
		peerID:    peerID,
		link:      l,
		queue:     newSendQueue(depth),
		closed:    make(chan struct{}),
		opened:    time.Now(),
		writeDone: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Conn) ID() uint64         { return c.id }
func (c *Conn) PeerID() string     { return c.peerID }
func (c *Conn) RemoteAddr() string { return c.link.remoteAddr() }
func (c *Conn) Kind() string       { return c.link.kind() }

func (c *Conn) String() string {
	return fmt.Sprintf("%s#%d(%s)", c.link.kind(), c.id, c.link.remoteAddr())
}

// Done is closed when the connection shuts down.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Err returns the error that closed the connection, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	return c.closeWith(nil)
}

func (c *Conn) closeWith(err error) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.closed)
		closeErr = c.link.close()
	})
	return closeErr
}

// enqueue encodes one chunk as a wire packet and queues it behind earlier
// packets. The sequence number is stamped by writeLoop.
func (c *Conn) enqueue(ctx context.Context, channel string, chunk []byte, limits wire.Limits) error {
	b, err := wire.Marshal(wire.Packet{Channel: channel, Chunk: chunk}, limits)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	c.pending.Add(1)
	if err := c.queue.push(ctx, b, c.closed); err != nil {
		c.pending.Add(-1)
		return err
	}
	return nil
}

func (c *Conn) writeLoop() {
	defer close(c.writeDone)
	for {
		b, ok := c.queue.pop(c.closed)
		if !ok {
			return
		}
		c.seq++
		wire.PutSequence(b, c.seq)
		if err := c.link.writePacket(b); err != nil {
			_ = c.closeWith(fmt.Errorf("transport: write: %w", err))
			return
		}
		c.pending.Add(-1)
	}
}

// Flush waits until every queued packet has been written to the link.
func (c *Conn) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for c.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return ErrConnClosed
		case <-ticker.C:
		}
	}
	return nil
}

// ConnInfo is a read-only view of a live connection.
type ConnInfo struct {
	ID         uint64    `json:"id"`
	Kind       string    `json:"kind"`
	PeerID     string    `json:"peer_id"`
	RemoteAddr string    `json:"remote_addr"`
	Opened     time.Time `json:"opened"`
	Queued     int       `json:"queued"`
}

func (c *Conn) Info() ConnInfo {
	return ConnInfo{
		ID:         c.id,
		Kind:       c.link.kind(),
		PeerID:     c.peerID,
		RemoteAddr: c.link.remoteAddr(),
		Opened:     c.opened,
		Queued:     c.queue.len(),
	}
}
