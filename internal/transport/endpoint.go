package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/chunkwire/internal/auth"
	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/protocol/reassembly"
	"github.com/danmuck/chunkwire/internal/splitter"
	"github.com/danmuck/chunkwire/internal/transport/wire"
	"github.com/rs/zerolog/log"
)

var ErrWrongSide = errors.New("transport: operation not valid for endpoint side")

// Handler receives each reassembled payload together with its connection.
type Handler func(c *Conn, channel string, payload []byte)

// Observer extends the splitter observer with connection lifecycle events.
type Observer interface {
	splitter.Observer
	ConnOpened(kind string)
	ConnClosed(kind string)
}

// Endpoint owns the connections of one side and the splitter that
// fragments and reassembles payloads over them.
type Endpoint struct {
	cfg      Config
	side     protocol.Side
	splitter *splitter.Splitter[*Conn]
	handler  Handler
	obs      Observer
	auth     auth.Validator

	readLimits  wire.Limits
	writeLimits wire.Limits

	nextID atomic.Uint64

	mu    sync.RWMutex
	conns map[uint64]*Conn

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewEndpoint(cfg Config, scfg splitter.Config, handler Handler, obs Observer) (*Endpoint, error) {
	cfg = cfg.WithDefaults()
	if obs == nil {
		obs = nopObserver{}
	}
	if handler == nil {
		handler = func(*Conn, string, []byte) {}
	}
	e := &Endpoint{
		cfg:     cfg,
		side:    scfg.Side,
		handler: handler,
		obs:     obs,
		conns:   make(map[uint64]*Conn),
		auth:    cfg.Validator,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if e.auth == nil {
		e.auth = auth.ForTokens(append([]string{cfg.Token}, cfg.AcceptTokens...)...)
	}
	sp, err := splitter.New[*Conn](scfg, e, e.deliver, obs)
	if err != nil {
		return nil, err
	}
	e.splitter = sp
	limits := sp.Config().Limits
	e.readLimits = wire.Limits{
		MaxChannelBytes: cfg.MaxChannelBytes,
		MaxChunkBytes:   limits.For(scfg.Side.Inbound()).MaxPacketSize,
	}
	e.writeLimits = wire.Limits{
		MaxChannelBytes: cfg.MaxChannelBytes,
		MaxChunkBytes:   limits.For(scfg.Side.Outbound()).MaxPacketSize,
	}
	return e, nil
}

func (e *Endpoint) Side() protocol.Side {
	return e.side
}

func (e *Endpoint) Splitter() *splitter.Splitter[*Conn] {
	return e.splitter
}

// SendPacket queues one physical packet on c. It implements splitter.Sender.
// Callers sending more than one packet per payload must go through Send.
func (e *Endpoint) SendPacket(ctx context.Context, c *Conn, channel string, packet []byte) error {
	if c == nil {
		return ErrConnClosed
	}
	return c.enqueue(ctx, channel, packet, e.writeLimits)
}

// Send fragments payload in this side's outbound direction and queues the
// chunks on c. Payloads sent on one connection never interleave. A payload
// that fails after its first chunk closes c, which discards the partial
// stream on the peer.
func (e *Endpoint) Send(ctx context.Context, c *Conn, channel string, payload []byte) (int, error) {
	if c == nil {
		return 0, ErrConnClosed
	}
	if len(channel) > e.writeLimits.MaxChannelBytes {
		return 0, fmt.Errorf("%w: %d bytes", wire.ErrChannelTooLarge, len(channel))
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	n, err := e.splitter.SendOutbound(ctx, c, channel, payload)
	if errors.Is(err, splitter.ErrIncompleteStream) {
		log.Warn().Err(err).Str("conn", c.String()).Int("packets", n).Msg("transport closing connection after partial send")
		_ = c.closeWith(err)
	}
	return n, err
}

// Run evicts idle reassembly sessions until ctx is done.
func (e *Endpoint) Run(ctx context.Context) {
	e.splitter.Run(ctx)
}

func (e *Endpoint) deliver(key reassembly.Key[*Conn], payload []byte) {
	e.handler(key.Conn, key.Channel, payload)
}

// serve reads packets from c until it closes, feeding them to the splitter.
// Every stream of c is discarded when serve returns.
func (e *Endpoint) serve(c *Conn) {
	e.track(c)
	e.obs.ConnOpened(c.Kind())
	log.Info().Str("conn", c.String()).Str("peer", c.PeerID()).Msg("transport connection opened")

	err := e.readLoop(c)
	_ = c.closeWith(err)
	dropped := e.splitter.Disconnect(c)
	e.obs.ConnClosed(c.Kind())
	e.untrack(c)

	event := log.Info()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.Str("conn", c.String()).Int("dropped_sessions", dropped).Msg("transport connection closed")
}

func (e *Endpoint) readLoop(c *Conn) error {
	var last uint64
	for {
		p, err := c.link.readPacket()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnClosed) {
				return nil
			}
			return err
		}
		if p.Header.Sequence != last+1 {
			return ErrSequenceGap
		}
		last = p.Header.Sequence
		if _, _, err := e.splitter.OnPacket(c, p.Channel, p.Chunk); err != nil && e.cfg.CloseOnProtocolError {
			return err
		}
	}
}

func (e *Endpoint) newConn(peerID string, l link) *Conn {
	return newConn(e.nextID.Add(1), peerID, l, e.cfg.QueueDepth)
}

func (e *Endpoint) track(c *Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns[c.id] = c
}

func (e *Endpoint) untrack(c *Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, c.id)
}

// Conns lists live connections ordered by id.
func (e *Endpoint) Conns() []ConnInfo {
	e.mu.RLock()
	out := make([]ConnInfo, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c.Info())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SessionInfo is a read-only view of one in-flight reassembly.
type SessionInfo struct {
	ConnID       uint64    `json:"conn_id"`
	RemoteAddr   string    `json:"remote_addr"`
	Channel      string    `json:"channel"`
	Expected     int       `json:"expected"`
	Received     int       `json:"received"`
	Packets      int       `json:"packets"`
	Opened       time.Time `json:"opened"`
	LastActivity time.Time `json:"last_activity"`
}

func (e *Endpoint) Sessions() []SessionInfo {
	snap := e.splitter.Sessions()
	out := make([]SessionInfo, 0, len(snap))
	for _, s := range snap {
		out = append(out, SessionInfo{
			ConnID:       s.Key.Conn.ID(),
			RemoteAddr:   s.Key.Conn.RemoteAddr(),
			Channel:      s.Key.Channel,
			Expected:     s.Expected,
			Received:     s.Received,
			Packets:      s.Packets,
			Opened:       s.Opened,
			LastActivity: s.LastActivity,
		})
	}
	return out
}

// CloseAll closes every live connection.
func (e *Endpoint) CloseAll() {
	e.mu.RLock()
	conns := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// accept checks a client hello and builds the ack to send back.
func (e *Endpoint) accept(hello Hello) (HelloAck, error) {
	if err := e.auth.Validate(hello.Token); err != nil {
		return HelloAck{Status: AckStatusRejected, PeerID: e.cfg.PeerID, Message: err.Error()}, err
	}
	return HelloAck{Status: AckStatusAccepted, PeerID: e.cfg.PeerID}, nil
}

func (e *Endpoint) shouldRetry(attempt int) bool {
	if e.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < e.cfg.MaxConnectAttempts
}

func (e *Endpoint) backoff(ctx context.Context, attempt int) error {
	e.rngMu.Lock()
	rng := rand.New(rand.NewSource(e.rng.Int63()))
	e.rngMu.Unlock()
	return e.cfg.Backoff.Wait(ctx, attempt, rng)
}

type nopObserver struct {
	reassembly.NopObserver
}

func (nopObserver) PayloadSent(string, protocol.Direction, int, int) {}
func (nopObserver) PacketReceived(string, int)                      {}
func (nopObserver) ConnOpened(string)                               {}
func (nopObserver) ConnClosed(string)                               {}

// Cancel discards the in-flight stream on channel of connection connID.
func (e *Endpoint) Cancel(connID uint64, channel string) bool {
	e.mu.RLock()
	c, ok := e.conns[connID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	return e.splitter.Cancel(c, channel)
}

// OpenSessions reports how many streams are awaiting more packets.
func (e *Endpoint) OpenSessions() int {
	return e.splitter.OpenSessions()
}
