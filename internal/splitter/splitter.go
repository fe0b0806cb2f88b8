package splitter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/protocol/fragment"
	"github.com/danmuck/chunkwire/internal/protocol/reassembly"
	"github.com/rs/zerolog/log"
)

var (
	ErrSenderRequired  = errors.New("splitter: sender required")
	ErrChannelRequired = errors.New("splitter: channel required")
	ErrInvalidSide     = errors.New("splitter: invalid side")
	// ErrIncompleteStream means some but not all chunks of a payload reached
	// the Sender. The peer holds a partial session for the channel, so the
	// caller must drop conn; any later payload on that channel would be
	// appended to the stale stream.
	ErrIncompleteStream = errors.New("splitter: incomplete stream")
)

// Sender hands one physical packet to the transport. Once the first chunk of
// a payload is accepted, Send passes a context that is never cancelled for
// the rest of it.
type Sender[C comparable] interface {
	SendPacket(ctx context.Context, conn C, channel string, packet []byte) error
}

// Handler receives each fully reassembled payload.
type Handler[C comparable] func(key reassembly.Key[C], payload []byte)

// Observer extends the reassembly observer with send-side events.
type Observer interface {
	reassembly.Observer
	PayloadSent(channel string, dir protocol.Direction, bytes, packets int)
	PacketReceived(channel string, bytes int)
}

type Config struct {
	Side          protocol.Side
	Limits        protocol.DirectionLimits
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxSessions   int
	Strict        bool
}

func DefaultConfig(side protocol.Side) Config {
	return Config{
		Side:          side,
		Limits:        protocol.DefaultLimits(),
		IdleTimeout:   2 * time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

func (c Config) Validate() error {
	if !c.Side.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidSide, c.Side)
	}
	return c.Limits.Validate()
}

// Splitter fragments outgoing payloads and reassembles incoming ones for
// connections identified by C.
type Splitter[C comparable] struct {
	cfg     Config
	sender  Sender[C]
	handler Handler[C]
	obs     Observer
	table   *reassembly.Table[C]
}

func New[C comparable](cfg Config, sender Sender[C], handler Handler[C], obs Observer) (*Splitter[C], error) {
	cfg.Limits = cfg.Limits.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrSenderRequired
	}
	if obs == nil {
		obs = nopObserver{}
	}
	if handler == nil {
		handler = func(reassembly.Key[C], []byte) {}
	}
	table := reassembly.NewTable[C](reassembly.Config{
		MaxPayloadSize: cfg.Limits.For(cfg.Side.Inbound()).MaxPayloadSize,
		IdleTimeout:    cfg.IdleTimeout,
		MaxSessions:    cfg.MaxSessions,
		Strict:         cfg.Strict,
	}, obs)
	return &Splitter[C]{
		cfg:     cfg,
		sender:  sender,
		handler: handler,
		obs:     obs,
		table:   table,
	}, nil
}

func (s *Splitter[C]) Config() Config {
	return s.cfg
}

// Send fragments payload with the chunk limit of dir and hands each chunk to
// the Sender in order. It returns the number of packets sent. ctx only
// guards the first chunk: a started stream always runs to the end or fails
// with ErrIncompleteStream.
func (s *Splitter[C]) Send(ctx context.Context, conn C, channel string, payload []byte, dir protocol.Direction) (int, error) {
	if strings.TrimSpace(channel) == "" {
		return 0, ErrChannelRequired
	}
	if !dir.Valid() {
		return 0, fmt.Errorf("%w: %v", protocol.ErrUnknownDirection, dir)
	}
	limits := s.cfg.Limits.For(dir)
	if len(payload) > limits.MaxPayloadSize {
		return 0, fmt.Errorf("%w: %s payload=%d max=%d", protocol.ErrOversizedPayload, dir, len(payload), limits.MaxPayloadSize)
	}
	chunks, err := fragment.Fragment(payload, limits.MaxChunkSize)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent := 0
	for chunk := range chunks {
		if err := s.sender.SendPacket(ctx, conn, channel, chunk); err != nil {
			if sent == 0 {
				return 0, fmt.Errorf("splitter: send packet 0: %w", err)
			}
			return sent, fmt.Errorf("%w: channel=%q packet %d: %w", ErrIncompleteStream, channel, sent, err)
		}
		if sent == 0 {
			ctx = context.WithoutCancel(ctx)
		}
		sent++
	}
	s.obs.PayloadSent(channel, dir, len(payload), sent)
	log.Debug().
		Str("channel", channel).
		Str("direction", dir.String()).
		Int("bytes", len(payload)).
		Int("packets", sent).
		Msg("splitter payload sent")
	return sent, nil
}

// SendOutbound sends in the direction this side transmits.
func (s *Splitter[C]) SendOutbound(ctx context.Context, conn C, channel string, payload []byte) (int, error) {
	return s.Send(ctx, conn, channel, payload, s.cfg.Side.Outbound())
}

// OnPacket feeds one received packet into the reassembly table. On the
// packet that completes a stream the payload is returned and passed to the
// Handler. Errors discard the stream for (conn, channel) only.
func (s *Splitter[C]) OnPacket(conn C, channel string, packet []byte) ([]byte, bool, error) {
	s.obs.PacketReceived(channel, len(packet))
	key := reassembly.Key[C]{Conn: conn, Channel: channel}
	payload, done, err := s.table.Receive(key, packet)
	if err != nil {
		log.Warn().
			Str("channel", channel).
			Str("direction", s.cfg.Side.Inbound().String()).
			Err(err).
			Msg("splitter stream aborted")
		return nil, false, err
	}
	if !done {
		return nil, false, nil
	}
	log.Debug().
		Str("channel", channel).
		Int("bytes", len(payload)).
		Msg("splitter payload reassembled")
	s.handler(key, payload)
	return payload, true, nil
}

// Disconnect discards every in-flight stream of conn.
func (s *Splitter[C]) Disconnect(conn C) int {
	n := s.table.RemoveConn(conn)
	if n > 0 {
		log.Info().Int("sessions", n).Msg("splitter discarded streams on disconnect")
	}
	return n
}

// Cancel discards the in-flight stream for one (conn, channel).
func (s *Splitter[C]) Cancel(conn C, channel string) bool {
	return s.table.Remove(reassembly.Key[C]{Conn: conn, Channel: channel})
}

func (s *Splitter[C]) Sessions() []reassembly.Info[C] {
	return s.table.Snapshot()
}

func (s *Splitter[C]) OpenSessions() int {
	return s.table.Len()
}

// Run evicts idle streams until ctx is done.
func (s *Splitter[C]) Run(ctx context.Context) {
	s.table.Run(ctx, s.cfg.SweepInterval)
}

type nopObserver struct {
	reassembly.NopObserver
}

func (nopObserver) PayloadSent(string, protocol.Direction, int, int) {}
func (nopObserver) PacketReceived(string, int)                      {}
