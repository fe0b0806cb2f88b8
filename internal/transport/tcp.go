package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/transport/wire"
	"github.com/rs/zerolog/log"
)

const tcpReadBufferSize = 64 * 1024

type tcpLink struct {
	conn         net.Conn
	reader       *bufio.Reader
	limits       wire.Limits
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (l *tcpLink) writePacket(b []byte) error {
	if l.writeTimeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	_, err := l.conn.Write(b)
	return err
}

func (l *tcpLink) readPacket() (wire.Packet, error) {
	if l.readTimeout > 0 {
		_ = l.conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	}
	return wire.ReadPacket(l.reader, l.limits)
}

func (l *tcpLink) close() error      { return l.conn.Close() }
func (l *tcpLink) remoteAddr() string { return l.conn.RemoteAddr().String() }
func (l *tcpLink) kind() string       { return "tcp" }

func (e *Endpoint) newTCPLink(nc net.Conn, reader *bufio.Reader) *tcpLink {
	return &tcpLink{
		conn:         nc,
		reader:       reader,
		limits:       e.readLimits,
		readTimeout:  e.cfg.ReadTimeout,
		writeTimeout: e.cfg.WriteTimeout,
	}
}

// Serve accepts client connections on ln until ctx is done.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	if e.side != protocol.SideServer {
		return ErrWrongSide
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		e.CloseAll()
		_ = ln.Close()
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("transport tcp listening")

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go e.handleTCP(nc)
	}
}

// handleTCP runs the hello exchange and then serves the connection.
func (e *Endpoint) handleTCP(nc net.Conn) {
	reader := bufio.NewReaderSize(nc, tcpReadBufferSize)
	_ = nc.SetDeadline(time.Now().Add(e.cfg.HandshakeTimeout))
	hello, err := ReadHello(reader)
	if err != nil {
		log.Warn().Err(err).Str("remote", nc.RemoteAddr().String()).Msg("transport hello failed")
		if errors.Is(err, ErrInvalidHello) {
			_ = WriteHelloAck(nc, HelloAck{Status: AckStatusRejected, PeerID: e.cfg.PeerID, Message: err.Error()})
		}
		_ = nc.Close()
		return
	}
	ack, authErr := e.accept(hello)
	if err := WriteHelloAck(nc, ack); err != nil || authErr != nil {
		if err == nil {
			err = authErr
		}
		log.Warn().Err(err).Str("remote", nc.RemoteAddr().String()).Str("peer", hello.PeerID).Msg("transport hello not accepted")
		_ = nc.Close()
		return
	}
	_ = nc.SetDeadline(time.Time{})
	e.serve(e.newConn(hello.PeerID, e.newTCPLink(nc, reader)))
}

// Dial connects to a server, retrying with backoff, and starts serving the
// connection in the background.
func (e *Endpoint) Dial(ctx context.Context, addr string) (*Conn, error) {
	if e.side != protocol.SideClient {
		return nil, ErrWrongSide
	}
	addr = strings.TrimSpace(addr)
	var lastErr error
	for attempt := 1; ; attempt++ {
		c, err := e.dialTCPOnce(ctx, addr)
		if err == nil {
			e.track(c)
			go e.serve(c)
			return c, nil
		}
		lastErr = err
		if errors.Is(err, ErrHelloRejected) || !e.shouldRetry(attempt) {
			break
		}
		log.Debug().Err(err).Int("attempt", attempt).Str("addr", addr).Msg("transport dial retry")
		if err := e.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("transport: dial %s: %w", addr, lastErr)
}

func (e *Endpoint) dialTCPOnce(ctx context.Context, addr string) (*Conn, error) {
	dialer := &net.Dialer{Timeout: e.cfg.ConnectTimeout}
	var nc net.Conn
	if e.cfg.TLS.Enabled {
		tlsCfg, err := e.cfg.TLS.clientConfig(addr)
		if err != nil {
			return nil, err
		}
		td := tls.Dialer{NetDialer: dialer, Config: tlsCfg}
		nc, err = td.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		nc, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
	}
	_ = nc.SetDeadline(time.Now().Add(e.cfg.HandshakeTimeout))
	if err := WriteHello(nc, e.hello()); err != nil {
		_ = nc.Close()
		return nil, err
	}
	reader := bufio.NewReaderSize(nc, tcpReadBufferSize)
	ack, err := ReadHelloAck(reader)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	if ack.Status != AckStatusAccepted {
		_ = nc.Close()
		return nil, fmt.Errorf("%w: %s", ErrHelloRejected, ack.Message)
	}
	_ = nc.SetDeadline(time.Time{})
	return e.newConn(ack.PeerID, e.newTCPLink(nc, reader)), nil
}

func (e *Endpoint) hello() Hello {
	return Hello{
		PeerID:  e.cfg.PeerID,
		Side:    protocol.SideClient.String(),
		Version: wire.Version,
		Token:   e.cfg.Token,
	}
}
