package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/transport/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsLink carries one wire packet per binary websocket message.
type wsLink struct {
	conn         *websocket.Conn
	limits       wire.Limits
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (l *wsLink) writePacket(b []byte) error {
	if l.writeTimeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	return l.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (l *wsLink) readPacket() (wire.Packet, error) {
	if l.readTimeout > 0 {
		_ = l.conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	} else {
		_ = l.conn.SetReadDeadline(time.Time{})
	}
	mt, b, err := l.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return wire.Packet{}, ErrConnClosed
		}
		return wire.Packet{}, err
	}
	if mt != websocket.BinaryMessage {
		return wire.Packet{}, ErrUnexpectedMsg
	}
	return wire.Unmarshal(b, l.limits)
}

func (l *wsLink) close() error      { return l.conn.Close() }
func (l *wsLink) remoteAddr() string { return l.conn.RemoteAddr().String() }
func (l *wsLink) kind() string       { return "ws" }

func (e *Endpoint) newWSLink(ws *websocket.Conn) *wsLink {
	ws.SetReadLimit(int64(int(wire.FixedHeaderLen) + e.readLimits.MaxChannelBytes + e.readLimits.MaxChunkBytes + 64))
	return &wsLink{
		conn:         ws,
		limits:       e.readLimits,
		readTimeout:  e.cfg.ReadTimeout,
		writeTimeout: e.cfg.WriteTimeout,
	}
}

// WebSocketHandler upgrades requests to websocket connections served by e.
// The handler blocks for the lifetime of the connection.
func (e *Endpoint) WebSocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: e.cfg.HandshakeTimeout,
		ReadBufferSize:   tcpReadBufferSize,
		WriteBufferSize:  tcpReadBufferSize,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.side != protocol.SideServer {
			http.Error(w, ErrWrongSide.Error(), http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("transport ws upgrade failed")
			return
		}
		hello, err := e.readWSHello(ws)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("transport ws hello failed")
			if errors.Is(err, ErrInvalidHello) {
				_ = writeWSAck(ws, HelloAck{Status: AckStatusRejected, PeerID: e.cfg.PeerID, Message: err.Error()})
			}
			_ = ws.Close()
			return
		}
		ack, authErr := e.accept(hello)
		if err := writeWSAck(ws, ack); err != nil || authErr != nil {
			if err == nil {
				err = authErr
			}
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Str("peer", hello.PeerID).Msg("transport ws hello not accepted")
			_ = ws.Close()
			return
		}
		e.serve(e.newConn(hello.PeerID, e.newWSLink(ws)))
	})
}

func (e *Endpoint) readWSHello(ws *websocket.Conn) (Hello, error) {
	_ = ws.SetReadDeadline(time.Now().Add(e.cfg.HandshakeTimeout))
	mt, b, err := ws.ReadMessage()
	if err != nil {
		return Hello{}, err
	}
	if mt != websocket.TextMessage {
		return Hello{}, fmt.Errorf("%w: hello must be a text message", ErrInvalidHello)
	}
	return unmarshalHello(b)
}

func writeWSAck(ws *websocket.Conn, ack HelloAck) error {
	b, err := marshalHelloAck(ack)
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}

// DialWS connects to a websocket server, retrying with backoff, and starts
// serving the connection in the background.
func (e *Endpoint) DialWS(ctx context.Context, rawURL string) (*Conn, error) {
	if e.side != protocol.SideClient {
		return nil, ErrWrongSide
	}
	rawURL = strings.TrimSpace(rawURL)
	var lastErr error
	for attempt := 1; ; attempt++ {
		c, err := e.dialWSOnce(ctx, rawURL)
		if err == nil {
			e.track(c)
			go e.serve(c)
			return c, nil
		}
		lastErr = err
		if errors.Is(err, ErrHelloRejected) || !e.shouldRetry(attempt) {
			break
		}
		log.Debug().Err(err).Int("attempt", attempt).Str("url", rawURL).Msg("transport ws dial retry")
		if err := e.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("transport: dial %s: %w", rawURL, lastErr)
}

func (e *Endpoint) dialWSOnce(ctx context.Context, rawURL string) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: e.cfg.ConnectTimeout,
		ReadBufferSize:   tcpReadBufferSize,
		WriteBufferSize:  tcpReadBufferSize,
	}
	if e.cfg.TLS.Enabled {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		tlsCfg, err := e.cfg.TLS.clientConfig("")
		if err != nil {
			return nil, err
		}
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = u.Hostname()
		}
		dialer.TLSClientConfig = tlsCfg
	}
	ws, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	b, err := marshalHello(e.hello())
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(e.cfg.HandshakeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		_ = ws.Close()
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Now().Add(e.cfg.HandshakeTimeout))
	mt, msg, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if mt != websocket.TextMessage {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: ack must be a text message", ErrInvalidHelloAck)
	}
	ack, err := unmarshalHelloAck(msg)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if ack.Status != AckStatusAccepted {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: %s", ErrHelloRejected, ack.Message)
	}
	_ = ws.SetWriteDeadline(time.Time{})
	return e.newConn(ack.PeerID, e.newWSLink(ws)), nil
}
