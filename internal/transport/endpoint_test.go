package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/protocol/reassembly"
	"github.com/danmuck/chunkwire/internal/splitter"
	"github.com/danmuck/chunkwire/internal/testutil/testlog"
)

type delivery struct {
	channel string
	payload []byte
}

type countingObserver struct {
	nopObserver
	sent      atomic.Int64
	completed atomic.Int64
	opened    atomic.Int64
	closed    atomic.Int64
}

func (o *countingObserver) PayloadSent(string, protocol.Direction, int, int) { o.sent.Add(1) }
func (o *countingObserver) SessionCompleted(string, int, int)              { o.completed.Add(1) }
func (o *countingObserver) ConnOpened(string)                              { o.opened.Add(1) }
func (o *countingObserver) ConnClosed(string)                              { o.closed.Add(1) }

var _ reassembly.Observer = (*countingObserver)(nil)

func testConfig(peer string) Config {
	cfg := DefaultConfig()
	cfg.PeerID = peer
	cfg.ConnectTimeout = time.Second
	cfg.HandshakeTimeout = time.Second
	cfg.MaxConnectAttempts = 1
	return cfg
}

// newEchoServer returns a server endpoint that sends every payload back on
// the channel it arrived on.
func newEchoServer(t *testing.T, obs Observer) *Endpoint {
	t.Helper()
	var srv *Endpoint
	srv, err := NewEndpoint(testConfig("server.test"), splitter.DefaultConfig(protocol.SideServer), func(c *Conn, channel string, payload []byte) {
		if _, err := srv.Send(context.Background(), c, channel, payload); err != nil {
			t.Errorf("echo send: %v", err)
		}
	}, obs)
	if err != nil {
		t.Fatalf("new server endpoint: %v", err)
	}
	return srv
}

func newCollectingClient(t *testing.T) (*Endpoint, chan delivery) {
	t.Helper()
	got := make(chan delivery, 8)
	cli, err := NewEndpoint(testConfig("client.test"), splitter.DefaultConfig(protocol.SideClient), func(_ *Conn, channel string, payload []byte) {
		got <- delivery{channel: channel, payload: payload}
	}, nil)
	if err != nil {
		t.Fatalf("new client endpoint: %v", err)
	}
	return cli, got
}

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func waitDelivery(t *testing.T, got chan delivery) delivery {
	t.Helper()
	select {
	case d := <-got:
		return d
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for payload")
	}
	return delivery{}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTCPEchoRoundTrip(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &countingObserver{}
	srv := newEchoServer(t, obs)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	cli, got := newCollectingClient(t)
	conn, err := cli.Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if conn.PeerID() != "server.test" {
		t.Fatalf("expected server peer id, got %q", conn.PeerID())
	}

	payload := testPayload(70000)
	packets, err := cli.Send(ctx, conn, "dump", payload)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if packets != 3 {
		t.Fatalf("expected 3 c2s packets, got %d", packets)
	}
	d := waitDelivery(t, got)
	if d.channel != "dump" || !bytes.Equal(d.payload, payload) {
		t.Fatalf("echo mismatch: channel=%q len=%d", d.channel, len(d.payload))
	}

	// small and empty payloads on a second channel share the connection
	for _, p := range [][]byte{[]byte("hi"), {}} {
		if _, err := cli.Send(ctx, conn, "chat", p); err != nil {
			t.Fatalf("send small: %v", err)
		}
		d := waitDelivery(t, got)
		if d.channel != "chat" || !bytes.Equal(d.payload, p) {
			t.Fatalf("unexpected echo: %q on %q", d.payload, d.channel)
		}
	}
	if err := conn.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n := len(srv.Conns()); n != 1 {
		t.Fatalf("expected 1 server conn, got %d", n)
	}
	eventually(t, func() bool { return obs.completed.Load() == 3 && obs.sent.Load() == 3 })

	_ = conn.Close()
	eventually(t, func() bool { return len(srv.Conns()) == 0 })
	cancel()
	if err := <-served; err != nil {
		t.Fatalf("serve: %v", err)
	}
	if obs.opened.Load() != 1 || obs.closed.Load() != 1 {
		t.Fatalf("unexpected conn events opened=%d closed=%d", obs.opened.Load(), obs.closed.Load())
	}
}

func TestTCPConcurrentChannels(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := newEchoServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ctx, ln) }()

	cli, got := newCollectingClient(t)
	conn, err := cli.Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	want := map[string][]byte{
		"a": testPayload(100000),
		"b": bytes.Repeat([]byte("b"), 40000),
		"c": []byte("tiny"),
	}
	errs := make(chan error, len(want))
	for ch, p := range want {
		go func() {
			_, err := cli.Send(ctx, conn, ch, p)
			errs <- err
		}()
	}
	for range want {
		if err := <-errs; err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for range want {
		d := waitDelivery(t, got)
		if !bytes.Equal(d.payload, want[d.channel]) {
			t.Fatalf("payload mismatch on %q", d.channel)
		}
	}
}

func TestEndpointSideChecks(t *testing.T) {
	testlog.Start(t)
	cli, _ := newCollectingClient(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if err := cli.Serve(context.Background(), ln); !errors.Is(err, ErrWrongSide) {
		t.Fatalf("expected ErrWrongSide from client Serve, got %v", err)
	}
	srv := newEchoServer(t, nil)
	if _, err := srv.Dial(context.Background(), "127.0.0.1:1"); !errors.Is(err, ErrWrongSide) {
		t.Fatalf("expected ErrWrongSide from server Dial, got %v", err)
	}
}

func TestDialRefusedGivesUp(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := testConfig("client.test")
	cfg.MaxConnectAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	cli, err := NewEndpoint(cfg, splitter.DefaultConfig(protocol.SideClient), nil, nil)
	if err != nil {
		t.Fatalf("new endpoint: %v", err)
	}
	if _, err := cli.Dial(context.Background(), addr); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestServerRejectsBadHello(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newEchoServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ctx, ln) }()

	nc, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()
	if _, err := nc.Write([]byte(`{"type":"chunkwire.hello","hello":{"peer_id":"x","side":"server","version":1}}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, _ := nc.Read(buf)
	if !strings.Contains(string(buf[:n]), AckStatusRejected) {
		t.Fatalf("expected rejected ack, got %q", buf[:n])
	}
}

func TestWebSocketEchoRoundTrip(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := newEchoServer(t, nil)
	hs := httptest.NewServer(srv.WebSocketHandler())
	defer hs.Close()

	cli, got := newCollectingClient(t)
	conn, err := cli.DialWS(ctx, "ws"+strings.TrimPrefix(hs.URL, "http"))
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()
	if conn.Kind() != "ws" {
		t.Fatalf("expected ws conn, got %q", conn.Kind())
	}

	payload := testPayload(70000)
	if _, err := cli.Send(ctx, conn, "dump", payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	d := waitDelivery(t, got)
	if d.channel != "dump" || !bytes.Equal(d.payload, payload) {
		t.Fatalf("ws echo mismatch: channel=%q len=%d", d.channel, len(d.payload))
	}
	if sessions := cli.Sessions(); len(sessions) != 0 {
		t.Fatalf("expected no open client sessions, got %d", len(sessions))
	}
}
