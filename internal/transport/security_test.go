package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/splitter"
	"github.com/danmuck/chunkwire/internal/testutil/testlog"
	"github.com/danmuck/chunkwire/internal/testutil/tlstest"
)

func TestTLSValidation(t *testing.T) {
	testlog.Start(t)
	if err := (TLSConfig{Mutual: true}).ValidateServer(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	if err := (TLSConfig{Enabled: true}).ValidateServer(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	if err := (TLSConfig{Enabled: true, CertFile: "c"}).ValidateServer(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}
	if err := (TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", Mutual: true}).ValidateServer(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
	if err := (TLSConfig{Enabled: true}).ValidateClient(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
	if err := (TLSConfig{Enabled: true, InsecureSkipVerify: true}).ValidateClient(); err != nil {
		t.Fatalf("insecure client config should validate, got %v", err)
	}
	if err := (TLSConfig{Enabled: true, CAFile: "ca", Mutual: true}).ValidateClient(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
}

func TestMutualTLSEchoRoundTrip(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ca := tlstest.NewAuthority(t, t.TempDir())
	server := ca.Loopback(t)
	client := ca.Client(t, "client.test")

	srvCfg := testConfig("server.test")
	srvCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: server.CertFile, KeyFile: server.KeyFile, CAFile: ca.CAFile()}
	var srv *Endpoint
	srv, err := NewEndpoint(srvCfg, splitter.DefaultConfig(protocol.SideServer), func(c *Conn, channel string, payload []byte) {
		_, _ = srv.Send(context.Background(), c, channel, payload)
	}, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ctx, ln) }()

	cliCfg := testConfig("client.test")
	cliCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: client.CertFile, KeyFile: client.KeyFile, CAFile: ca.CAFile()}
	got := make(chan delivery, 1)
	cli, err := NewEndpoint(cliCfg, splitter.DefaultConfig(protocol.SideClient), func(_ *Conn, channel string, payload []byte) {
		got <- delivery{channel: channel, payload: payload}
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	conn, err := cli.Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload := testPayload(70000)
	if _, err := cli.Send(ctx, conn, "secure", payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	d := waitDelivery(t, got)
	if !bytes.Equal(d.payload, payload) {
		t.Fatalf("tls echo mismatch")
	}

	// a client without a certificate cannot complete the handshake
	plain := testConfig("client.nocert")
	plain.TLS = TLSConfig{Enabled: true, CAFile: ca.CAFile()}
	anon, err := NewEndpoint(plain, splitter.DefaultConfig(protocol.SideClient), nil, nil)
	if err != nil {
		t.Fatalf("new anon client: %v", err)
	}
	if _, err := anon.Dial(ctx, ln.Addr().String()); err == nil {
		t.Fatalf("expected dial without client cert to fail")
	}
}

func TestHelloTokenRequired(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srvCfg := testConfig("server.test")
	srvCfg.Token = "s3cret"
	srvCfg.AcceptTokens = []string{"rotated"}
	srv, err := NewEndpoint(srvCfg, splitter.DefaultConfig(protocol.SideServer), nil, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ctx, ln) }()

	bad := testConfig("client.bad")
	bad.Token = "guess"
	badCli, err := NewEndpoint(bad, splitter.DefaultConfig(protocol.SideClient), nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := badCli.Dial(ctx, ln.Addr().String()); !errors.Is(err, ErrHelloRejected) {
		t.Fatalf("expected ErrHelloRejected, got %v", err)
	}

	good := testConfig("client.good")
	good.Token = "s3cret"
	goodCli, err := NewEndpoint(good, splitter.DefaultConfig(protocol.SideClient), nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	conn, err := goodCli.Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	_ = conn.Close()

	old := testConfig("client.old")
	old.Token = "rotated"
	oldCli, err := NewEndpoint(old, splitter.DefaultConfig(protocol.SideClient), nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	conn, err = oldCli.Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial with rotated token: %v", err)
	}
	_ = conn.Close()
}
