package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/chunkwire/internal/testutil/testlog"
	"github.com/danmuck/chunkwire/internal/transport/wire"
)

func TestHelloRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	in := Hello{PeerID: "client.a", Side: "client", Version: wire.Version}
	if err := WriteHello(&buf, in); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if err := WriteHelloAck(&buf, HelloAck{Status: AckStatusAccepted, PeerID: "server.a"}); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	r := bufio.NewReader(&buf)
	out, err := ReadHello(r)
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if out != in {
		t.Fatalf("hello mismatch: %+v", out)
	}
	ack, err := ReadHelloAck(r)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Status != AckStatusAccepted || ack.PeerID != "server.a" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestHelloValidation(t *testing.T) {
	testlog.Start(t)
	cases := []Hello{
		{Side: "client", Version: wire.Version},
		{PeerID: "a", Side: "server", Version: wire.Version},
		{PeerID: "a", Side: "sideways", Version: wire.Version},
		{PeerID: "a", Side: "client", Version: wire.Version + 1},
	}
	for _, h := range cases {
		if err := h.Validate(); !errors.Is(err, ErrInvalidHello) {
			t.Fatalf("expected ErrInvalidHello for %+v, got %v", h, err)
		}
	}
}

func TestReadHelloRejectsWrongType(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteHelloAck(&buf, HelloAck{Status: AckStatusAccepted, PeerID: "s"}); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	if _, err := ReadHello(bufio.NewReader(&buf)); !errors.Is(err, ErrInvalidHello) {
		t.Fatalf("expected ErrInvalidHello, got %v", err)
	}
}

func TestReadHelloTooLarge(t *testing.T) {
	testlog.Start(t)
	line := strings.Repeat("x", maxHelloBytes+10) + "\n"
	if _, err := ReadHello(bufio.NewReader(strings.NewReader(line))); !errors.Is(err, ErrHelloTooLarge) {
		t.Fatalf("expected ErrHelloTooLarge, got %v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := cfg.Delay(i+1, nil); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
	if got := (BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1e9}).Delay(40, nil); got <= 0 {
		t.Fatalf("uncapped growth overflowed: %v", got)
	}

	cfg.Jitter = true
	rng := rand.New(rand.NewSource(7))
	for attempt := 1; attempt < 7; attempt++ {
		base := want[attempt-1]
		got := cfg.Delay(attempt, rng)
		if got < base/2 || got > base {
			t.Fatalf("attempt %d: jittered delay %v outside [%v, %v]", attempt, got, base/2, base)
		}
	}
}

func TestBackoffWaitHonorsContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := BackoffConfig{InitialDelay: time.Hour}
	if err := cfg.Wait(ctx, 1, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := (BackoffConfig{}).Wait(context.Background(), 3, nil); err != nil {
		t.Fatalf("zero backoff: %v", err)
	}
}
