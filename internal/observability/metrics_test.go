package observability

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/protocol/reassembly"
	"github.com/danmuck/chunkwire/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("node-a", "GET", "/health", 200, 12*time.Millisecond)
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("node-a", "GET", "/health", "200")); got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}
}

func TestMetricsObserverCounts(t *testing.T) {
	testlog.Start(t)
	m := NewMetrics("node-obs")

	m.SessionOpened("dump", 70000)
	m.PacketReceived("dump", 32762)
	m.SessionCompleted("dump", 70000, 3)
	m.SessionAborted("dump", fmt.Errorf("wrap: %w", protocol.ErrMalformedLengthPrefix))
	m.SessionDropped("dump", reassembly.DropIdle)
	m.PayloadSent("dump", protocol.ServerToClient, 70000, 1)
	m.ConnOpened("tcp")
	m.ConnOpened("tcp")
	m.ConnClosed("tcp")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"opened", testutil.ToFloat64(sessionsOpened.WithLabelValues("node-obs")), 1},
		{"completed", testutil.ToFloat64(sessionsCompleted.WithLabelValues("node-obs")), 1},
		{"aborted", testutil.ToFloat64(sessionsAborted.WithLabelValues("node-obs", "malformed")), 1},
		{"dropped", testutil.ToFloat64(sessionsDropped.WithLabelValues("node-obs", "idle")), 1},
		{"packets_in", testutil.ToFloat64(packetsReceived.WithLabelValues("node-obs")), 1},
		{"bytes_in", testutil.ToFloat64(bytesReceived.WithLabelValues("node-obs")), 32762},
		{"bytes_out", testutil.ToFloat64(bytesSent.WithLabelValues("node-obs", "s2c")), 70000},
		{"conns_open", testutil.ToFloat64(connsOpen.WithLabelValues("node-obs", "tcp")), 1},
		{"conns_total", testutil.ToFloat64(connsTotal.WithLabelValues("node-obs", "tcp")), 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
}

func TestAbortReason(t *testing.T) {
	testlog.Start(t)
	cases := map[error]string{
		protocol.ErrOversizedPayload:      "oversized",
		protocol.ErrTrailingBytes:         "trailing",
		protocol.ErrTooManySessions:       "too_many_sessions",
		protocol.ErrDuplicateSession:      "duplicate",
		errors.New("something else"):      "other",
		protocol.ErrMalformedLengthPrefix: "malformed",
	}
	for err, want := range cases {
		if got := AbortReason(err); got != want {
			t.Fatalf("AbortReason(%v) = %q want %q", err, got, want)
		}
	}
}

func TestRegisterOpenSessionsTwice(t *testing.T) {
	testlog.Start(t)
	if err := RegisterOpenSessions("node-gauge", func() int { return 2 }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterOpenSessions("node-gauge", func() int { return 3 }); err != nil {
		t.Fatalf("second register: %v", err)
	}
}
