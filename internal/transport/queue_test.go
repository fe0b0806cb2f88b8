package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/chunkwire/internal/testutil/testlog"
)

func TestSendQueuePreservesOrder(t *testing.T) {
	testlog.Start(t)
	q := newSendQueue(8)
	closed := make(chan struct{})
	for i := 0; i < 5; i++ {
		if err := q.push(context.Background(), []byte{byte(i)}, closed); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if q.len() != 5 {
		t.Fatalf("expected 5 queued, got %d", q.len())
	}
	for i := 0; i < 5; i++ {
		b, ok := q.pop(closed)
		if !ok || b[0] != byte(i) {
			t.Fatalf("pop %d: got %v ok=%v", i, b, ok)
		}
	}
}

func TestSendQueueBlocksWhenFull(t *testing.T) {
	testlog.Start(t)
	q := newSendQueue(1)
	closed := make(chan struct{})
	if err := q.push(context.Background(), []byte("a"), closed); err != nil {
		t.Fatalf("push: %v", err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.push(context.Background(), []byte("b"), closed)
	}()
	select {
	case err := <-pushed:
		t.Fatalf("push should block on a full queue, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if b, ok := q.pop(closed); !ok || string(b) != "a" {
		t.Fatalf("unexpected pop: %q ok=%v", b, ok)
	}
	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("blocked push: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked push never resumed")
	}
	if b, ok := q.pop(closed); !ok || string(b) != "b" {
		t.Fatalf("unexpected pop: %q ok=%v", b, ok)
	}
}

func TestSendQueueUnblocksOnCancelAndClose(t *testing.T) {
	testlog.Start(t)
	q := newSendQueue(1)
	closed := make(chan struct{})
	_ = q.push(context.Background(), []byte("a"), closed)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.push(ctx, []byte("b"), closed); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(closed)
	if err := q.push(context.Background(), []byte("c"), closed); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
	// queued packets still drain before the closed signal is observed
	if _, ok := q.pop(closed); !ok {
		t.Fatalf("expected queued packet")
	}
	if _, ok := q.pop(closed); ok {
		t.Fatalf("expected pop to report closed on empty queue")
	}
}
