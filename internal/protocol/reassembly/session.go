package reassembly

import (
	"fmt"
	"time"

	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/protocol/frame"
)

// preallocLimit caps the buffer reserved up front from a declared length.
const preallocLimit = 1 << 20

// session accumulates one in-flight payload. It is owned by a table shard
// and only touched with that shard's lock held.
type session struct {
	expected int
	buf      []byte
	packets  int
	opened   time.Time
	touched  time.Time
}

// readPrefix decodes the length prefix from the first packet of a stream and
// checks it against maxPayload. It returns the declared length and how many
// prefix bytes it used.
func readPrefix(first []byte, maxPayload int) (int, int, error) {
	n, consumed, err := frame.DecodeLength(first)
	if err != nil {
		return 0, 0, err
	}
	if uint64(n) > uint64(maxPayload) {
		return 0, 0, fmt.Errorf("%w: declared=%d max=%d", protocol.ErrOversizedPayload, n, maxPayload)
	}
	return int(n), consumed, nil
}

// newSession starts a session from the bytes that followed the prefix.
func newSession(body []byte, expected int, now time.Time) *session {
	s := &session{
		expected: expected,
		buf:      make([]byte, 0, max(min(expected, preallocLimit), len(body))),
		opened:   now,
	}
	s.append(body, now)
	return s
}

func (s *session) append(b []byte, now time.Time) {
	s.buf = append(s.buf, b...)
	s.packets++
	s.touched = now
}

func (s *session) complete() bool {
	return len(s.buf) >= s.expected
}

// payload returns exactly expected bytes. Extra bytes are an error when strict.
func (s *session) payload(strict bool) ([]byte, error) {
	if extra := len(s.buf) - s.expected; extra > 0 {
		if strict {
			return nil, fmt.Errorf("%w: %d extra bytes", protocol.ErrTrailingBytes, extra)
		}
		return s.buf[:s.expected:s.expected], nil
	}
	return s.buf, nil
}
