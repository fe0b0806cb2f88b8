// Package fragment slices frames into bounded chunks.
package fragment

import (
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/danmuck/chunkwire/internal/protocol/frame"
)

var ErrLimitTooSmall = errors.New("fragment: chunk limit cannot hold the length prefix")

// Fragment frames payload and returns the chunks of at most limit bytes, in
// send order. The length prefix always lands whole in the first chunk.
//
// Chunks alias one frame buffer; consumers that retain a chunk past the
// next iteration must not modify it.
func Fragment(payload []byte, limit int) (iter.Seq[[]byte], error) {
	if err := checkLimit(len(payload), limit); err != nil {
		return nil, err
	}
	framed, err := frame.Encode(payload)
	if err != nil {
		return nil, err
	}
	return func(yield func([]byte) bool) {
		for off := 0; off < len(framed); off += limit {
			end := min(off+limit, len(framed))
			if !yield(framed[off:end:end]) {
				return
			}
		}
	}, nil
}

// Chunks collects Fragment into a slice.
func Chunks(payload []byte, limit int) ([][]byte, error) {
	seq, err := Fragment(payload, limit)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, Count(len(payload), limit))
	for chunk := range seq {
		out = append(out, chunk)
	}
	return out, nil
}

// Count returns the number of chunks Fragment yields for a payload of
// payloadLen bytes.
func Count(payloadLen, limit int) int {
	if limit <= 0 {
		return 0
	}
	size := frame.Size(payloadLen)
	return (size + limit - 1) / limit
}

func checkLimit(payloadLen, limit int) error {
	if uint64(payloadLen) > math.MaxUint32 {
		return frame.ErrPayloadTooLarge
	}
	prefix := frame.LengthSize(uint32(payloadLen))
	if limit < prefix {
		return fmt.Errorf("%w: limit=%d prefix=%d", ErrLimitTooSmall, limit, prefix)
	}
	return nil
}
