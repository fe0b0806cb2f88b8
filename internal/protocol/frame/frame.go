package frame

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/danmuck/chunkwire/internal/protocol"
)

// MaxPrefixLen is the widest encoding EncodeLength produces.
const MaxPrefixLen = protocol.MaxLengthPrefix

var (
	ErrMalformedLengthPrefix = protocol.ErrMalformedLengthPrefix
	ErrPayloadTooLarge       = fmt.Errorf("%w: frame length exceeds uint32", protocol.ErrOversizedPayload)
)

// LengthSize returns the number of bytes EncodeLength(n) produces.
func LengthSize(n uint32) int {
	size := 1
	for n >= 0x80 {
		n >>= 7
		size++
	}
	return size
}

// EncodeLength returns the unsigned LEB128 varint encoding of n.
func EncodeLength(n uint32) []byte {
	return AppendLength(make([]byte, 0, LengthSize(n)), n)
}

func AppendLength(dst []byte, n uint32) []byte {
	return binary.AppendUvarint(dst, uint64(n))
}

// DecodeLength reads a length prefix from the front of buf.
// The whole prefix must be present; it is never split across packets.
func DecodeLength(buf []byte) (uint32, int, error) {
	if len(buf) == 0 {
		return 0, 0, fmt.Errorf("%w: empty packet", ErrMalformedLengthPrefix)
	}
	limit := buf
	if len(limit) > MaxPrefixLen {
		limit = limit[:MaxPrefixLen]
	}
	v, n := binary.Uvarint(limit)
	switch {
	case n == 0:
		if len(buf) > MaxPrefixLen {
			return 0, 0, fmt.Errorf("%w: prefix longer than %d bytes", ErrMalformedLengthPrefix, MaxPrefixLen)
		}
		return 0, 0, fmt.Errorf("%w: truncated prefix", ErrMalformedLengthPrefix)
	case n < 0:
		return 0, 0, fmt.Errorf("%w: prefix overflows uint64", ErrMalformedLengthPrefix)
	case v > math.MaxUint32:
		return 0, 0, fmt.Errorf("%w: length %d exceeds uint32", ErrMalformedLengthPrefix, v)
	}
	return uint32(v), n, nil
}

// Encode returns varint(len(payload)) followed by payload.
func Encode(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}
	n := uint32(len(payload))
	out := make([]byte, 0, LengthSize(n)+len(payload))
	out = AppendLength(out, n)
	return append(out, payload...), nil
}

// Size returns the encoded frame size of a payload of payloadLen bytes.
func Size(payloadLen int) int {
	return LengthSize(uint32(payloadLen)) + payloadLen
}
