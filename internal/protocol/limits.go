package protocol

import (
	"fmt"
	"math"
)

// MaxLengthPrefix is the widest varint encoding of a uint32 frame length.
const MaxLengthPrefix = 5

const (
	DefaultMaxPacketC2S  = 32767
	DefaultMaxChunkC2S   = DefaultMaxPacketC2S - MaxLengthPrefix
	DefaultMaxPacketS2C  = 1048576
	DefaultMaxChunkS2C   = DefaultMaxPacketS2C - MaxLengthPrefix
	DefaultMaxPayloadC2S = 1048576
	DefaultMaxPayloadS2C = 67108864
)

// Limits bounds one transfer direction.
type Limits struct {
	// MaxPacketSize is the hard cap the transport enforces per physical packet.
	MaxPacketSize int
	// MaxChunkSize is the fragment size senders slice frames into.
	MaxChunkSize int
	// MaxPayloadSize is the largest reassembled payload a receiver accepts.
	MaxPayloadSize int
}

func (l Limits) Validate() error {
	if l.MaxPacketSize <= 0 || l.MaxChunkSize <= 0 || l.MaxPayloadSize < 0 {
		return fmt.Errorf("%w: sizes must be positive", ErrInvalidLimits)
	}
	if l.MaxChunkSize > l.MaxPacketSize {
		return fmt.Errorf("%w: chunk size %d exceeds packet size %d", ErrInvalidLimits, l.MaxChunkSize, l.MaxPacketSize)
	}
	if l.MaxChunkSize < MaxLengthPrefix {
		return fmt.Errorf("%w: chunk size %d cannot hold a length prefix", ErrInvalidLimits, l.MaxChunkSize)
	}
	if uint64(l.MaxPayloadSize) > math.MaxUint32 {
		return fmt.Errorf("%w: payload size %d exceeds uint32", ErrInvalidLimits, l.MaxPayloadSize)
	}
	return nil
}

// DirectionLimits holds Limits for both directions of a connection.
type DirectionLimits struct {
	ClientToServer Limits
	ServerToClient Limits
}

func DefaultLimits() DirectionLimits {
	return DirectionLimits{
		ClientToServer: Limits{
			MaxPacketSize:  DefaultMaxPacketC2S,
			MaxChunkSize:   DefaultMaxChunkC2S,
			MaxPayloadSize: DefaultMaxPayloadC2S,
		},
		ServerToClient: Limits{
			MaxPacketSize:  DefaultMaxPacketS2C,
			MaxChunkSize:   DefaultMaxChunkS2C,
			MaxPayloadSize: DefaultMaxPayloadS2C,
		},
	}
}

// For returns the limits of dir. Unknown directions get the stricter c2s limits.
func (d DirectionLimits) For(dir Direction) Limits {
	if dir == ServerToClient {
		return d.ServerToClient
	}
	return d.ClientToServer
}

func (d DirectionLimits) Validate() error {
	if err := d.ClientToServer.Validate(); err != nil {
		return fmt.Errorf("c2s: %w", err)
	}
	if err := d.ServerToClient.Validate(); err != nil {
		return fmt.Errorf("s2c: %w", err)
	}
	return nil
}

// WithDefaults fills zero-valued limits from DefaultLimits.
func (d DirectionLimits) WithDefaults() DirectionLimits {
	def := DefaultLimits()
	d.ClientToServer = fillLimits(d.ClientToServer, def.ClientToServer)
	d.ServerToClient = fillLimits(d.ServerToClient, def.ServerToClient)
	return d
}

func fillLimits(l, def Limits) Limits {
	if l.MaxPacketSize == 0 {
		l.MaxPacketSize = def.MaxPacketSize
	}
	if l.MaxChunkSize == 0 {
		l.MaxChunkSize = def.MaxChunkSize
		if l.MaxChunkSize > l.MaxPacketSize {
			l.MaxChunkSize = l.MaxPacketSize - MaxLengthPrefix
		}
	}
	if l.MaxPayloadSize == 0 {
		l.MaxPayloadSize = def.MaxPayloadSize
	}
	return l
}
