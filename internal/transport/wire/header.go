package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic          uint32 = 0xC4C7A001
	Version        uint16 = 1
	FixedHeaderLen uint16 = 32

	KindChunk uint32 = 1
)

var (
	ErrShortHeader        = errors.New("wire: short fixed header")
	ErrInvalidMagic       = errors.New("wire: invalid magic")
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	ErrHeaderLenMismatch  = errors.New("wire: unexpected header_len")
	ErrUnknownKind        = errors.New("wire: unknown packet kind")
	ErrBodyTooLarge       = errors.New("wire: body too large")
	ErrChannelTooLarge    = errors.New("wire: channel too large")
	ErrChunkTooLarge      = errors.New("wire: chunk too large")
)

// Header is the fixed envelope header in front of every physical packet.
type Header struct {
	Magic     uint32
	Version   uint16
	HeaderLen uint16
	Sequence  uint64
	Kind      uint32
	Flags     uint32
	BodyLen   uint64
}

// Packet is one physical packet: a channel-tagged chunk.
type Packet struct {
	Header  Header
	Channel string
	Chunk   []byte
}

// Limits constrains packet decode/encode memory use.
type Limits struct {
	MaxChannelBytes int
	MaxChunkBytes   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxChannelBytes: 256,
		MaxChunkBytes:   1 << 20,
	}
}

func (l Limits) maxBody() uint64 {
	return uint64(2*fieldHeaderLen + l.MaxChannelBytes + l.MaxChunkBytes)
}

func ReadPacket(r io.Reader, limits Limits) (Packet, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, ErrShortHeader
		}
		return Packet{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Packet{}, err
	}
	if err := checkHeader(h, limits); err != nil {
		return Packet{}, err
	}

	body := make([]byte, h.BodyLen)
	if h.BodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Packet{}, err
		}
	}
	return decodeBody(h, body, limits)
}

func WritePacket(w io.Writer, p Packet, limits Limits) error {
	buf, err := Marshal(p, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Marshal encodes p as header followed by body in one buffer.
func Marshal(p Packet, limits Limits) ([]byte, error) {
	if len(p.Channel) > limits.MaxChannelBytes {
		return nil, ErrChannelTooLarge
	}
	if len(p.Chunk) > limits.MaxChunkBytes {
		return nil, ErrChunkTooLarge
	}
	h := p.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	if h.Kind == 0 {
		h.Kind = KindChunk
	}
	h.BodyLen = uint64(2*fieldHeaderLen + len(p.Channel) + len(p.Chunk))

	buf := make([]byte, 0, int(FixedHeaderLen)+int(h.BodyLen))
	buf = append(buf, EncodeHeader(h)...)
	buf = appendField(buf, Field{ID: FieldChannel, Type: TypeString, Value: []byte(p.Channel)})
	buf = appendField(buf, Field{ID: FieldChunk, Type: TypeBytes, Value: p.Chunk})
	return buf, nil
}

// Unmarshal decodes one packet held entirely in b.
func Unmarshal(b []byte, limits Limits) (Packet, error) {
	if len(b) < int(FixedHeaderLen) {
		return Packet{}, ErrShortHeader
	}
	h, err := DecodeHeader(b[:FixedHeaderLen])
	if err != nil {
		return Packet{}, err
	}
	if err := checkHeader(h, limits); err != nil {
		return Packet{}, err
	}
	body := b[FixedHeaderLen:]
	if uint64(len(body)) != h.BodyLen {
		return Packet{}, fmt.Errorf("%w: body_len=%d have=%d", ErrShortFieldValue, h.BodyLen, len(body))
	}
	return decodeBody(h, body, limits)
}

func checkHeader(h Header, limits Limits) error {
	if h.Magic != Magic {
		return ErrInvalidMagic
	}
	if h.Version != Version {
		return ErrUnsupportedVersion
	}
	if h.HeaderLen != FixedHeaderLen {
		return ErrHeaderLenMismatch
	}
	if h.Kind != KindChunk {
		return fmt.Errorf("%w: %d", ErrUnknownKind, h.Kind)
	}
	if h.BodyLen > limits.maxBody() {
		return ErrBodyTooLarge
	}
	return nil
}

func decodeBody(h Header, body []byte, limits Limits) (Packet, error) {
	fields, err := DecodeFields(body)
	if err != nil {
		return Packet{}, err
	}
	ch, ok := GetField(fields, FieldChannel)
	if !ok {
		return Packet{}, fmt.Errorf("%w: channel", ErrMissingField)
	}
	if err := MustType(ch, TypeString); err != nil {
		return Packet{}, err
	}
	chunk, ok := GetField(fields, FieldChunk)
	if !ok {
		return Packet{}, fmt.Errorf("%w: chunk", ErrMissingField)
	}
	if err := MustType(chunk, TypeBytes); err != nil {
		return Packet{}, err
	}
	if len(ch.Value) > limits.MaxChannelBytes {
		return Packet{}, ErrChannelTooLarge
	}
	if len(chunk.Value) > limits.MaxChunkBytes {
		return Packet{}, ErrChunkTooLarge
	}
	return Packet{Header: h, Channel: string(ch.Value), Chunk: chunk.Value}, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.Sequence)
	binary.BigEndian.PutUint32(buf[16:20], h.Kind)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.BodyLen)
	return buf
}

// PutSequence stamps seq into the header of an encoded packet.
func PutSequence(b []byte, seq uint64) {
	binary.BigEndian.PutUint64(b[8:16], seq)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("wire: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:     binary.BigEndian.Uint32(b[0:4]),
		Version:   binary.BigEndian.Uint16(b[4:6]),
		HeaderLen: binary.BigEndian.Uint16(b[6:8]),
		Sequence:  binary.BigEndian.Uint64(b[8:16]),
		Kind:      binary.BigEndian.Uint32(b[16:20]),
		Flags:     binary.BigEndian.Uint32(b[20:24]),
		BodyLen:   binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
