package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const fieldHeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("wire: short field header")
	ErrShortFieldValue  = errors.New("wire: short field value")
	ErrMissingField     = errors.New("wire: missing field")
)

// Field IDs of a chunk packet body.
const (
	FieldChannel uint16 = 1
	FieldChunk   uint16 = 2
)

// Field value types.
const (
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

// Field is one TLV entry of a packet body.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func appendField(dst []byte, f Field) []byte {
	var hdr [fieldHeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], f.ID)
	hdr[2] = f.Type
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Value)))
	dst = append(dst, hdr[:]...)
	return append(dst, f.Value...)
}

// DecodeFields splits a body into fields. Values alias body.
func DecodeFields(body []byte) ([]Field, error) {
	fields := make([]Field, 0, 2)
	i := 0
	for i < len(body) {
		if len(body)-i < fieldHeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(body[i : i+2])
		typeID := body[i+2]
		l := binary.BigEndian.Uint32(body[i+3 : i+7])
		i += fieldHeaderLen
		if uint64(len(body)-i) < uint64(l) {
			return nil, ErrShortFieldValue
		}
		end := i + int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: body[i:end:end]})
		i = end
	}
	return fields, nil
}

func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("wire: field %d type mismatch: got %d want %d", f.ID, f.Type, expected)
	}
	return nil
}
