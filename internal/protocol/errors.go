package protocol

import "errors"

var (
	ErrOversizedPayload      = errors.New("protocol: payload exceeds direction limit")
	ErrMalformedLengthPrefix = errors.New("protocol: malformed length prefix")
	ErrDuplicateSession      = errors.New("protocol: duplicate reassembly session")
	ErrTooManySessions       = errors.New("protocol: reassembly session limit reached")
	ErrTrailingBytes         = errors.New("protocol: trailing bytes after framed payload")
	ErrInvalidLimits         = errors.New("protocol: invalid limits")
	ErrUnknownDirection      = errors.New("protocol: unknown direction")
)
