package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/transport/wire"
)

const (
	helloTypeHello = "chunkwire.hello"
	helloTypeAck   = "chunkwire.hello.ack"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"

	maxHelloBytes = 16 * 1024
)

var (
	ErrInvalidHello    = errors.New("transport: invalid hello")
	ErrInvalidHelloAck = errors.New("transport: invalid hello ack")
	ErrHelloTooLarge   = errors.New("transport: hello message too large")
	ErrHelloRejected   = errors.New("transport: hello rejected")
)

// Hello is the client->server connection-start message.
type Hello struct {
	PeerID  string `json:"peer_id"`
	Side    string `json:"side"`
	Version uint16 `json:"version"`
	Token   string `json:"token,omitempty"`
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.PeerID) == "" {
		return fmt.Errorf("%w: missing peer_id", ErrInvalidHello)
	}
	side, err := protocol.ParseSide(h.Side)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHello, err)
	}
	if side != protocol.SideClient {
		return fmt.Errorf("%w: side must be client", ErrInvalidHello)
	}
	if h.Version != wire.Version {
		return fmt.Errorf("%w: version %d unsupported", ErrInvalidHello, h.Version)
	}
	return nil
}

// HelloAck is the server->client reply.
type HelloAck struct {
	Status  string `json:"status"`
	PeerID  string `json:"peer_id"`
	Message string `json:"message,omitempty"`
}

func (a HelloAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidHelloAck)
	}
	if strings.TrimSpace(a.PeerID) == "" {
		return fmt.Errorf("%w: missing peer_id", ErrInvalidHelloAck)
	}
	return nil
}

type helloEnvelope struct {
	Type  string    `json:"type"`
	Hello *Hello    `json:"hello,omitempty"`
	Ack   *HelloAck `json:"hello_ack,omitempty"`
}

func marshalHello(h Hello) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(helloEnvelope{Type: helloTypeHello, Hello: &h})
}

func unmarshalHello(b []byte) (Hello, error) {
	env, err := unmarshalEnvelope(b)
	if err != nil {
		return Hello{}, err
	}
	if env.Type != helloTypeHello || env.Hello == nil {
		return Hello{}, fmt.Errorf("%w: unexpected type %q", ErrInvalidHello, env.Type)
	}
	if err := env.Hello.Validate(); err != nil {
		return Hello{}, err
	}
	return *env.Hello, nil
}

func marshalHelloAck(a HelloAck) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(helloEnvelope{Type: helloTypeAck, Ack: &a})
}

func unmarshalHelloAck(b []byte) (HelloAck, error) {
	env, err := unmarshalEnvelope(b)
	if err != nil {
		return HelloAck{}, err
	}
	if env.Type != helloTypeAck || env.Ack == nil {
		return HelloAck{}, fmt.Errorf("%w: unexpected type %q", ErrInvalidHelloAck, env.Type)
	}
	if err := env.Ack.Validate(); err != nil {
		return HelloAck{}, err
	}
	return *env.Ack, nil
}

func unmarshalEnvelope(b []byte) (helloEnvelope, error) {
	if len(b) > maxHelloBytes {
		return helloEnvelope{}, ErrHelloTooLarge
	}
	var env helloEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return helloEnvelope{}, err
	}
	return env, nil
}

// Stream transports send hello messages as single JSON lines.

func WriteHello(w io.Writer, h Hello) error {
	b, err := marshalHello(h)
	if err != nil {
		return err
	}
	return writeLine(w, b)
}

func ReadHello(r *bufio.Reader) (Hello, error) {
	line, err := readLine(r)
	if err != nil {
		return Hello{}, err
	}
	return unmarshalHello(line)
}

func WriteHelloAck(w io.Writer, a HelloAck) error {
	b, err := marshalHelloAck(a)
	if err != nil {
		return err
	}
	return writeLine(w, b)
}

func ReadHelloAck(r *bufio.Reader) (HelloAck, error) {
	line, err := readLine(r)
	if err != nil {
		return HelloAck{}, err
	}
	return unmarshalHelloAck(line)
}

func writeLine(w io.Writer, b []byte) error {
	_, err := w.Write(append(b, '\n'))
	return err
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > maxHelloBytes {
			return nil, ErrHelloTooLarge
		}
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}
