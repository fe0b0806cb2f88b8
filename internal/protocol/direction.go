package protocol

import (
	"fmt"
	"strings"
)

// Direction is the way a transfer crosses the transport.
type Direction uint8

const (
	ClientToServer Direction = iota + 1
	ServerToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "c2s"
	case ServerToClient:
		return "s2c"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

func (d Direction) Valid() bool {
	return d == ClientToServer || d == ServerToClient
}

// Reverse returns the direction replies travel in.
func (d Direction) Reverse() Direction {
	switch d {
	case ClientToServer:
		return ServerToClient
	case ServerToClient:
		return ClientToServer
	default:
		return d
	}
}

func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "c2s", "client_to_server", "to_server":
		return ClientToServer, nil
	case "s2c", "server_to_client", "to_client":
		return ServerToClient, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, raw)
	}
}

// Side is the role an endpoint plays on a connection.
type Side uint8

const (
	SideServer Side = iota + 1
	SideClient
)

func (s Side) String() string {
	switch s {
	case SideServer:
		return "server"
	case SideClient:
		return "client"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

func (s Side) Valid() bool {
	return s == SideServer || s == SideClient
}

// Outbound is the direction of payloads this side sends.
func (s Side) Outbound() Direction {
	if s == SideClient {
		return ClientToServer
	}
	return ServerToClient
}

// Inbound is the direction of payloads this side receives.
func (s Side) Inbound() Direction {
	return s.Outbound().Reverse()
}

func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "server":
		return SideServer, nil
	case "client":
		return SideClient, nil
	default:
		return 0, fmt.Errorf("protocol: unknown side %q", raw)
	}
}
