package transport

import (
	"strings"
	"time"

	"github.com/danmuck/chunkwire/internal/auth"
	"github.com/danmuck/chunkwire/internal/transport/wire"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines connection timeouts and queueing for an Endpoint.
type Config struct {
	PeerID           string
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// ReadTimeout closes a connection that delivers nothing for this long. Zero disables it.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// QueueDepth bounds queued outbound packets per connection; senders block when full.
	QueueDepth         int
	MaxChannelBytes    int
	MaxConnectAttempts int
	// CloseOnProtocolError closes a connection when one of its streams fails
	// to reassemble. By default only the failing stream is discarded.
	CloseOnProtocolError bool
	Backoff              BackoffConfig
	// Token is presented by clients in their hello. Servers with a Token
	// reject hellos that do not carry it.
	Token string
	// AcceptTokens are further tokens a server accepts, such as the one
	// being rotated out.
	AcceptTokens []string
	// Validator overrides the Token check on servers.
	Validator auth.Validator
	TLS       TLSConfig
}

func DefaultConfig() Config {
	return Config{
		PeerID:             "chunkwire",
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		WriteTimeout:       15 * time.Second,
		QueueDepth:         256,
		MaxChannelBytes:    wire.DefaultLimits().MaxChannelBytes,
		MaxConnectAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.PeerID) == "" {
		c.PeerID = def.PeerID
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = def.QueueDepth
	}
	if c.MaxChannelBytes <= 0 {
		c.MaxChannelBytes = def.MaxChannelBytes
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
