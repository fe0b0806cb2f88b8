package config

import (
	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/splitter"
	"github.com/danmuck/chunkwire/internal/transport"
)

func sectionOf(l protocol.Limits) LimitSection {
	return LimitSection{
		MaxPacketSize:  l.MaxPacketSize,
		MaxChunkSize:   l.MaxChunkSize,
		MaxPayloadSize: l.MaxPayloadSize,
	}
}

func (s LimitSection) limits() protocol.Limits {
	return protocol.Limits{
		MaxPacketSize:  s.MaxPacketSize,
		MaxChunkSize:   s.MaxChunkSize,
		MaxPayloadSize: s.MaxPayloadSize,
	}
}

// DirectionLimits returns the configured limits with zero fields defaulted.
func (c Config) DirectionLimits() protocol.DirectionLimits {
	return protocol.DirectionLimits{
		ClientToServer: c.Limits.C2S.limits(),
		ServerToClient: c.Limits.S2C.limits(),
	}.WithDefaults()
}

// SplitterConfig builds the splitter settings for side. Call after Validate.
func (c Config) SplitterConfig(side protocol.Side) splitter.Config {
	idle, _ := parseDuration(c.Reassembly.IdleTimeout)
	sweep, _ := parseDuration(c.Reassembly.SweepInterval)
	return splitter.Config{
		Side:          side,
		Limits:        c.DirectionLimits(),
		IdleTimeout:   idle,
		SweepInterval: sweep,
		MaxSessions:   c.Reassembly.MaxSessions,
		Strict:        c.Reassembly.Strict,
	}
}

// TransportConfig builds the endpoint settings. Call after Validate.
func (c Config) TransportConfig() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.PeerID = c.Node.ID
	if d, _ := parseDuration(c.Transport.HandshakeTimeout); d > 0 {
		cfg.HandshakeTimeout = d
	}
	cfg.ReadTimeout, _ = parseDuration(c.Transport.ReadTimeout)
	if d, _ := parseDuration(c.Transport.WriteTimeout); d > 0 {
		cfg.WriteTimeout = d
	}
	if c.Transport.QueueDepth > 0 {
		cfg.QueueDepth = c.Transport.QueueDepth
	}
	if c.Transport.MaxChannelBytes > 0 {
		cfg.MaxChannelBytes = c.Transport.MaxChannelBytes
	}
	cfg.CloseOnProtocolError = c.Transport.CloseOnProtocolError
	cfg.Token = c.Transport.Token
	cfg.AcceptTokens = append([]string(nil), c.Transport.AcceptTokens...)
	cfg.TLS = transport.TLSConfig{
		Enabled:  c.TLS.Enabled,
		Mutual:   c.TLS.Mutual,
		CertFile: c.TLS.CertFile,
		KeyFile:  c.TLS.KeyFile,
		CAFile:   c.TLS.CAFile,
	}
	return cfg
}
