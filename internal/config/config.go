package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/pelletier/go-toml/v2"
)

// Config is the chunkwired daemon configuration file.
type Config struct {
	Node       NodeConfig       `toml:"node"`
	Listen     ListenConfig     `toml:"listen"`
	Limits     LimitsConfig     `toml:"limits"`
	Reassembly ReassemblyConfig `toml:"reassembly"`
	Transport  TransportConfig  `toml:"transport"`
	TLS        TLSConfig        `toml:"tls"`
}

type NodeConfig struct {
	ID string `toml:"id"`
}

type ListenConfig struct {
	TCPAddr     string   `toml:"tcp_addr"`
	AdminAddr   string   `toml:"admin_addr"`
	WSPath      string   `toml:"ws_path"`
	CorsOrigins []string `toml:"cors_origins"`
}

type LimitsConfig struct {
	C2S LimitSection `toml:"c2s"`
	S2C LimitSection `toml:"s2c"`
}

type LimitSection struct {
	MaxPacketSize  int `toml:"max_packet_size"`
	MaxChunkSize   int `toml:"max_chunk_size"`
	MaxPayloadSize int `toml:"max_payload_size"`
}

type ReassemblyConfig struct {
	IdleTimeout   string `toml:"idle_timeout"`
	SweepInterval string `toml:"sweep_interval"`
	MaxSessions   int    `toml:"max_sessions"`
	Strict        bool   `toml:"strict"`
}

type TransportConfig struct {
	HandshakeTimeout     string `toml:"handshake_timeout"`
	ReadTimeout          string `toml:"read_timeout"`
	WriteTimeout         string `toml:"write_timeout"`
	QueueDepth           int    `toml:"queue_depth"`
	MaxChannelBytes      int    `toml:"max_channel_bytes"`
	CloseOnProtocolError bool   `toml:"close_on_protocol_error"`
	Token                string   `toml:"token"`
	AcceptTokens         []string `toml:"accept_tokens"`
}

// TLSConfig applies to the TCP listener and the admin server.
type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Mutual   bool   `toml:"mutual"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	CAFile   string `toml:"ca_file"`
}

func Default() Config {
	limits := protocol.DefaultLimits()
	return Config{
		Node: NodeConfig{ID: "chunkwired"},
		Listen: ListenConfig{
			TCPAddr:   ":7400",
			AdminAddr: ":7401",
			WSPath:    "/ws",
		},
		Limits: LimitsConfig{
			C2S: sectionOf(limits.ClientToServer),
			S2C: sectionOf(limits.ServerToClient),
		},
		Reassembly: ReassemblyConfig{
			IdleTimeout:   "2m",
			SweepInterval: "30s",
		},
		Transport: TransportConfig{
			HandshakeTimeout: "5s",
			ReadTimeout:      "0s",
			WriteTimeout:     "15s",
			QueueDepth:       256,
			MaxChannelBytes:  256,
		},
	}
}

// Load reads path over Default, so omitted keys keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Node.ID) == "" {
		return fmt.Errorf("node.id is required")
	}
	if strings.TrimSpace(cfg.Listen.TCPAddr) == "" && strings.TrimSpace(cfg.Listen.AdminAddr) == "" {
		return fmt.Errorf("listen requires tcp_addr or admin_addr")
	}
	if path := strings.TrimSpace(cfg.Listen.WSPath); path != "" && !strings.HasPrefix(path, "/") {
		return fmt.Errorf("listen.ws_path must start with /")
	}
	if err := cfg.DirectionLimits().Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if err := cfg.TransportConfig().TLS.ValidateServer(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if cfg.Reassembly.MaxSessions < 0 {
		return fmt.Errorf("reassembly.max_sessions must be >= 0")
	}
	if cfg.Transport.QueueDepth < 0 {
		return fmt.Errorf("transport.queue_depth must be >= 0")
	}
	durations := map[string]string{
		"reassembly.idle_timeout":     cfg.Reassembly.IdleTimeout,
		"reassembly.sweep_interval":   cfg.Reassembly.SweepInterval,
		"transport.handshake_timeout": cfg.Transport.HandshakeTimeout,
		"transport.read_timeout":      cfg.Transport.ReadTimeout,
		"transport.write_timeout":     cfg.Transport.WriteTimeout,
	}
	for key, raw := range durations {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// parseDuration treats an empty value as zero.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
