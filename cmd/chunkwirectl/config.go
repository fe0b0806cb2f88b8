package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/splitter"
	"github.com/danmuck/chunkwire/internal/transport"
)

// clientConfig is everything chunkwirectl needs to reach a daemon.
type clientConfig struct {
	Network   string
	Addr      string
	Channel   string
	Timeout   time.Duration
	Transport transport.Config
	Splitter  splitter.Config
}

type fileConfig struct {
	ID                 string `toml:"id"`
	Network            string `toml:"network"`
	Addr               string `toml:"addr"`
	Channel            string `toml:"channel"`
	Timeout            string `toml:"timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	C2SMaxPayload      int    `toml:"c2s_max_payload_size"`
	S2CMaxPayload      int    `toml:"s2c_max_payload_size"`
	Strict             bool   `toml:"strict"`
	Token              string `toml:"token"`
	TLS                bool   `toml:"tls"`
	TLSCAFile          string `toml:"tls_ca_file"`
	TLSCertFile        string `toml:"tls_cert_file"`
	TLSKeyFile         string `toml:"tls_key_file"`
	TLSServerName      string `toml:"tls_server_name"`
	TLSInsecure        bool   `toml:"tls_insecure_skip_verify"`
}

func defaultClientConfig() clientConfig {
	tcfg := transport.DefaultConfig()
	tcfg.PeerID = "chunkwirectl"
	return clientConfig{
		Network:   "tcp",
		Addr:      "127.0.0.1:7400",
		Channel:   "ctl",
		Timeout:   30 * time.Second,
		Transport: tcfg,
		Splitter:  splitter.DefaultConfig(protocol.SideClient),
	}
}

func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load chunkwirectl config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.Transport.PeerID = id
		}
	}
	if meta.IsDefined("network") {
		switch network := strings.ToLower(strings.TrimSpace(raw.Network)); network {
		case "tcp", "ws":
			cfg.Network = network
		default:
			return clientConfig{}, fmt.Errorf("unknown network %q", raw.Network)
		}
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Transport.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("c2s_max_payload_size") {
		cfg.Splitter.Limits.ClientToServer.MaxPayloadSize = raw.C2SMaxPayload
	}
	if meta.IsDefined("s2c_max_payload_size") {
		cfg.Splitter.Limits.ServerToClient.MaxPayloadSize = raw.S2CMaxPayload
	}
	if meta.IsDefined("strict") {
		cfg.Splitter.Strict = raw.Strict
	}
	if meta.IsDefined("token") {
		cfg.Transport.Token = raw.Token
	}
	if meta.IsDefined("tls") {
		cfg.Transport.TLS.Enabled = raw.TLS
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Transport.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_cert_file") || meta.IsDefined("tls_key_file") {
		cfg.Transport.TLS.Mutual = true
		cfg.Transport.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
		cfg.Transport.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_server_name") {
		cfg.Transport.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}
	if meta.IsDefined("tls_insecure_skip_verify") {
		cfg.Transport.TLS.InsecureSkipVerify = raw.TLSInsecure
	}

	if cfg.Addr == "" {
		return clientConfig{}, fmt.Errorf("addr is required")
	}
	if cfg.Channel == "" {
		return clientConfig{}, fmt.Errorf("channel is required")
	}
	if err := cfg.Splitter.Validate(); err != nil {
		return clientConfig{}, err
	}
	if err := cfg.Transport.TLS.ValidateClient(); err != nil {
		return clientConfig{}, err
	}
	return cfg, nil
}
