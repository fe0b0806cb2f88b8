package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/chunkwire/internal/observability"
	"github.com/danmuck/chunkwire/internal/transport"
	"github.com/rs/zerolog/log"
)

type echo struct {
	channel string
	payload []byte
}

func main() {
	path := flag.String("config", "", "client config path")
	addr := flag.String("addr", "", "override daemon address (host:port or ws:// url)")
	channel := flag.String("channel", "", "override channel name")
	size := flag.Int("size", 70000, "random payload size when -file is not set")
	file := flag.String("file", "", "send the contents of this file")
	count := flag.Int("count", 1, "number of payloads to send")
	flag.Parse()

	cfg, err := loadClientConfig(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkwirectl: %v\n", err)
		os.Exit(1)
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Addr = v
		if strings.HasPrefix(v, "ws://") || strings.HasPrefix(v, "wss://") {
			cfg.Network = "ws"
		}
	}
	if v := strings.TrimSpace(*channel); v != "" {
		cfg.Channel = v
	}

	payload, err := loadPayload(*file, *size)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkwirectl: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger("chunkwirectl")
	if err := run(cfg, payload, *count); err != nil {
		fmt.Fprintf(os.Stderr, "chunkwirectl: %v\n", err)
		os.Exit(1)
	}
}

func loadPayload(path string, size int) ([]byte, error) {
	if strings.TrimSpace(path) != "" {
		return os.ReadFile(path)
	}
	if size < 0 {
		return nil, fmt.Errorf("size must be >= 0")
	}
	b := make([]byte, size)
	_, err := rand.Read(b)
	return b, err
}

// run sends payload count times and checks that each echo matches.
func run(cfg clientConfig, payload []byte, count int) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	echoes := make(chan echo, 1)
	ep, err := transport.NewEndpoint(cfg.Transport, cfg.Splitter, func(_ *transport.Conn, channel string, p []byte) {
		select {
		case echoes <- echo{channel: channel, payload: p}:
		case <-ctx.Done():
		}
	}, nil)
	if err != nil {
		return err
	}

	var conn *transport.Conn
	if cfg.Network == "ws" {
		conn, err = ep.DialWS(ctx, cfg.Addr)
	} else {
		conn, err = ep.Dial(ctx, cfg.Addr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	for i := 0; i < count; i++ {
		start := time.Now()
		packets, err := ep.Send(ctx, conn, cfg.Channel, payload)
		if err != nil {
			return err
		}
		select {
		case got := <-echoes:
			if got.channel != cfg.Channel || !bytes.Equal(got.payload, payload) {
				return errors.New("echo mismatch")
			}
		case <-conn.Done():
			return fmt.Errorf("connection closed: %v", conn.Err())
		case <-ctx.Done():
			return ctx.Err()
		}
		log.Info().
			Int("round", i+1).
			Str("channel", cfg.Channel).
			Int("bytes", len(payload)).
			Int("packets", packets).
			Dur("rtt", time.Since(start)).
			Msg("echo verified")
	}
	return nil
}
