package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/chunkwire/internal/admin"
	"github.com/danmuck/chunkwire/internal/config"
	"github.com/danmuck/chunkwire/internal/observability"
	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/transport"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "", "daemon config path (defaults apply when empty)")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "chunkwired: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	observability.InitLogger("chunkwired")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.Node.ID)
	var ep *transport.Endpoint
	// echo every payload back on the channel it arrived on
	ep, err = transport.NewEndpoint(cfg.TransportConfig(), cfg.SplitterConfig(protocol.SideServer), func(c *transport.Conn, channel string, payload []byte) {
		if _, err := ep.Send(ctx, c, channel, payload); err != nil {
			log.Warn().Err(err).Str("conn", c.String()).Str("channel", channel).Msg("echo failed")
		}
	}, metrics)
	if err != nil {
		return err
	}
	if err := observability.RegisterOpenSessions(cfg.Node.ID, ep.OpenSessions); err != nil {
		return err
	}
	go ep.Run(ctx)

	errCh := make(chan error, 2)
	running := 0
	if addr := strings.TrimSpace(cfg.Listen.TCPAddr); addr != "" {
		ln, err := ep.Listen(addr)
		if err != nil {
			return err
		}
		running++
		go func() { errCh <- ep.Serve(ctx, ln) }()
	}
	var srv *admin.Server
	if addr := strings.TrimSpace(cfg.Listen.AdminAddr); addr != "" {
		srv = admin.New(cfg.Node.ID, addr, cfg.Listen.CorsOrigins, ep, cfg.Listen.WSPath)
		if srv.TLS, err = ep.TLSServerConfig(); err != nil {
			return err
		}
		running++
		go func() { errCh <- srv.Serve(ctx) }()
		srv.SetReady(true)
	}
	log.Info().
		Str("node", cfg.Node.ID).
		Str("tcp", cfg.Listen.TCPAddr).
		Str("admin", cfg.Listen.AdminAddr).
		Msg("chunkwired running")

	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	if srv != nil {
		srv.SetReady(false)
	}
	ep.CloseAll()
	log.Info().Msg("chunkwired stopped")
	return firstErr
}
