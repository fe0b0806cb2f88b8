package admin

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/chunkwire/internal/observability"
	"github.com/danmuck/chunkwire/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Endpoint is the transport view the admin routes read from.
type Endpoint interface {
	Conns() []transport.ConnInfo
	Sessions() []transport.SessionInfo
	OpenSessions() int
	Cancel(connID uint64, channel string) bool
	WebSocketHandler() http.Handler
}

// Server exposes health, metrics, session inspection and the websocket
// transport over HTTP.
type Server struct {
	ID       string
	Addr     string
	Appeared time.Time
	// TLS serves HTTPS when set.
	TLS *tls.Config

	endpoint Endpoint
	router   *gin.Engine
	wsPath   string
	ready    atomic.Bool
}

func New(id, addr string, corsOrigins []string, endpoint Endpoint, wsPath string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		endpoint: endpoint,
		router:   r,
		wsPath:   strings.TrimSpace(wsPath),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady flips the /ready probe.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		if !s.ready.Load() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   s.ready.Load(),
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
		})
	})

	if s.endpoint == nil {
		return
	}

	s.router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"open":     s.endpoint.OpenSessions(),
			"sessions": s.endpoint.Sessions(),
		})
	})

	s.router.GET("/conns", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"conns": s.endpoint.Conns()})
	})

	s.router.DELETE("/conns/:id/sessions", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conn id"})
			return
		}
		channel := c.Query("channel")
		if strings.TrimSpace(channel) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel is required"})
			return
		}
		if !s.endpoint.Cancel(id, channel) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		log.Info().Uint64("conn_id", id).Str("channel", channel).Msg("admin cancelled session")
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	})

	if s.wsPath != "" {
		s.router.GET(s.wsPath, gin.WrapH(s.endpoint.WebSocketHandler()))
	}
}

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         s.TLS,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Bool("tls", s.TLS != nil).Msg("admin listening")
		if s.TLS != nil {
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
