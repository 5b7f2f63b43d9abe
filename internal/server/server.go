// Package server exposes the engine over HTTP.
package server

import (
	"context"
	_ "embed"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/scrivy/scam/internal/engine"
)

//go:embed static/index.html
var defaultIndex []byte

type Options struct {
	// Index is served at /. Nil means the built-in viewer page.
	Index []byte
	// CameraIndex is used by /control/start when the request names none.
	CameraIndex int
}

type Server struct {
	eng    *engine.Engine
	opts   Options
	router *gin.Engine
	http   *http.Server
	ln     net.Listener
	log    zerolog.Logger
}

func New(eng *engine.Engine, opts Options, log zerolog.Logger) *Server {
	if opts.Index == nil {
		opts.Index = defaultIndex
	}
	s := &Server{
		eng:  eng,
		opts: opts,
		log:  log.With().Str("component", "http").Logger(),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log))

	router.GET("/", s.index)
	router.GET("/video", s.video)
	router.GET("/ws", s.websocket)
	router.GET("/snapshot.jpg", s.snapshot)
	router.GET("/heartbeat", s.heartbeat)
	router.POST("/log", s.clientLog)
	router.GET("/stats", s.stats)
	router.POST("/control/start", s.start)
	router.POST("/control/stop", s.stop)

	s.router = router
	s.http = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Listen binds addr so that a taken port is reported before streaming starts.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return &engine.StartupError{Kind: engine.PortInUse, Err: err}
		}
		return errors.WithStack(err)
	}
	s.ln = ln
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve blocks until Shutdown. Listen must have succeeded.
func (s *Server) Serve() error {
	if s.ln == nil {
		return errors.New("server: Serve called before Listen")
	}
	s.log.Info().Stringer("addr", s.ln.Addr()).Msg("listening")
	err := s.http.Serve(s.ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.WithStack(err)
}

// Shutdown stops accepting connections and waits for handlers up to ctx.
// Stop the engine first so that open streams end.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.WithStack(s.http.Shutdown(ctx))
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
