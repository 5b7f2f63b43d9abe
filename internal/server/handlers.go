package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/scrivy/scam/internal/engine"
	"github.com/scrivy/scam/internal/logging"
	"github.com/scrivy/scam/internal/stream"
)

func (s *Server) index(c *gin.Context) {
	c.Header("Cache-Control", "max-age=600")
	c.Data(http.StatusOK, "text/html; charset=utf-8", s.opts.Index)
}

func noCache(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
}

func (s *Server) video(c *gin.Context) {
	if !s.eng.Running() {
		c.String(http.StatusServiceUnavailable, "stream not running")
		return
	}

	noCache(c)
	c.Header("Content-Type", stream.ContentType)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	err := s.eng.Serve(c.Request.Context(), c.ClientIP(), stream.NewMultipartFramer(c.Writer))
	if errors.Is(err, engine.ErrNotRunning) {
		s.log.Debug().Str("client", c.ClientIP()).Msg("engine stopped before stream began")
	}
}

func (s *Server) snapshot(c *gin.Context) {
	f := s.eng.Latest()
	if !s.eng.Running() || f == nil {
		c.String(http.StatusServiceUnavailable, "no frame available")
		return
	}
	noCache(c)
	c.Header("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	c.Data(http.StatusOK, "image/jpeg", f.Data)
}

func (s *Server) heartbeat(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type logRequest struct {
	Level string `json:"level"`
	// Message is a pointer so that an empty message is accepted and only a
	// missing one is rejected.
	Message *string `json:"message" binding:"required"`
}

// clientLog lets the viewer page put its reconnects and errors in the operator's log.
func (s *Server) clientLog(c *gin.Context) {
	var req logRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	s.log.WithLevel(logging.Level(req.Level)).
		Str("client", c.ClientIP()).
		Str("source", "browser").
		Msg(*req.Message)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) stats(c *gin.Context) {
	delays := s.eng.Delays()
	ms := make(map[string]float64, len(delays))
	for client, d := range delays {
		ms[client] = float64(d) / float64(time.Millisecond)
	}

	body := gin.H{
		"running":   s.eng.Running(),
		"state":     s.eng.State().String(),
		"camera":    s.eng.CameraIndex(),
		"sessions":  s.eng.Sessions(),
		"delays_ms": ms,
	}
	if f := s.eng.Latest(); f != nil {
		body["seq"] = f.Seq
		body["captured"] = f.Timestamp
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) start(c *gin.Context) {
	index := s.opts.CameraIndex
	if q, ok := c.GetQuery("camera"); ok {
		n, err := strconv.Atoi(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": engine.CameraIndexInvalid.String(), "detail": err.Error()})
			return
		}
		index = n
	}

	err := s.eng.Start(index)
	if kind, ok := engine.StartupKindOf(err); ok {
		c.JSON(http.StatusConflict, gin.H{"error": kind.String(), "detail": err.Error()})
		return
	}
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "camera": index})
	case engine.ErrAlreadyRunning:
		c.JSON(http.StatusConflict, gin.H{"error": "already_running", "camera": s.eng.CameraIndex()})
	case engine.ErrShutdown:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting_down"})
	default:
		s.log.Error().Stack().Err(err).Msg("start")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) stop(c *gin.Context) {
	s.eng.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
