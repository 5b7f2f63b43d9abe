package server

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"

	"github.com/scrivy/scam/internal/engine"
	"github.com/scrivy/scam/internal/stream"
)

// websocket streams frames as binary messages, one JPEG per message.
func (s *Server) websocket(c *gin.Context) {
	if !s.eng.Running() {
		c.String(http.StatusServiceUnavailable, "stream not running")
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		s.log.Warn().Err(err).Str("client", c.ClientIP()).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	clientID := c.ClientIP()

	// A hijacked connection's request context is not cancelled when the peer
	// goes away, so watch the read side instead.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			frame, err := ws.ReadFrame(conn)
			if err != nil {
				var opErr *net.OpError
				if err != io.EOF && !errors.As(err, &opErr) {
					s.log.Debug().Err(err).Str("client", clientID).Msg("read websocket")
				}
				return
			}
			if frame.Header.OpCode == ws.OpClose {
				return
			}
		}
	}()

	if err := s.eng.Serve(ctx, clientID, stream.NewWSFramer(conn)); errors.Is(err, engine.ErrNotRunning) {
		s.log.Debug().Str("client", clientID).Msg("engine stopped before stream began")
	}
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	if err := wsutil.WriteServerMessage(conn, ws.OpClose, body); err != nil {
		s.log.Debug().Err(err).Str("client", clientID).Msg("write websocket close")
	}
}
