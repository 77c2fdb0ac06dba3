package http

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// handleStream pushes surface and pending-list changes to the confirmation UI
// as server-sent events. It starts with the current surface state and ends
// when the client leaves or the server stops.
func (s *Server) handleStream(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	changes := s.broker.Watch(ctx)
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(streamEventSurface, s.surfaceState())
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case name, ok := <-changes:
			if !ok {
				return false
			}
			if name == "" {
				c.SSEvent(streamEventSurface, s.surfaceState())
			} else {
				c.SSEvent(streamEventPending, pendingChange{Ledger: name, Counts: s.broker.Counts()})
			}
			return true
		case <-ping.C:
			c.SSEvent(streamEventPing, time.Now().Unix())
			return true
		case <-ctx.Done():
			return false
		}
	})
}
