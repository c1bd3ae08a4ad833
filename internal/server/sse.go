package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/quotescout/internal/logger"
	"github.com/zulandar/quotescout/internal/session"
)

// handleStream serves the progress stream for one job. The client first
// receives the current state of every worker (and the terminal event if the
// search already ended), then live events until it disconnects or the
// session is cleaned up.
func (s *Server) handleStream(c *gin.Context) {
	jobID := c.Param("jobId")
	setSSEHeaders(c)
	c.Status(http.StatusOK)

	sess, err := s.registry.Get(jobID)
	if err != nil {
		writeEvent(c.Writer, session.Failure(jobID, "Session not found"))
		c.Writer.Flush()
		return
	}

	q := session.NewQueue(GetRequestID(c), s.queueSize)
	if !sess.Subscribe(q) {
		writeEvent(c.Writer, session.Failure(jobID, "Session not found"))
		c.Writer.Flush()
		return
	}
	defer sess.Unsubscribe(q)

	ctx := logger.WithJob(c.Request.Context(), jobID)
	logger.Debug(ctx, "stream attached", "subscribers", sess.SubscriberCount())
	defer logger.Debug(ctx, "stream detached")

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.Messages():
			writeSSE(c.Writer, msg.Data)
			c.Writer.Flush()
		case <-q.Done():
			// Deliver whatever was queued before the close.
			for {
				select {
				case msg := <-q.Messages():
					writeSSE(c.Writer, msg.Data)
				default:
					c.Writer.Flush()
					return
				}
			}
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		}
	}
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// writeSSE writes one unnamed event. The event type travels inside the JSON
// payload so EventSource onmessage handlers see every event.
func writeSSE(w io.Writer, data []byte) {
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeEvent(w io.Writer, evt session.Event) {
	msg, err := session.Encode(evt)
	if err != nil {
		return
	}
	writeSSE(w, msg.Data)
}
