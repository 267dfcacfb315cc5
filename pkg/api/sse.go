package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/store"
)

// handleJobEvents streams a job's event log as SSE: the durable backlog
// from since_event_id first, then a live tail. The stream ends when the
// job's terminal status event has been delivered, the client disconnects,
// or the subscriber is dropped for lagging.
func (s *Server) handleJobEvents(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := s.store.GetJobStatus(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}

	sinceID, err := strconv.ParseInt(c.DefaultQuery("since_event_id", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since_event_id"})
		return
	}

	ctx := c.Request.Context()
	stream, cancel, err := s.publisher.Stream(ctx, jobID, sinceID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n",
				event.ID, event.Type, event.Payload)
			c.Writer.Flush()
			if isTerminalStatusEvent(event) {
				return
			}
		}
	}
}

// isTerminalStatusEvent reports whether the event announces a terminal job
// status, which ends the stream.
func isTerminalStatusEvent(event store.JobEvent) bool {
	if event.Type != events.TypeJobStatus {
		return false
	}
	var payload events.JobStatus
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return false
	}
	return payload.Status.Terminal()
}
