// Package api serves the native HTTP surface: tool invocation, job status
// and SSE event streams, health, and metrics, plus the mounted MCP SSE
// transport.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/store"
	"github.com/parallax-research/parallax/pkg/tools"
)

// Server is the HTTP adapter over the tool surface and event stream.
type Server struct {
	surface   *tools.Surface
	publisher *events.Publisher
	store     store.Store
	mcp       http.Handler
}

// NewServer builds the HTTP server. mcpHandler may be nil when the MCP SSE
// transport is not mounted.
func NewServer(surface *tools.Surface, publisher *events.Publisher, st store.Store, mcpHandler http.Handler) *Server {
	return &Server{
		surface:   surface,
		publisher: publisher,
		store:     st,
		mcp:       mcpHandler,
	}
}

// Router assembles the gin route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.POST("/tools/:name", s.handleInvokeTool)
	v1.GET("/jobs/:id", s.handleGetJob)
	v1.POST("/jobs/:id/cancel", s.handleCancelJob)
	v1.GET("/jobs/:id/events", s.handleJobEvents)
	v1.GET("/status", s.handleStatus)

	if s.mcp != nil {
		r.Any("/mcp", gin.WrapH(s.mcp))
		r.Any("/mcp/*path", gin.WrapH(s.mcp))
	}
	return r
}

// handleHealth reports liveness and store readiness.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.WaitForInit(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"store":  s.store.Identity(),
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"store":  s.store.Identity(),
	})
}

// handleInvokeTool runs one named tool with the JSON body as arguments.
func (s *Server) handleInvokeTool(c *gin.Context) {
	args := make(tools.Args)
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}

	result, err := s.surface.Invoke(c.Request.Context(), c.Param("name"), args)
	if err != nil {
		respondError(c, err)
		return
	}
	if text, ok := result.(string); ok {
		c.String(http.StatusOK, text)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleGetJob returns the full job record.
func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleCancelJob requests job cancellation through the tool surface so the
// observation log sees it.
func (s *Server) handleCancelJob(c *gin.Context) {
	result, err := s.surface.Invoke(c.Request.Context(), "cancel_job",
		tools.Args{"job_id": c.Param("id")})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleStatus reports the orchestrator status document.
func (s *Server) handleStatus(c *gin.Context) {
	result, err := s.surface.Invoke(c.Request.Context(), "get_server_status", tools.Args{})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
