package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/pipeline"
	"github.com/memtensor/deepresearch/pkg/types"
)

const (
	invalidJSONMessage   = "Invalid JSON format"
	internalErrorMessage = "Internal server error"
	healthCheckTimeout   = 5 * time.Second
)

// root reports that the service is up
// @Summary Service banner
// @Tags health
// @Produce json
// @Success 200 {object} RootResponse
// @Router / [get]
func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, RootResponse{Message: s.config.API.ProjectName + " is running"})
}

// healthCheck provides a health check endpoint
// @Summary Health Check
// @Description Check the memory store, the conversation store and the language models
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Topology:  s.service.Topology(),
		Checks:    make(map[string]string),
	}

	names, checks := s.healthChecks()
	for _, name := range names {
		if err := checks[name].HealthCheck(ctx); err != nil {
			failure := healthFailure(ctx, name, err)
			s.logger.Warn("Health check failed", map[string]interface{}{
				"check": name,
				"code":  string(failure.Code),
				"error": failure.Error(),
			})
			health.Checks[name] = "unavailable"
			health.Status = "degraded"
			continue
		}
		health.Checks[name] = "ok"
	}

	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

// healthFailure classifies a failed check: a check cut off by the shared
// deadline is a timeout, anything else means the collaborator is unavailable.
func healthFailure(ctx context.Context, name string, err error) *errors.MemGOSError {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError("health check " + name).WithDetail("error", err.Error())
	}
	return errors.NewServiceUnavailableError(name).WithDetail("error", err.Error())
}

// search streams the single-pass agent as Server-Sent Events
// @Summary Streaming research
// @Description Streams rationale and answer tokens, annotated HTML, citations and a final done or error event. Each event is sent as a data line holding JSON.
// @Tags research
// @Accept json
// @Produce text/event-stream
// @Param request body SearchRequest true "Research request"
// @Success 200 {string} string "event stream"
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/search [post]
func (s *Server) search(c *gin.Context) {
	var req types.ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: invalidJSONMessage})
		return
	}
	if err := pipeline.ValidateRequest(&req); err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if err := s.service.Search(c.Request.Context(), &req, sseEmitter(c.Writer)); err != nil {
		s.logger.Debug("Event stream ended with an error", map[string]interface{}{
			"request_id": c.GetString("request_id"),
			"error":      err.Error(),
		})
	}
}

// sseEmitter writes each event as one data line followed by a blank line
func sseEmitter(w gin.ResponseWriter) pipeline.Emitter {
	return func(ctx context.Context, event *types.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		w.Flush()
		return nil
	}
}

// agentAnswer runs the graph and returns the final state
// @Summary Graph research
// @Description Runs the configured topology. user_id and prompt are read from the query string or from a JSON body.
// @Tags research
// @Accept json
// @Produce json
// @Param user_id query string false "User id"
// @Param prompt query string false "Prompt"
// @Param request body SearchRequest false "Research request"
// @Success 200 {object} types.PipelineState
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /agent/answer [post]
func (s *Server) agentAnswer(c *gin.Context) {
	req := types.ResearchRequest{
		UserID: c.Query("user_id"),
		Prompt: c.Query("prompt"),
	}
	if (req.UserID == "" || req.Prompt == "") && c.Request.ContentLength != 0 {
		var body types.ResearchRequest
		if err := c.ShouldBindJSON(&body); err != nil && err != io.EOF {
			c.JSON(http.StatusBadRequest, ErrorResponse{Detail: invalidJSONMessage})
			return
		}
		if req.UserID == "" {
			req.UserID = body.UserID
		}
		if req.Prompt == "" {
			req.Prompt = body.Prompt
		}
	}

	state, err := s.service.Answer(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// writeError maps err to a status code and a client-safe message
func (s *Server) writeError(c *gin.Context, err error) {
	if errors.IsNotFound(err) {
		c.JSON(http.StatusNotFound, ErrorResponse{Detail: errors.GetMemGOSError(err).Message})
		return
	}
	status := http.StatusInternalServerError
	if errors.IsClientError(err) {
		status = http.StatusBadRequest
	}
	c.JSON(status, ErrorResponse{Detail: errors.PublicMessage(err)})
}
