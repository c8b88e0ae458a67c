// Package server exposes the recording session over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/capture"
	"github.com/audiolibrelab/micrecord/internal/session"
)

// Server represents the web server controlling one recording session
type Server struct {
	controller *session.Controller
	profile    string
	port       string
	engine     *gin.Engine
	httpServer *http.Server
}

// StatusResponse represents the JSON response for the status endpoint
type StatusResponse struct {
	session.Snapshot
	Profile string        `json:"profile"`
	Stats   session.Stats `json:"stats"`
}

// DevicesResponse represents the JSON response for the devices endpoints
type DevicesResponse struct {
	Devices []audio.Device `json:"devices"`
}

type selectRequest struct {
	DeviceID string `json:"device_id" form:"device_id"`
}

type muteRequest struct {
	Muted *bool `json:"muted" form:"muted"`
}

// New creates the web server. The controller must already be mounted.
func New(controller *session.Controller, profile, port string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		controller: controller,
		profile:    profile,
		port:       port,
		engine:     engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/", s.handleIndex)

	api := s.engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/devices", s.handleDevices)
		api.POST("/devices/refresh", s.handleRefreshDevices)
		api.POST("/select", s.handleSelect)
		api.POST("/enable", s.action(s.controller.EnableMic))
		api.POST("/start", s.action(s.controller.Start))
		api.POST("/cancel", s.action(s.controller.Cancel))
		api.POST("/stop", s.action(s.controller.Stop))
		api.POST("/reset", s.action(s.controller.Reset))
		api.POST("/retry", s.action(s.controller.Retry))
		api.POST("/submit", s.handleSubmit)
		api.POST("/mute", s.handleMute)
		api.GET("/artifact", s.handleArtifact)
	}
}

// Handler returns the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting MicRecord Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Snapshot: s.controller.Snapshot(),
		Profile:  s.profile,
		Stats:    s.controller.Stats(),
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleDevices(c *gin.Context) {
	c.JSON(http.StatusOK, DevicesResponse{Devices: s.controller.Snapshot().Devices})
}

func (s *Server) handleRefreshDevices(c *gin.Context) {
	devices := s.controller.RefreshDevices(c.Request.Context())
	c.JSON(http.StatusOK, DevicesResponse{Devices: devices})
}

func (s *Server) handleSelect(c *gin.Context) {
	var req selectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBind(&req); err != nil {
			s.sendError(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
			return
		}
	}
	s.respond(c, s.controller.SelectDevice(req.DeviceID))
}

// action adapts a controller transition to a handler answering with the new status.
func (s *Server) action(fn func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.respond(c, fn())
	}
}

func (s *Server) handleSubmit(c *gin.Context) {
	err := s.controller.Submit(c.Request.Context())
	if err != nil && !errors.Is(err, session.ErrInvalidTransition) && !errors.Is(err, session.ErrBusy) {
		s.sendError(c, http.StatusBadGateway, err)
		return
	}
	s.respond(c, err)
}

func (s *Server) handleMute(c *gin.Context) {
	var req muteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBind(&req); err != nil {
			s.sendError(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
			return
		}
	}
	if req.Muted == nil {
		s.respond(c, s.controller.ToggleMute())
		return
	}
	s.respond(c, s.controller.SetMuted(*req.Muted))
}

func (s *Server) handleArtifact(c *gin.Context) {
	artifact := s.controller.Artifact()
	if artifact == nil {
		s.sendError(c, http.StatusNotFound, errors.New("no recording available"))
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", artifact.Filename()))
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

func (s *Server) respond(c *gin.Context, err error) {
	if err != nil {
		s.sendError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, s.status())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, capture.ErrNoStream):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoUploader):
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

// sendError logs the error and sends a JSON error response to the client
func (s *Server) sendError(c *gin.Context, statusCode int, err error) {
	slog.Error("Sending error response to client", "error", err, "status_code", statusCode, "path", c.FullPath())
	c.AbortWithStatusJSON(statusCode, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
