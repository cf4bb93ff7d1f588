package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the health and version handlers.
type ServerAPI struct {
	now func() time.Time
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// NewServerAPI creates a new instance of the ServerAPI.
func NewServerAPI() *ServerAPI {
	return &ServerAPI{now: time.Now}
}

// RegisterRoutes sets up the routing for all /api endpoints.
func (a *ServerAPI) RegisterRoutes(r gin.IRoutes) {
	r.GET("/api/health", a.handleHealthCheck)
	r.HEAD("/api/health", a.handleHealthCheck)
	r.GET("/api/version", a.handleVersion)
}

// handleHealthCheck reports that the process is serving requests. The
// timestamp is RFC 3339 with fractional seconds, so two checks in the same
// second still differ.
func (a *ServerAPI) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: a.now().Format(time.RFC3339Nano),
	})
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
}
