package api

import (
	"net/http"
	"runtime"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/opencli/daemon/pkg/version"
)

// healthHandler handles GET /health. Minimal and unauthenticated; only the
// daemon's own components are checked.
func (s *Server) healthHandler(c *echo.Context) error {
	db := s.dbClient.Health(c.Request().Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if db["status"] != "healthy" {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, map[string]any{
		"status":   status,
		"version":  version.Version,
		"database": db,
	})
}

// statusHandler handles GET /api/v1/status.
func (s *Server) statusHandler(c *echo.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(http.StatusOK, map[string]any{
		"daemon": map[string]any{
			"name":           version.AppName,
			"version":        version.Version,
			"commit":         version.GitCommit,
			"uptime_seconds": int64(s.Uptime().Seconds()),
			"memory_mb":      float64(mem.Alloc) / (1024 * 1024),
			"total_requests": s.TotalRequests(),
		},
		"domains": map[string]any{
			"count":      len(s.registry.Domains()),
			"task_types": len(s.registry.TaskTypes()),
		},
		"mobile": map[string]any{
			"connected_clients": s.sessions.ActiveSessions(),
			"client_ids":        s.sessions.ConnectedDevices(),
		},
		"timestamp": time.Now().UnixMilli(),
	})
}
