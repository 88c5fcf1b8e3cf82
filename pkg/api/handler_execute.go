package api

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/opencli/daemon/pkg/version"
)

type executeRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// executeHandler handles POST /api/v1/execute, a JSON-RPC-ish single
// endpoint for clients that cannot speak WebSocket. Methods are either
// built-in (system.*, domains.*) or task types, optionally qualified with
// the domain id as "domain.task_type".
func (s *Server) executeHandler(c *echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid execute payload")
	}
	if req.Method == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "method is required")
	}
	requestID := fmt.Sprintf("%x", time.Now().UnixMilli())

	respond := func(result map[string]any) error {
		result["request_id"] = requestID
		return c.JSON(http.StatusOK, result)
	}

	switch req.Method {
	case "system.ping":
		return respond(map[string]any{
			"success":   true,
			"pong":      true,
			"timestamp": time.Now().UnixMilli(),
		})
	case "system.info":
		return respond(map[string]any{
			"success":        true,
			"name":           version.AppName,
			"version":        version.Version,
			"platform":       runtime.GOOS,
			"uptime_seconds": int64(s.Uptime().Seconds()),
			"domains":        len(s.registry.Domains()),
		})
	case "domains.list":
		domains := make([]map[string]any, 0)
		for _, d := range s.registry.Domains() {
			domains = append(domains, map[string]any{
				"id":          d.ID(),
				"name":        d.Name(),
				"description": d.Description(),
				"task_types":  d.TaskTypes(),
			})
		}
		return respond(map[string]any{"success": true, "domains": domains})
	case "domains.task_types":
		return respond(map[string]any{"success": true, "task_types": s.registry.TaskTypes()})
	}

	taskType := req.Method
	if _, ok := s.registry.DomainFor(taskType); !ok {
		// Accept the qualified "domain.task_type" form.
		if prefix, rest, found := strings.Cut(req.Method, "."); found {
			if _, ok := s.registry.Domain(prefix); ok {
				taskType = rest
			}
		}
	}

	result := s.registry.ExecuteTask(c.Request().Context(), taskType, req.Params)
	return respond(map[string]any(result))
}
