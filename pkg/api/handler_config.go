package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/opencli/daemon/pkg/config"
)

// getConfigHandler handles GET /api/v1/config. Secrets are masked; the raw
// file never leaves the daemon.
func (s *Server) getConfigHandler(c *echo.Context) error {
	cfg, err := s.cfg.LoadRaw()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load config")
	}
	return c.JSON(http.StatusOK, config.MaskSecrets(cfg))
}

// updateConfigHandler handles POST /api/v1/config: deep-merge the request
// body into the stored config and persist.
func (s *Server) updateConfigHandler(c *echo.Context) error {
	var updates map[string]any
	if err := c.Bind(&updates); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid config payload")
	}
	merged, err := s.cfg.Merge(updates)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save config")
	}
	return c.JSON(http.StatusOK, config.MaskSecrets(merged))
}
