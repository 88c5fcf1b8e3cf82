package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// filesHandler handles GET /api/v1/files/*: serve generated artifacts from
// the daemon's data directory. The resolved path must stay inside the root
// even through symlinks.
func (s *Server) filesHandler(c *echo.Context) error {
	rel := c.Param("*")
	if rel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file path is required")
	}

	root, err := filepath.EvalSymlinks(s.cfg.Dir())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "data directory unavailable")
	}

	candidate := filepath.Join(root, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve path")
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return echo.NewHTTPError(http.StatusForbidden, "path outside data directory")
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	return c.File(resolved)
}
