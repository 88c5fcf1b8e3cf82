package database

import (
	"context"
	"time"
)

// Health pings the database with a short deadline and returns a summary map
// for the health endpoint.
func (c *Client) Health(ctx context.Context) map[string]any {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := map[string]any{
		"path": c.path,
	}
	if err := c.db.PingContext(pingCtx); err != nil {
		status["status"] = "unhealthy"
		status["error"] = err.Error()
		return status
	}
	status["status"] = "healthy"
	return status
}
