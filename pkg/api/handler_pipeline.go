package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/opencli/daemon/pkg/domain"
	"github.com/opencli/daemon/pkg/pipeline"
	"github.com/opencli/daemon/pkg/store"
)

func (s *Server) listPipelinesHandler(c *echo.Context) error {
	summaries, err := s.store.ListPipelines(c.Request().Context())
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"pipelines": summaries})
}

// savePipelineHandler handles POST /api/v1/pipelines: schema-validate, then
// create or overwrite.
func (s *Server) savePipelineHandler(c *echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	def, err := pipeline.ParseDefinition(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if def.ID == "" {
		def.ID = fmt.Sprintf("pipeline_%d", time.Now().UnixMilli())
	}
	if err := def.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.SavePipeline(c.Request().Context(), def); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, def)
}

// updatePipelineHandler handles PUT /api/v1/pipelines/:id; the path id wins
// over any id in the body.
func (s *Server) updatePipelineHandler(c *echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	def, err := pipeline.ParseDefinition(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	def.ID = c.Param("id")
	if err := def.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.SavePipeline(c.Request().Context(), def); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, def)
}

func (s *Server) getPipelineHandler(c *echo.Context) error {
	def, err := s.store.GetPipeline(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, def)
}

func (s *Server) deletePipelineHandler(c *echo.Context) error {
	if err := s.store.DeletePipeline(c.Request().Context(), c.Param("id")); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": true})
}

type runPipelineRequest struct {
	Parameters      map[string]any            `json:"parameters"`
	LegacyParams    map[string]any            `json:"params"`
	PreviousResults map[string]map[string]any `json:"previous_results"`
	MaxParallel     int                       `json:"max_parallel"`
}

// overrides returns the run parameter overrides, accepting the older
// "params" key when "parameters" is absent.
func (r runPipelineRequest) overrides() map[string]any {
	if r.Parameters != nil {
		return r.Parameters
	}
	return r.LegacyParams
}

// runPipelineHandler handles POST /api/v1/pipelines/:id/run. The run is
// synchronous; progress streams to WebSocket clients while it executes.
func (s *Server) runPipelineHandler(c *echo.Context) error {
	return s.runPipeline(c, "")
}

// runPipelineFromHandler handles POST /api/v1/pipelines/:id/run-from/:nodeId
// for partial re-execution.
func (s *Server) runPipelineFromHandler(c *echo.Context) error {
	return s.runPipeline(c, c.Param("nodeId"))
}

func (s *Server) runPipeline(c *echo.Context, startFrom string) error {
	ctx := c.Request().Context()
	def, err := s.store.GetPipeline(ctx, c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}

	var req runPipelineRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid run request")
		}
	}

	res := s.executor.Execute(ctx, def, pipeline.Options{
		Params:          req.overrides(),
		StartFrom:       startFrom,
		PreviousResults: toResults(req.PreviousResults),
		MaxParallel:     req.MaxParallel,
		OnProgress:      s.broadcastProgress,
		Cancelled:       func() bool { return s.sessions.IsCancelled(def.ID) },
	})
	s.sessions.ClearCancelled(def.ID)
	s.recordRun(def.ID, "pipeline", req.overrides(), res)

	return c.JSON(http.StatusOK, res)
}

// nodeCatalogHandler handles GET /api/v1/nodes/catalog: every
// registered task type with its card rendering hints, grouped by domain.
func (s *Server) nodeCatalogHandler(c *echo.Context) error {
	domains := make([]map[string]any, 0)
	for _, d := range s.registry.Domains() {
		domains = append(domains, map[string]any{
			"id":              d.ID(),
			"name":            d.Name(),
			"description":     d.Description(),
			"task_types":      d.TaskTypes(),
			"display_configs": d.DisplayConfigs(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"domains": domains})
}

func (s *Server) broadcastProgress(update pipeline.ProgressUpdate) {
	payload := map[string]any{
		"type":        "pipeline_progress",
		"pipeline_id": update.PipelineID,
		"node_id":     update.NodeID,
		"node_status": update.NodeStatus,
		"progress":    update.Progress,
	}
	if update.Data != nil {
		payload["data"] = update.Data
	}
	s.sessions.Broadcast(payload)
}

// recordRun appends the run to generation history; failures only log.
func (s *Server) recordRun(pipelineID, taskType string, params map[string]any, res *pipeline.RunResult) {
	rec := store.GenerationRecord{
		PipelineID: pipelineID,
		TaskType:   taskType,
		Params:     params,
		Result: map[string]any{
			"success":       res.Success,
			"error":         res.Error,
			"failed_nodes":  res.FailedNodes,
			"skipped_nodes": res.SkippedNodes,
		},
		Success:    res.Success,
		DurationMS: res.DurationMS,
	}
	if _, err := s.store.RecordGeneration(context.Background(), rec); err != nil {
		s.logger.Warn("failed to record generation", "pipeline_id", pipelineID, "error", err)
	}
}

func toResults(in map[string]map[string]any) map[string]domain.Result {
	if in == nil {
		return nil
	}
	out := make(map[string]domain.Result, len(in))
	for k, v := range in {
		out[k] = domain.Result(v)
	}
	return out
}
