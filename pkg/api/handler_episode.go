package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/opencli/daemon/pkg/episode"
	"github.com/opencli/daemon/pkg/pipeline"
	"github.com/opencli/daemon/pkg/store"
)

// episodeRun tracks one in-flight (or most recent) generation run for an
// episode.
type episodeRun struct {
	mu         sync.Mutex
	pipelineID string
	status     string
	progress   int
	nodeStatus map[string]pipeline.NodeStatus
	assets     []string
	startedAt  time.Time
}

func (r *episodeRun) snapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		"pipeline_id":   r.pipelineID,
		"status":        r.status,
		"progress":      r.progress,
		"node_statuses": r.nodeStatus,
	}
}

func (s *Server) listEpisodesHandler(c *echo.Context) error {
	episodes, err := s.store.ListEpisodes(c.Request().Context())
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"episodes": episodes})
}

func (s *Server) createEpisodeHandler(c *echo.Context) error {
	var ep episode.Episode
	if err := c.Bind(&ep); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid episode payload")
	}
	if ep.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if err := s.store.SaveEpisode(c.Request().Context(), &ep); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &ep)
}

type fromScriptRequest struct {
	Title    string                     `json:"title"`
	Synopsis string                     `json:"synopsis"`
	Script   json.RawMessage            `json:"script"`
	Settings episode.GenerationSettings `json:"settings"`
}

// createEpisodeFromScriptHandler handles POST /api/v1/episodes/from-script:
// parse and validate a raw script document into a new episode.
func (s *Server) createEpisodeFromScriptHandler(c *echo.Context) error {
	var req fromScriptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request payload")
	}
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	script, err := episode.ParseScript(req.Script)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ep := &episode.Episode{
		ID:       uuid.New().String(),
		Title:    req.Title,
		Synopsis: req.Synopsis,
		Script:   *script,
		Settings: req.Settings,
	}
	if err := s.store.SaveEpisode(c.Request().Context(), ep); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, ep)
}

func (s *Server) getEpisodeHandler(c *echo.Context) error {
	ep, err := s.store.GetEpisode(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, ep)
}

func (s *Server) deleteEpisodeHandler(c *echo.Context) error {
	id := c.Param("id")
	if err := s.store.DeleteEpisode(c.Request().Context(), id); err != nil {
		return mapStoreError(err)
	}
	s.runsMu.Lock()
	delete(s.runs, id)
	s.runsMu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{"deleted": true})
}

// buildEpisodePipelineHandler handles POST /api/v1/episodes/:id/build-pipeline:
// compile without running, so the UI can inspect or edit the graph.
func (s *Server) buildEpisodePipelineHandler(c *echo.Context) error {
	ep, err := s.store.GetEpisode(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}
	def, err := episode.BuildPipeline(ep)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.SavePipeline(c.Request().Context(), def); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, def)
}

// generateEpisodeHandler handles POST /api/v1/episodes/:id/generate: compile
// the episode and run it in the background, streaming progress over
// WebSocket.
func (s *Server) generateEpisodeHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	ep, err := s.store.GetEpisode(ctx, c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}

	// Settings in the request body override the stored ones for this run.
	if c.Request().ContentLength > 0 {
		var override episode.GenerationSettings
		if err := c.Bind(&override); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid settings payload")
		}
		ep.Settings = override
		if err := s.store.SaveEpisode(ctx, ep); err != nil {
			return mapStoreError(err)
		}
	}

	def, err := episode.BuildPipeline(ep)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.SavePipeline(ctx, def); err != nil {
		return mapStoreError(err)
	}

	s.runsMu.Lock()
	if run, ok := s.runs[ep.ID]; ok {
		run.mu.Lock()
		active := run.status == episode.StatusGenerating
		run.mu.Unlock()
		if active {
			s.runsMu.Unlock()
			return echo.NewHTTPError(http.StatusConflict, "generation already in progress")
		}
	}
	run := &episodeRun{
		pipelineID: def.ID,
		status:     episode.StatusGenerating,
		nodeStatus: map[string]pipeline.NodeStatus{},
		startedAt:  time.Now(),
	}
	s.runs[ep.ID] = run
	s.runsMu.Unlock()

	if err := s.store.UpdateEpisodeState(ctx, ep.ID, episode.StatusGenerating, 0, ""); err != nil {
		s.logger.Warn("failed to mark episode generating", "episode_id", ep.ID, "error", err)
	}

	go s.runGeneration(ep, def, run)

	return c.JSON(http.StatusAccepted, map[string]any{
		"status":      episode.StatusGenerating,
		"episode_id":  ep.ID,
		"pipeline_id": def.ID,
	})
}

// runGeneration executes one episode pipeline to completion. Runs on its own
// goroutine with the daemon's lifetime as context.
func (s *Server) runGeneration(ep *episode.Episode, def *pipeline.Definition, run *episodeRun) {
	ctx := context.Background()

	res := s.executor.Execute(ctx, def, pipeline.Options{
		OnProgress: func(update pipeline.ProgressUpdate) {
			run.mu.Lock()
			run.progress = update.Progress
			if update.NodeID != "" {
				run.nodeStatus[update.NodeID] = update.NodeStatus
			}
			run.mu.Unlock()

			s.sessions.Broadcast(map[string]any{
				"type":        "episode_progress",
				"episode_id":  ep.ID,
				"pipeline_id": update.PipelineID,
				"node_id":     update.NodeID,
				"node_status": update.NodeStatus,
				"progress":    update.Progress,
			})
			if err := s.store.UpdateEpisodeState(ctx, ep.ID, episode.StatusGenerating, float64(update.Progress), ""); err != nil {
				s.logger.Warn("failed to update episode progress", "episode_id", ep.ID, "error", err)
			}
		},
		Cancelled: func() bool { return s.sessions.IsCancelled(def.ID) },
	})
	s.sessions.ClearCancelled(def.ID)
	s.recordRun(def.ID, "episode_generation", map[string]any{"episode_id": ep.ID}, res)

	status := episode.StatusCompleted
	switch {
	case res.Error == "Cancelled":
		status = episode.StatusCancelled
	case !res.Success:
		status = episode.StatusFailed
	}
	outputPath := finalOutputPath(res)
	assets := collectAssets(res)

	run.mu.Lock()
	run.status = status
	run.progress = 100
	run.assets = assets
	run.mu.Unlock()

	progress := float64(100)
	if status != episode.StatusCompleted {
		progress = 0
	}
	if err := s.store.UpdateEpisodeState(ctx, ep.ID, status, progress, outputPath); err != nil {
		s.logger.Warn("failed to update episode state", "episode_id", ep.ID, "error", err)
	}

	s.sessions.Broadcast(map[string]any{
		"type":        "episode_complete",
		"episode_id":  ep.ID,
		"pipeline_id": def.ID,
		"status":      status,
		"error":       res.Error,
		"output_path": outputPath,
	})
	s.logger.Info("episode generation finished",
		"episode_id", ep.ID, "status", status, "duration_ms", res.DurationMS)
}

// finalOutputPath picks the deliverable from the post chain, preferring the
// latest stage that ran.
func finalOutputPath(res *pipeline.RunResult) string {
	for _, node := range []string{"post_encode", "post_colorgrade", "post_upscale", "post_concat"} {
		if nodeRes, ok := res.NodeResults[node]; ok {
			if p, ok := nodeRes["output_path"].(string); ok && p != "" {
				return p
			}
		}
	}
	return ""
}

// collectAssets gathers every file path produced by the run.
func collectAssets(res *pipeline.RunResult) []string {
	seen := map[string]bool{}
	var assets []string
	for _, nodeRes := range res.NodeResults {
		for _, key := range []string{"image_path", "video_path", "audio_path", "output_path"} {
			if p, ok := nodeRes[key].(string); ok && p != "" && !seen[p] {
				seen[p] = true
				assets = append(assets, p)
			}
		}
	}
	sort.Strings(assets)
	return assets
}

// cancelEpisodeHandler handles POST /api/v1/episodes/:id/cancel. Idempotent;
// the running pipeline observes the flag between waves.
func (s *Server) cancelEpisodeHandler(c *echo.Context) error {
	id := c.Param("id")

	pipelineID := episode.PipelineID(id)
	s.runsMu.Lock()
	if run, ok := s.runs[id]; ok {
		pipelineID = run.pipelineID
	}
	s.runsMu.Unlock()

	s.sessions.MarkCancelled(pipelineID)
	return c.JSON(http.StatusOK, map[string]any{"cancelled": true, "pipeline_id": pipelineID})
}

func (s *Server) episodeProgressHandler(c *echo.Context) error {
	id := c.Param("id")

	s.runsMu.Lock()
	run, ok := s.runs[id]
	s.runsMu.Unlock()
	if ok {
		return c.JSON(http.StatusOK, run.snapshot())
	}

	ep, err := s.store.GetEpisode(c.Request().Context(), id)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":   ep.Status,
		"progress": ep.Progress,
	})
}

func (s *Server) episodeAssetsHandler(c *echo.Context) error {
	id := c.Param("id")
	ep, err := s.store.GetEpisode(c.Request().Context(), id)
	if err != nil {
		return mapStoreError(err)
	}

	assets := []string{}
	s.runsMu.Lock()
	if run, ok := s.runs[id]; ok {
		run.mu.Lock()
		assets = append(assets, run.assets...)
		run.mu.Unlock()
	}
	s.runsMu.Unlock()

	return c.JSON(http.StatusOK, map[string]any{
		"episode_id":  id,
		"output_path": ep.OutputPath,
		"assets":      assets,
	})
}

func (s *Server) listCharactersHandler(c *echo.Context) error {
	chars, err := s.store.ListCharacters(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"characters": chars})
}

func (s *Server) saveCharacterHandler(c *echo.Context) error {
	var ref store.CharacterReference
	if err := c.Bind(&ref); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid character payload")
	}
	if ref.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	ref.EpisodeID = c.Param("id")
	if ref.ID == "" {
		ref.ID = uuid.New().String()
	}
	if err := s.store.SaveCharacter(c.Request().Context(), &ref); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &ref)
}

func (s *Server) deleteCharacterHandler(c *echo.Context) error {
	if err := s.store.DeleteCharacter(c.Request().Context(), c.Param("charId")); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": true})
}
