// Package media implements AI image/video generation, TTS, and ffmpeg
// post-production tasks. Generation runs on the local inference worker when
// its environment is set up, falling back to the remote GPU server.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencli/daemon/pkg/config"
	"github.com/opencli/daemon/pkg/domain"
	"github.com/opencli/daemon/pkg/inference"
)

// CommandRunner executes an external command and returns its stdout and
// stderr. A non-zero exit is reported as an error. Injected so tests run
// without ffmpeg or edge-tts installed.
type CommandRunner func(ctx context.Context, timeout time.Duration, name string, args ...string) (stdout, stderr string, err error)

// Domain handles media_* task types.
type Domain struct {
	logger    *slog.Logger
	local     inference.Runner
	remote    inference.Runner
	run       CommandRunner
	outputDir string
	// setting resolves a dot-path config key, e.g. API keys.
	setting    func(path, fallback string) string
	elevenBase string
}

// New wires the media domain against the real inference backends, ffmpeg,
// and config store.
func New(cfg *config.Manager, logger *slog.Logger) *Domain {
	setting := func(path, fallback string) string {
		loaded, err := cfg.Load()
		if err != nil {
			return fallback
		}
		return config.GetString(loaded, path, fallback)
	}
	remote := inference.NewRemote(func() string {
		return setting("inference.remote_url", "")
	})
	log := logger.With("component", "domain.media")
	local := inference.NewLocal(inference.DefaultLocalDir(filepath.Dir(cfg.Dir())), logger, nil)

	return &Domain{
		logger:     log,
		local:      local,
		remote:     remote,
		run:        runCommand,
		outputDir:  filepath.Join(cfg.Dir(), "output"),
		setting:    setting,
		elevenBase: "https://api.elevenlabs.io",
	}
}

// Deps collects injectable collaborators for tests.
type Deps struct {
	Local      inference.Runner
	Remote     inference.Runner
	Run        CommandRunner
	OutputDir  string
	Setting    func(path, fallback string) string
	ElevenBase string
}

// NewWithDeps builds a domain from explicit collaborators; used by tests.
func NewWithDeps(deps Deps, logger *slog.Logger) *Domain {
	setting := deps.Setting
	if setting == nil {
		setting = func(_, fallback string) string { return fallback }
	}
	return &Domain{
		logger:     logger.With("component", "domain.media"),
		local:      deps.Local,
		remote:     deps.Remote,
		run:        deps.Run,
		outputDir:  deps.OutputDir,
		setting:    setting,
		elevenBase: deps.ElevenBase,
	}
}

func (d *Domain) ID() string   { return "media_creation" }
func (d *Domain) Name() string { return "Media Creation" }
func (d *Domain) Description() string {
	return "AI image/video generation, TTS, ffmpeg effects, subtitles, assembly"
}

func (d *Domain) TaskTypes() []string {
	return []string{
		"media_local_generate_image",
		"media_local_generate_video",
		"media_local_controlnet_video",
		"media_local_style_transfer",
		"media_local_extract_control",
		"media_upscale_video",
		"media_interpolate_video",
		"media_tts_synthesize",
		"media_tts_list_voices",
		"media_audio_mix",
		"media_subtitle_overlay",
		"media_scene_assembly",
		"media_video_assembly",
		"media_animate_photo",
		"media_color_grade",
	}
}

func (d *Domain) DisplayConfigs() map[string]domain.DisplayConfig {
	return map[string]domain.DisplayConfig{
		"media_local_generate_image": {
			CardType: "media", TitleTemplate: "AI Image",
			Icon: "brush", Color: "#7C4DFF",
		},
		"media_local_generate_video": {
			CardType: "media", TitleTemplate: "AI Video",
			Icon: "movie_creation", Color: "#7C4DFF",
		},
		"media_local_controlnet_video": {
			CardType: "media", TitleTemplate: "ControlNet Video",
			Icon: "movie_filter", Color: "#7C4DFF",
		},
		"media_tts_synthesize": {
			CardType: "media", TitleTemplate: "TTS",
			Icon: "record_voice_over", Color: "#7C4DFF",
		},
		"media_animate_photo": {
			CardType: "media", TitleTemplate: "Photo Animation",
			Icon: "animation", Color: "#7C4DFF",
		},
		"media_video_assembly": {
			CardType: "media", TitleTemplate: "Video Assembly",
			Icon: "video_library", Color: "#7C4DFF",
		},
		"media_color_grade": {
			CardType: "media", TitleTemplate: "Color Grade",
			Icon: "palette", Color: "#7C4DFF",
		},
	}
}

func (d *Domain) Execute(ctx context.Context, taskType string, data map[string]any) domain.Result {
	return d.ExecuteWithProgress(ctx, taskType, data, nil)
}

func (d *Domain) ExecuteWithProgress(ctx context.Context, taskType string, data map[string]any, onProgress domain.ProgressFunc) domain.Result {
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return mediaError(err.Error())
	}

	switch taskType {
	case "media_local_generate_image",
		"media_local_generate_video",
		"media_local_controlnet_video",
		"media_local_style_transfer",
		"media_local_extract_control",
		"media_upscale_video",
		"media_interpolate_video":
		return d.generate(ctx, taskType, data, onProgress)

	case "media_tts_synthesize":
		return d.ttsSynthesize(ctx, data)
	case "media_tts_list_voices":
		return d.ttsListVoices(ctx)

	case "media_audio_mix":
		return d.audioMix(ctx, data)
	case "media_subtitle_overlay":
		return d.subtitleOverlay(ctx, data)
	case "media_scene_assembly":
		return d.sceneAssembly(ctx, data)
	case "media_video_assembly":
		return d.videoAssembly(ctx, data)
	case "media_animate_photo":
		return d.animatePhoto(ctx, data, onProgress)
	case "media_color_grade":
		return d.colorGrade(ctx, data)
	}
	return domain.Failf("Unknown task: %s", taskType)
}

func mediaError(msg string) domain.Result {
	return domain.Result{"success": false, "error": msg, "domain": "media_creation"}
}

// outputFile returns a timestamped path under the output directory.
func (d *Domain) outputFile(prefix, ext string) string {
	return filepath.Join(d.outputDir, fmt.Sprintf("%s_%d.%s", prefix, time.Now().UnixMilli(), ext))
}

func stringField(data map[string]any, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func floatField(data map[string]any, key string, fallback float64) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("%s timed out after %s", name, timeout)
	}
	return stdout.String(), stderr.String(), err
}
