package episode

import (
	"fmt"

	"github.com/opencli/daemon/pkg/pipeline"
)

// BuildPipeline compiles an episode into an executable pipeline.
//
// Per scene i:
//
//	scene_i_keyframe ──> scene_i_video ─┐
//	scene_i_tts (when dialogue) ────────┴─> assembly_i
//
// followed by a post chain over all assemblies:
//
//	post_concat -> post_upscale (non-draft) -> post_colorgrade (when
//	configured) -> post_encode (when an export platform is configured)
//
// The pipeline id is derived from the episode id, so rebuilding the same
// episode overwrites its previous pipeline instead of piling up copies.
func BuildPipeline(ep *Episode) (*pipeline.Definition, error) {
	if len(ep.Script.Scenes) == 0 {
		return nil, fmt.Errorf("episode %s has no scenes", ep.ID)
	}
	settings := ep.Settings.withDefaults()

	def := &pipeline.Definition{
		ID:          PipelineID(ep.ID),
		Name:        "Episode: " + ep.Title,
		Description: ep.Synopsis,
	}

	addNode := func(id, taskType, name string, params map[string]any, col, row int) {
		def.Nodes = append(def.Nodes, pipeline.Node{
			ID:       id,
			Type:     taskType,
			Name:     name,
			Params:   params,
			Position: &pipeline.Position{X: float64(col * 260), Y: float64(row * 180)},
		})
	}
	addEdge := func(source, target string) {
		def.Edges = append(def.Edges, pipeline.Edge{Source: source, Target: target})
	}

	assemblies := make([]string, 0, len(ep.Script.Scenes))
	for i, scene := range ep.Script.Scenes {
		keyframe := fmt.Sprintf("scene_%d_keyframe", i)
		video := fmt.Sprintf("scene_%d_video", i)
		tts := fmt.Sprintf("scene_%d_tts", i)
		assembly := fmt.Sprintf("assembly_%d", i)

		prompt := scene.Prompt()
		if ep.Script.Style != "" {
			prompt = prompt + ", " + ep.Script.Style
		}
		// Draft keyframes render low-res for speed.
		width, height := 1280, 720
		if settings.Quality == "draft" {
			width, height = 512, 288
		}
		addNode(keyframe, "media_local_generate_image", fmt.Sprintf("Scene %d keyframe", i+1), map[string]any{
			"prompt": prompt,
			"model":  settings.ImageModel,
			"width":  width,
			"height": height,
		}, 0, i)

		if settings.controlnetEnabled() {
			addNode(video, "media_local_controlnet_video", fmt.Sprintf("Scene %d video", i+1), map[string]any{
				"image":            "{{" + keyframe + ".image_path}}",
				"prompt":           prompt,
				"model":            settings.VideoModel,
				"controlnet_type":  settings.ControlnetType,
				"controlnet_scale": settings.ControlnetScale,
				"camera_motion":    scene.CameraMotion,
				"duration":         sceneDuration(scene),
			}, 1, i)
		} else {
			addNode(video, "media_local_generate_video", fmt.Sprintf("Scene %d video", i+1), map[string]any{
				"image":    "{{" + keyframe + ".image_path}}",
				"prompt":   prompt,
				"model":    settings.VideoModel,
				"duration": sceneDuration(scene),
			}, 1, i)
		}
		addEdge(keyframe, video)

		assemblyParams := map[string]any{
			"video": "{{" + video + ".video_path}}",
		}
		if scene.HasDialogue() {
			voice := scene.DialogueVoice()
			if voice == "" {
				voice = settings.Voice
			}
			addNode(tts, "media_tts_synthesize", fmt.Sprintf("Scene %d narration", i+1), map[string]any{
				"text":     scene.DialogueText(),
				"voice":    voice,
				"provider": "edge_tts",
			}, 0, i)
			addEdge(tts, assembly)
			assemblyParams["audio"] = "{{" + tts + ".audio_path}}"
		}
		addNode(assembly, "media_scene_assembly", fmt.Sprintf("Scene %d assembly", i+1), assemblyParams, 2, i)
		addEdge(video, assembly)
		assemblies = append(assemblies, assembly)
	}

	clips := make([]any, len(assemblies))
	for i, a := range assemblies {
		clips[i] = "{{" + a + ".output_path}}"
	}
	addNode("post_concat", "media_video_assembly", "Concatenate scenes", map[string]any{
		"clips": clips,
	}, 3, 0)
	for _, a := range assemblies {
		addEdge(a, "post_concat")
	}

	tail := "post_concat"
	column := 4
	if settings.Quality != "draft" {
		addNode("post_upscale", "media_upscale_video", "Upscale", map[string]any{
			"video": "{{" + tail + ".output_path}}",
			"scale": 2,
		}, column, 0)
		addEdge(tail, "post_upscale")
		tail = "post_upscale"
		column++
	}
	if settings.ColorGrade != "" {
		addNode("post_colorgrade", "media_color_grade", "Color grade", map[string]any{
			"video": "{{" + tail + ".output_path}}",
			"grade": settings.ColorGrade,
		}, column, 0)
		addEdge(tail, "post_colorgrade")
		tail = "post_colorgrade"
		column++
	}
	if settings.ExportPlatform != "" {
		addNode("post_encode", "files_convert", "Export encode", map[string]any{
			"input":  "{{" + tail + ".output_path}}",
			"format": "mp4",
			"preset": settings.ExportPlatform,
		}, column, 0)
		addEdge(tail, "post_encode")
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("compiled pipeline invalid: %w", err)
	}
	return def, nil
}

// PipelineID returns the stable pipeline id for an episode.
func PipelineID(episodeID string) string {
	short := episodeID
	if len(short) > 8 {
		short = short[:8]
	}
	return "ep_" + short
}

func sceneDuration(s Scene) float64 {
	if s.DurationSeconds > 0 {
		return s.DurationSeconds
	}
	return 5
}
