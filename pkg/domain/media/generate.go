package media

import (
	"context"

	"github.com/opencli/daemon/pkg/domain"
	"github.com/opencli/daemon/pkg/inference"
)

// backend picks the inference runner for this call: local when its
// environment is set up, otherwise the remote GPU server. When neither is
// reachable the local runner still handles the call so the caller gets its
// setup guidance as the error.
func (d *Domain) backend(ctx context.Context) inference.Runner {
	if d.local != nil && d.local.Available(ctx) {
		return d.local
	}
	if d.remote != nil && d.remote.Available(ctx) {
		return d.remote
	}
	return d.local
}

func (d *Domain) generate(ctx context.Context, taskType string, data map[string]any, onProgress domain.ProgressFunc) domain.Result {
	action, params := inferenceRequest(taskType, data)

	if onProgress != nil {
		onProgress(map[string]any{"progress": 10, "status_message": "Starting " + action + "..."})
	}
	backend := d.backend(ctx)
	if backend == nil {
		return mediaError("No inference backend configured")
	}
	res := backend.Run(ctx, action, params)

	out := domain.Result{"domain": "media_creation", "card_type": "media"}
	for k, v := range res {
		out[k] = v
	}
	// Post-production templates reference output_path uniformly.
	if _, ok := out["output_path"]; !ok {
		if vp, ok := out["video_path"].(string); ok {
			out["output_path"] = vp
		}
	}
	return out
}

// inferenceRequest maps a task type and its data onto the worker protocol's
// action name and parameters.
func inferenceRequest(taskType string, data map[string]any) (string, map[string]any) {
	params := make(map[string]any, len(data)+4)
	for k, v := range data {
		params[k] = v
	}

	switch taskType {
	case "media_local_generate_image":
		setDefault(params, "model", "animagine_xl")
		setDefault(params, "width", 1024)
		setDefault(params, "height", 1024)
		setDefault(params, "steps", 25)
		return "generate_image", params

	case "media_local_generate_video":
		renameKey(params, "image", "image_path")
		setDefault(params, "model", "animatediff_v3")
		setDefault(params, "frames", 16)
		if params["model"] == "animatediff_v3" {
			return "generate_video_v3", params
		}
		return "generate_video", params

	case "media_local_controlnet_video":
		renameKey(params, "image", "image_path")
		renameKey(params, "controlnet_type", "control_type")
		setDefault(params, "control_type", "lineart_anime")
		return "generate_controlnet_video", params

	case "media_local_style_transfer":
		setDefault(params, "model", "animegan_v3")
		return "style_transfer", params

	case "media_local_extract_control":
		setDefault(params, "control_type", "lineart_anime")
		return "extract_control", params

	case "media_upscale_video":
		renameKey(params, "video", "video_path")
		setDefault(params, "scale", 2)
		return "upscale_video", params

	case "media_interpolate_video":
		renameKey(params, "video", "video_path")
		return "interpolate_video", params
	}
	return taskType, params
}

func setDefault(params map[string]any, key string, value any) {
	if _, ok := params[key]; !ok {
		params[key] = value
	}
}

// renameKey moves from-key data under the worker's canonical key, keeping an
// existing canonical value.
func renameKey(params map[string]any, from, to string) {
	if v, ok := params[from]; ok {
		if _, exists := params[to]; !exists {
			params[to] = v
		}
		delete(params, from)
	}
}
