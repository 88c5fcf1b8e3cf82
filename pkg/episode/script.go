// Package episode holds the episode script model and the compiler that
// turns an episode into an executable pipeline.
package episode

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DialogueLine is one spoken line within a scene.
type DialogueLine struct {
	Character string `json:"character"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Emotion   string `json:"emotion,omitempty"`
}

// Scene is one shot of the episode: a visual description plus optional
// dialogue. VisualPrompt, when set, overrides Description as the image
// generation prompt.
type Scene struct {
	Description     string         `json:"description"`
	VisualPrompt    string         `json:"visual_prompt,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	Dialogue        []DialogueLine `json:"dialogue,omitempty"`
	CameraMotion    string         `json:"camera_motion,omitempty"`
}

// Prompt returns the image-generation prompt: the visual prompt when
// authored, the scene description otherwise.
func (s Scene) Prompt() string {
	if strings.TrimSpace(s.VisualPrompt) != "" {
		return s.VisualPrompt
	}
	return s.Description
}

// DialogueVoice returns the first per-line voice override, or "" when every
// line uses the episode default.
func (s Scene) DialogueVoice() string {
	for _, d := range s.Dialogue {
		if d.Voice != "" {
			return d.Voice
		}
	}
	return ""
}

// HasDialogue reports whether the scene has at least one non-empty line.
func (s Scene) HasDialogue() bool {
	for _, d := range s.Dialogue {
		if strings.TrimSpace(d.Text) != "" {
			return true
		}
	}
	return false
}

// DialogueText joins the scene's lines into one narration string.
func (s Scene) DialogueText() string {
	parts := make([]string, 0, len(s.Dialogue))
	for _, d := range s.Dialogue {
		if t := strings.TrimSpace(d.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Script is the authored content of an episode.
type Script struct {
	Style  string  `json:"style,omitempty"`
	Scenes []Scene `json:"scenes"`
}

// ParseScript decodes and sanity-checks a script document.
func ParseScript(raw []byte) (*Script, error) {
	var s Script
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid script JSON: %w", err)
	}
	if len(s.Scenes) == 0 {
		return nil, fmt.Errorf("script has no scenes")
	}
	for i, scene := range s.Scenes {
		if strings.TrimSpace(scene.Prompt()) == "" {
			return nil, fmt.Errorf("scene %d has no description", i)
		}
	}
	return &s, nil
}

// GenerationSettings tunes how an episode compiles into a pipeline.
// Quality "draft" trades fidelity for speed: no controlnet, no upscale.
type GenerationSettings struct {
	ImageModel      string  `json:"image_model,omitempty"`
	VideoModel      string  `json:"video_model,omitempty"`
	Quality         string  `json:"quality,omitempty"`
	UseControlnet   *bool   `json:"use_controlnet,omitempty"`
	ControlnetType  string  `json:"controlnet_type,omitempty"`
	ControlnetScale float64 `json:"controlnet_scale,omitempty"`
	Voice           string  `json:"voice,omitempty"`
	ColorGrade      string  `json:"color_grade,omitempty"`
	ExportPlatform  string  `json:"export_platform,omitempty"`
}

// withDefaults fills unset fields.
func (g GenerationSettings) withDefaults() GenerationSettings {
	if g.ImageModel == "" {
		g.ImageModel = "flux-schnell"
	}
	if g.VideoModel == "" {
		g.VideoModel = "ltx-video"
	}
	if g.Quality == "" {
		g.Quality = "standard"
	}
	if g.ControlnetType == "" {
		g.ControlnetType = "pose"
	}
	if g.ControlnetScale == 0 {
		g.ControlnetScale = 0.8
	}
	if g.Voice == "" {
		g.Voice = "en-US-AriaNeural"
	}
	return g
}

// controlnetEnabled decides whether scene videos go through controlnet:
// disabled for draft quality and when explicitly turned off.
func (g GenerationSettings) controlnetEnabled() bool {
	if g.Quality == "draft" {
		return false
	}
	if g.UseControlnet != nil {
		return *g.UseControlnet
	}
	return true
}

// Episode is a stored episode: script plus generation state.
type Episode struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Synopsis   string             `json:"synopsis,omitempty"`
	Script     Script             `json:"script"`
	Settings   GenerationSettings `json:"settings"`
	Status     string             `json:"status"`
	Progress   float64            `json:"progress"`
	OutputPath string             `json:"output_path,omitempty"`
	CreatedAt  int64              `json:"created_at"`
	UpdatedAt  int64              `json:"updated_at"`
}

// Episode statuses.
const (
	StatusDraft      = "draft"
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)
