package episode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencli/daemon/pkg/pipeline"
)

func boolPtr(b bool) *bool { return &b }

func twoSceneEpisode() *Episode {
	return &Episode{
		ID:    "3f2b9c71-aaaa-bbbb-cccc-ddddeeeeffff",
		Title: "Pilot",
		Script: Script{
			Style: "watercolor",
			Scenes: []Scene{
				{
					Description: "A fox wakes up in a misty forest",
					Dialogue:    []DialogueLine{{Character: "Fox", Text: "Where am I?"}},
				},
				{Description: "The fox crosses a river at dawn"},
			},
		},
	}
}

func nodeByID(t *testing.T, def *pipeline.Definition, id string) *pipeline.Node {
	t.Helper()
	n, ok := def.NodeByID(id)
	require.True(t, ok, "missing node %s", id)
	return n
}

func hasEdge(def *pipeline.Definition, source, target string) bool {
	for _, e := range def.Edges {
		if e.Source == source && e.Target == target {
			return true
		}
	}
	return false
}

func TestBuildPipeline_SceneStructure(t *testing.T) {
	def, err := BuildPipeline(twoSceneEpisode())
	require.NoError(t, err)

	assert.Equal(t, "ep_3f2b9c71", def.ID)
	assert.Equal(t, "Episode: Pilot", def.Name)

	// Scene 0 has dialogue: keyframe -> video, tts and video -> assembly.
	kf := nodeByID(t, def, "scene_0_keyframe")
	assert.Equal(t, "media_local_generate_image", kf.Type)
	assert.Equal(t, "A fox wakes up in a misty forest, watercolor", kf.Params["prompt"])

	video := nodeByID(t, def, "scene_0_video")
	assert.Equal(t, "media_local_controlnet_video", video.Type)
	assert.Equal(t, "{{scene_0_keyframe.image_path}}", video.Params["image"])
	assert.True(t, hasEdge(def, "scene_0_keyframe", "scene_0_video"))

	// Standard quality renders full-resolution keyframes.
	assert.Equal(t, 1280, kf.Params["width"])
	assert.Equal(t, 720, kf.Params["height"])

	tts := nodeByID(t, def, "scene_0_tts")
	assert.Equal(t, "media_tts_synthesize", tts.Type)
	assert.Equal(t, "Where am I?", tts.Params["text"])
	assert.Equal(t, "edge_tts", tts.Params["provider"])
	// No per-line voice: the episode default applies.
	assert.Equal(t, "en-US-AriaNeural", tts.Params["voice"])

	asm := nodeByID(t, def, "assembly_0")
	assert.Equal(t, "{{scene_0_video.video_path}}", asm.Params["video"])
	assert.Equal(t, "{{scene_0_tts.audio_path}}", asm.Params["audio"])
	assert.True(t, hasEdge(def, "scene_0_video", "assembly_0"))
	assert.True(t, hasEdge(def, "scene_0_tts", "assembly_0"))

	// Scene 1 has no dialogue: no tts node, no audio param.
	_, ok := def.NodeByID("scene_1_tts")
	assert.False(t, ok)
	asm1 := nodeByID(t, def, "assembly_1")
	assert.NotContains(t, asm1.Params, "audio")

	// Both assemblies feed the concat node.
	assert.True(t, hasEdge(def, "assembly_0", "post_concat"))
	assert.True(t, hasEdge(def, "assembly_1", "post_concat"))
	concat := nodeByID(t, def, "post_concat")
	assert.Equal(t, []any{"{{assembly_0.output_path}}", "{{assembly_1.output_path}}"}, concat.Params["clips"])

	// Standard quality: upscale present, no grade/encode without config.
	assert.True(t, hasEdge(def, "post_concat", "post_upscale"))
	_, ok = def.NodeByID("post_colorgrade")
	assert.False(t, ok)
	_, ok = def.NodeByID("post_encode")
	assert.False(t, ok)
}

func TestBuildPipeline_DraftQuality(t *testing.T) {
	ep := twoSceneEpisode()
	ep.Settings.Quality = "draft"

	def, err := BuildPipeline(ep)
	require.NoError(t, err)

	// Draft: plain video generation, low-res keyframes, no upscale.
	assert.Equal(t, "media_local_generate_video", nodeByID(t, def, "scene_0_video").Type)
	kf := nodeByID(t, def, "scene_0_keyframe")
	assert.Equal(t, 512, kf.Params["width"])
	assert.Equal(t, 288, kf.Params["height"])
	_, ok := def.NodeByID("post_upscale")
	assert.False(t, ok)
}

func TestBuildPipeline_VisualPromptOverridesDescription(t *testing.T) {
	ep := twoSceneEpisode()
	ep.Script.Scenes[0].VisualPrompt = "extreme close-up of fox eyes, dew on fur"

	def, err := BuildPipeline(ep)
	require.NoError(t, err)

	kf := nodeByID(t, def, "scene_0_keyframe")
	assert.Equal(t, "extreme close-up of fox eyes, dew on fur, watercolor", kf.Params["prompt"])
	// Scene 1 has no visual prompt and keeps its description.
	kf1 := nodeByID(t, def, "scene_1_keyframe")
	assert.Equal(t, "The fox crosses a river at dawn, watercolor", kf1.Params["prompt"])
}

func TestBuildPipeline_PerLineVoice(t *testing.T) {
	ep := twoSceneEpisode()
	ep.Script.Scenes[0].Dialogue = []DialogueLine{
		{Character: "Fox", Text: "Where am I?"},
		{Character: "Owl", Text: "Lost, clearly.", Voice: "en-GB-RyanNeural"},
	}

	def, err := BuildPipeline(ep)
	require.NoError(t, err)

	// The first non-empty per-line voice wins over the episode default.
	tts := nodeByID(t, def, "scene_0_tts")
	assert.Equal(t, "en-GB-RyanNeural", tts.Params["voice"])
}

func TestBuildPipeline_ControlnetExplicitlyDisabled(t *testing.T) {
	ep := twoSceneEpisode()
	ep.Settings.UseControlnet = boolPtr(false)

	def, err := BuildPipeline(ep)
	require.NoError(t, err)
	assert.Equal(t, "media_local_generate_video", nodeByID(t, def, "scene_0_video").Type)
	// Non-draft quality keeps the upscale stage.
	_, ok := def.NodeByID("post_upscale")
	assert.True(t, ok)
}

func TestBuildPipeline_FullPostChain(t *testing.T) {
	ep := twoSceneEpisode()
	ep.Settings.ColorGrade = "cinematic"
	ep.Settings.ExportPlatform = "youtube"

	def, err := BuildPipeline(ep)
	require.NoError(t, err)

	assert.True(t, hasEdge(def, "post_concat", "post_upscale"))
	assert.True(t, hasEdge(def, "post_upscale", "post_colorgrade"))
	assert.True(t, hasEdge(def, "post_colorgrade", "post_encode"))

	grade := nodeByID(t, def, "post_colorgrade")
	assert.Equal(t, "cinematic", grade.Params["grade"])
	encode := nodeByID(t, def, "post_encode")
	assert.Equal(t, "files_convert", encode.Type)
	assert.Equal(t, "{{post_colorgrade.output_path}}", encode.Params["input"])
}

func TestBuildPipeline_StableID(t *testing.T) {
	ep := twoSceneEpisode()
	a, err := BuildPipeline(ep)
	require.NoError(t, err)
	b, err := BuildPipeline(ep)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	short := &Episode{ID: "abc", Title: "t", Script: Script{Scenes: []Scene{{Description: "d"}}}}
	def, err := BuildPipeline(short)
	require.NoError(t, err)
	assert.Equal(t, "ep_abc", def.ID)
}

func TestBuildPipeline_NoScenes(t *testing.T) {
	_, err := BuildPipeline(&Episode{ID: "x", Title: "empty"})
	assert.Error(t, err)
}

func TestParseScript(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		s, err := ParseScript([]byte(`{"style":"noir","scenes":[{"description":"alley","dialogue":[{"character":"A","text":"hi"}]}]}`))
		require.NoError(t, err)
		assert.Equal(t, "noir", s.Style)
		require.Len(t, s.Scenes, 1)
		assert.True(t, s.Scenes[0].HasDialogue())
	})
	t.Run("no scenes", func(t *testing.T) {
		_, err := ParseScript([]byte(`{"scenes":[]}`))
		assert.ErrorContains(t, err, "no scenes")
	})
	t.Run("scene without description", func(t *testing.T) {
		_, err := ParseScript([]byte(`{"scenes":[{"description":"  "}]}`))
		assert.ErrorContains(t, err, "scene 0")
	})
	t.Run("bad JSON", func(t *testing.T) {
		_, err := ParseScript([]byte(`{`))
		assert.Error(t, err)
	})
}
