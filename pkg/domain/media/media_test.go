package media

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencli/daemon/pkg/inference"
)

// fakeBackend is an inference.Runner with canned availability and results.
type fakeBackend struct {
	available bool
	result    inference.Result
	actions   []string
	params    []map[string]any
}

func (f *fakeBackend) Available(context.Context) bool { return f.available }

func (f *fakeBackend) Run(_ context.Context, action string, params map[string]any) inference.Result {
	f.actions = append(f.actions, action)
	f.params = append(f.params, params)
	return f.result
}

// fakeCommands records external command invocations.
type fakeCommands struct {
	calls  [][]string
	stdout string
	err    error
}

func (f *fakeCommands) run(_ context.Context, _ time.Duration, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return "", "ffmpeg exploded", f.err
	}
	return f.stdout, "", nil
}

func (f *fakeCommands) lastCall() []string {
	return f.calls[len(f.calls)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDomain(t *testing.T, deps Deps) *Domain {
	t.Helper()
	if deps.OutputDir == "" {
		deps.OutputDir = t.TempDir()
	}
	if deps.Run == nil {
		deps.Run = (&fakeCommands{}).run
	}
	return NewWithDeps(deps, testLogger())
}

func TestGenerateImageDefaults(t *testing.T) {
	local := &fakeBackend{available: true, result: inference.Result{"success": true, "image_path": "/out/a.png"}}
	d := newTestDomain(t, Deps{Local: local})

	res := d.Execute(context.Background(), "media_local_generate_image", map[string]any{"prompt": "a fox"})
	require.Equal(t, true, res["success"], "result: %v", res)
	assert.Equal(t, "/out/a.png", res["image_path"])
	assert.Equal(t, "media", res["card_type"])

	require.Len(t, local.actions, 1)
	assert.Equal(t, "generate_image", local.actions[0])
	params := local.params[0]
	assert.Equal(t, "a fox", params["prompt"])
	assert.Equal(t, "animagine_xl", params["model"])
	assert.Equal(t, 1024, params["width"])
	assert.Equal(t, 25, params["steps"])
}

func TestGenerateFallsBackToRemote(t *testing.T) {
	local := &fakeBackend{available: false}
	remote := &fakeBackend{available: true, result: inference.Result{"success": true, "video_path": "/out/v.mp4"}}
	d := newTestDomain(t, Deps{Local: local, Remote: remote})

	res := d.Execute(context.Background(), "media_local_generate_video", map[string]any{"prompt": "x"})
	require.Equal(t, true, res["success"], "result: %v", res)
	assert.Empty(t, local.actions)
	require.Len(t, remote.actions, 1)
	assert.Equal(t, "generate_video_v3", remote.actions[0], "default model routes to the v3 action")
	// video_path is mirrored so downstream templates can use output_path.
	assert.Equal(t, "/out/v.mp4", res["output_path"])
}

func TestControlnetParamMapping(t *testing.T) {
	local := &fakeBackend{available: true, result: inference.Result{"success": true, "video_path": "/out/c.mp4"}}
	d := newTestDomain(t, Deps{Local: local})

	res := d.Execute(context.Background(), "media_local_controlnet_video", map[string]any{
		"image":           "/in/key.png",
		"prompt":          "a fox, watercolor",
		"controlnet_type": "pose",
	})
	require.Equal(t, true, res["success"], "result: %v", res)
	require.Len(t, local.actions, 1)
	assert.Equal(t, "generate_controlnet_video", local.actions[0])

	params := local.params[0]
	assert.Equal(t, "/in/key.png", params["image_path"])
	assert.Equal(t, "pose", params["control_type"])
	assert.NotContains(t, params, "image")
	assert.NotContains(t, params, "controlnet_type")
}

func TestUpscaleNormalizesOutputPath(t *testing.T) {
	local := &fakeBackend{available: true, result: inference.Result{"success": true, "video_path": "/out/up.mp4"}}
	d := newTestDomain(t, Deps{Local: local})

	res := d.Execute(context.Background(), "media_upscale_video", map[string]any{"video": "/in/v.mp4"})
	require.Equal(t, true, res["success"], "result: %v", res)
	assert.Equal(t, "upscale_video", local.actions[0])
	assert.Equal(t, "/in/v.mp4", local.params[0]["video_path"])
	assert.Equal(t, 2, local.params[0]["scale"])
	assert.Equal(t, "/out/up.mp4", res["output_path"])
}

func TestGenerateProgress(t *testing.T) {
	local := &fakeBackend{available: true, result: inference.Result{"success": true}}
	d := newTestDomain(t, Deps{Local: local})

	var updates []map[string]any
	d.ExecuteWithProgress(context.Background(), "media_local_generate_image", nil,
		func(u map[string]any) { updates = append(updates, u) })
	require.NotEmpty(t, updates)
	assert.Equal(t, 10, updates[0]["progress"])
}

func TestSceneAssembly(t *testing.T) {
	t.Run("with narration", func(t *testing.T) {
		cmds := &fakeCommands{}
		d := newTestDomain(t, Deps{Run: cmds.run})

		res := d.Execute(context.Background(), "media_scene_assembly", map[string]any{
			"video": "/out/v.mp4", "audio": "/out/a.mp3",
		})
		require.Equal(t, true, res["success"], "result: %v", res)
		assert.Contains(t, res["output_path"], "scene_")
		call := cmds.lastCall()
		assert.Contains(t, call, "/out/a.mp3")
		assert.Contains(t, call, "-shortest")
	})

	t.Run("video only", func(t *testing.T) {
		cmds := &fakeCommands{}
		d := newTestDomain(t, Deps{Run: cmds.run})

		res := d.Execute(context.Background(), "media_scene_assembly", map[string]any{"video": "/out/v.mp4"})
		require.Equal(t, true, res["success"])
		assert.NotContains(t, cmds.lastCall(), "-shortest")
	})

	t.Run("missing video", func(t *testing.T) {
		d := newTestDomain(t, Deps{})
		res := d.Execute(context.Background(), "media_scene_assembly", map[string]any{})
		assert.Equal(t, false, res["success"])
	})
}

func TestVideoAssembly(t *testing.T) {
	cmds := &fakeCommands{}
	dir := t.TempDir()
	d := newTestDomain(t, Deps{Run: cmds.run, OutputDir: dir})

	res := d.Execute(context.Background(), "media_video_assembly", map[string]any{
		"clips": []any{"/out/s0.mp4", "/out/s1.mp4"},
	})
	require.Equal(t, true, res["success"], "result: %v", res)
	assert.Equal(t, 2, res["count"])

	call := cmds.lastCall()
	assert.Contains(t, call, "concat")
	// The concat list file is cleaned up after the run.
	leftovers, _ := filepath.Glob(filepath.Join(dir, "concat_*.txt"))
	assert.Empty(t, leftovers)
}

func TestVideoAssemblyNoClips(t *testing.T) {
	d := newTestDomain(t, Deps{})
	res := d.Execute(context.Background(), "media_video_assembly", map[string]any{"clips": []any{}})
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "No clips to assemble", res["error"])
}

func TestColorGrade(t *testing.T) {
	cmds := &fakeCommands{}
	d := newTestDomain(t, Deps{Run: cmds.run})

	res := d.Execute(context.Background(), "media_color_grade", map[string]any{
		"video": "/out/full.mp4", "grade": "noir",
	})
	require.Equal(t, true, res["success"], "result: %v", res)
	assert.Equal(t, "noir", res["grade"])
	assert.Contains(t, strings.Join(cmds.lastCall(), " "), "hue=s=0")

	res = d.Execute(context.Background(), "media_color_grade", map[string]any{
		"video": "/out/full.mp4", "grade": "sepia_dream",
	})
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "Unknown color grade: sepia_dream", res["error"])
}

func TestAnimatePhoto(t *testing.T) {
	t.Run("missing image", func(t *testing.T) {
		d := newTestDomain(t, Deps{})
		res := d.Execute(context.Background(), "media_animate_photo", map[string]any{
			"image_path": "/nope/missing.png",
		})
		assert.Equal(t, false, res["success"])
		assert.Equal(t, "Image not found", res["error"])
	})

	t.Run("applies effect", func(t *testing.T) {
		img := filepath.Join(t.TempDir(), "photo.png")
		require.NoError(t, os.WriteFile(img, []byte("png"), 0o644))

		cmds := &fakeCommands{}
		d := newTestDomain(t, Deps{Run: cmds.run})
		res := d.Execute(context.Background(), "media_animate_photo", map[string]any{
			"image_path": img, "effect": "pan_left",
		})
		require.Equal(t, true, res["success"], "result: %v", res)
		assert.Contains(t, strings.Join(cmds.lastCall(), " "), "zoompan=z='1.2'")
	})
}

func TestFfmpegErrorSurfaces(t *testing.T) {
	cmds := &fakeCommands{err: errors.New("exit status 1")}
	d := newTestDomain(t, Deps{Run: cmds.run})

	res := d.Execute(context.Background(), "media_audio_mix", map[string]any{
		"voice_path": "/a.mp3", "music_path": "/b.mp3",
	})
	assert.Equal(t, false, res["success"])
	assert.Contains(t, res["error"], "FFmpeg error: ffmpeg exploded")
}

func TestEdgeTTS(t *testing.T) {
	cmds := &fakeCommands{}
	d := newTestDomain(t, Deps{Run: cmds.run})

	res := d.Execute(context.Background(), "media_tts_synthesize", map[string]any{
		"text": "hello", "voice": "en-GB-SoniaNeural",
	})
	require.Equal(t, true, res["success"], "result: %v", res)
	assert.Contains(t, res["audio_path"], "tts_")

	call := cmds.lastCall()
	assert.Equal(t, "edge-tts", call[0])
	assert.Contains(t, call, "en-GB-SoniaNeural")
	assert.Contains(t, call, "hello")
}

func TestTTSRequiresText(t *testing.T) {
	d := newTestDomain(t, Deps{})
	res := d.Execute(context.Background(), "media_tts_synthesize", map[string]any{})
	assert.Equal(t, false, res["success"])
}

func TestElevenLabs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice123", r.URL.Path)
		assert.Equal(t, "key-abc", r.Header.Get("xi-api-key"))
		w.Write([]byte("mp3bytes"))
	}))
	defer srv.Close()

	d := newTestDomain(t, Deps{
		ElevenBase: srv.URL,
		Setting: func(path, fallback string) string {
			if path == "ai_video.api_keys.elevenlabs" {
				return "key-abc"
			}
			return fallback
		},
	})

	res := d.Execute(context.Background(), "media_tts_synthesize", map[string]any{
		"text": "hi", "provider": "elevenlabs", "voice_id": "voice123",
	})
	require.Equal(t, true, res["success"], "result: %v", res)

	audio, err := os.ReadFile(res["audio_path"].(string))
	require.NoError(t, err)
	assert.Equal(t, "mp3bytes", string(audio))
}

func TestElevenLabsRequiresKey(t *testing.T) {
	d := newTestDomain(t, Deps{})
	res := d.Execute(context.Background(), "media_tts_synthesize", map[string]any{
		"text": "hi", "provider": "elevenlabs",
	})
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "ElevenLabs API key not configured", res["error"])
}

func TestListVoices(t *testing.T) {
	cmds := &fakeCommands{stdout: strings.Join([]string{
		"Name                Gender",
		"------------------- ------",
		"en-US-AriaNeural    Female",
		"en-GB-RyanNeural    Male",
	}, "\n")}
	d := newTestDomain(t, Deps{Run: cmds.run})

	res := d.Execute(context.Background(), "media_tts_list_voices", nil)
	require.Equal(t, true, res["success"])
	voices := res["voices"].([]any)
	require.Len(t, voices, 2)
	first := voices[0].(map[string]any)
	assert.Equal(t, "en-US-AriaNeural", first["id"])
	assert.Equal(t, "en-US", first["locale"])
}

func TestUnknownTask(t *testing.T) {
	d := newTestDomain(t, Deps{})
	res := d.Execute(context.Background(), "media_teleport", nil)
	assert.Equal(t, false, res["success"])
}
