package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir())
}

func TestManager_LoadMissingFile(t *testing.T) {
	m := newTestManager(t)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg)
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	in := map[string]any{
		"daemon": map[string]any{"port": 9529},
		"models": map[string]any{"flux": map[string]any{"api_key": "sk-abcdef123456"}},
	}
	require.NoError(t, m.Save(in))

	cfg, err := m.Load()
	require.NoError(t, err)
	port, ok := GetNested(cfg, "daemon.port")
	require.True(t, ok)
	assert.EqualValues(t, 9529, port)
}

func TestManager_EnvExpansion(t *testing.T) {
	m := newTestManager(t)
	t.Setenv("OPENCLI_TEST_KEY", "resolved-value")
	raw := "inference:\n  api_key: ${OPENCLI_TEST_KEY}\n  other: ${OPENCLI_UNSET_VAR}\n  pattern: \"^secret.*$\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "config.yaml"), []byte(raw), 0o644))

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "resolved-value", GetString(cfg, "inference.api_key", ""))
	// Unset variables keep their placeholder; bare $ is untouched.
	assert.Equal(t, "${OPENCLI_UNSET_VAR}", GetString(cfg, "inference.other", ""))
	assert.Equal(t, "^secret.*$", GetString(cfg, "inference.pattern", ""))

	t.Run("LoadRaw keeps placeholders", func(t *testing.T) {
		cfg, err := m.LoadRaw()
		require.NoError(t, err)
		assert.Equal(t, "${OPENCLI_TEST_KEY}", GetString(cfg, "inference.api_key", ""))
	})
}

func TestManager_Merge(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save(map[string]any{
		"daemon": map[string]any{"port": 9529, "host": "127.0.0.1"},
		"tts":    map[string]any{"voice": "en-US-AriaNeural"},
	}))

	merged, err := m.Merge(map[string]any{
		"daemon": map[string]any{"port": 9600},
		"new":    "value",
	})
	require.NoError(t, err)

	// Nested maps merge key-by-key; untouched siblings survive.
	assert.EqualValues(t, 9600, mustNested(t, merged, "daemon.port"))
	assert.Equal(t, "127.0.0.1", mustNested(t, merged, "daemon.host"))
	assert.Equal(t, "en-US-AriaNeural", mustNested(t, merged, "tts.voice"))
	assert.Equal(t, "value", merged["new"])

	// And the merge was persisted.
	reloaded, err := m.Load()
	require.NoError(t, err)
	assert.EqualValues(t, 9600, mustNested(t, reloaded, "daemon.port"))
}

func mustNested(t *testing.T, cfg map[string]any, path string) any {
	t.Helper()
	v, ok := GetNested(cfg, path)
	require.True(t, ok, "missing config path %s", path)
	return v
}

func TestDeepMerge_ScalarReplacesMap(t *testing.T) {
	out := DeepMerge(
		map[string]any{"a": map[string]any{"x": 1}},
		map[string]any{"a": "flat"},
	)
	assert.Equal(t, "flat", out["a"])
}

func TestMaskSecrets(t *testing.T) {
	cfg := map[string]any{
		"models": map[string]any{
			"flux": map[string]any{"api_key": "sk-abcdefgh1234"},
		},
		"ai_video": map[string]any{
			"api_keys": map[string]any{
				"runway": "rw-longsecretvalue",
				"short":  "tiny",
			},
		},
		"inference": map[string]any{
			"api_key": "${FLUX_API_KEY}",
		},
		"daemon": map[string]any{"port": 9529},
	}

	masked := MaskSecrets(cfg)

	assert.Equal(t, "****1234", mustNested(t, masked, "models.flux.api_key"))
	assert.Equal(t, "****alue", mustNested(t, masked, "ai_video.api_keys.runway"))
	assert.Equal(t, "****", mustNested(t, masked, "ai_video.api_keys.short"))
	// Placeholders are not secrets.
	assert.Equal(t, "${FLUX_API_KEY}", mustNested(t, masked, "inference.api_key"))
	// Non-sensitive values untouched, original map unmodified.
	assert.EqualValues(t, 9529, mustNested(t, masked, "daemon.port"))
	assert.Equal(t, "sk-abcdefgh1234", mustNested(t, cfg, "models.flux.api_key"))
}

func TestGetString(t *testing.T) {
	cfg := map[string]any{"a": map[string]any{"b": "v", "n": 3}}
	assert.Equal(t, "v", GetString(cfg, "a.b", "d"))
	assert.Equal(t, "d", GetString(cfg, "a.missing", "d"))
	assert.Equal(t, "d", GetString(cfg, "a.n", "d"))
}
