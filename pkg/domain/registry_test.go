package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDomain struct {
	id        string
	taskTypes []string
	execute   func(taskType string, data map[string]any) Result
	progress  func(taskType string, data map[string]any, onProgress ProgressFunc) Result
	initErr   error
	initCalls int
	dispCalls int
}

func (f *fakeDomain) ID() string          { return f.id }
func (f *fakeDomain) Name() string        { return f.id }
func (f *fakeDomain) Description() string { return "fake" }
func (f *fakeDomain) TaskTypes() []string { return f.taskTypes }
func (f *fakeDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{}
}

func (f *fakeDomain) Execute(_ context.Context, taskType string, data map[string]any) Result {
	if f.execute != nil {
		return f.execute(taskType, data)
	}
	return Ok(map[string]any{"task_type": taskType})
}

type fakeProgressDomain struct{ fakeDomain }

func (f *fakeProgressDomain) ExecuteWithProgress(_ context.Context, taskType string, data map[string]any, onProgress ProgressFunc) Result {
	return f.progress(taskType, data, onProgress)
}

type fakeLifecycleDomain struct{ fakeDomain }

func (f *fakeLifecycleDomain) Initialize(context.Context) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeLifecycleDomain) Dispose(context.Context) error {
	f.dispCalls++
	return nil
}

func TestResultHelpers(t *testing.T) {
	ok := Ok(map[string]any{"x": 1})
	assert.True(t, ok.OK())
	assert.Equal(t, 1, ok["x"])

	fail := Failf("bad value %d", 7)
	assert.False(t, fail.OK())
	assert.Equal(t, "bad value 7", fail.ErrorMessage())
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeDomain{id: "a", taskTypes: []string{"a_one", "a_two"}}))

	t.Run("duplicate domain id", func(t *testing.T) {
		err := r.Register(&fakeDomain{id: "a", taskTypes: []string{"other"}})
		assert.ErrorContains(t, err, `domain "a" already registered`)
	})

	t.Run("duplicate task type", func(t *testing.T) {
		err := r.Register(&fakeDomain{id: "b", taskTypes: []string{"b_one", "a_two"}})
		assert.ErrorContains(t, err, `task type "a_two" already claimed by domain "a"`)
		// Refused registration must not leave partial claims behind.
		_, ok := r.DomainFor("b_one")
		assert.False(t, ok)
		_, ok = r.Domain("b")
		assert.False(t, ok)
	})

	t.Run("empty id", func(t *testing.T) {
		assert.Error(t, r.Register(&fakeDomain{id: ""}))
	})
}

func TestRegistry_ExecuteTask(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeDomain{
		id:        "calc",
		taskTypes: []string{"calc_eval"},
		execute: func(_ string, data map[string]any) Result {
			return Ok(map[string]any{"result": data["x"]})
		},
	}))

	t.Run("routes to owning domain", func(t *testing.T) {
		res := r.ExecuteTask(context.Background(), "calc_eval", map[string]any{"x": 42})
		assert.True(t, res.OK())
		assert.Equal(t, 42, res["result"])
	})

	t.Run("unknown task type", func(t *testing.T) {
		res := r.ExecuteTask(context.Background(), "nope", nil)
		assert.False(t, res.OK())
		assert.Equal(t, "No domain handles task type: nope", res.ErrorMessage())
	})

	t.Run("panicking domain becomes failed result", func(t *testing.T) {
		require.NoError(t, r.Register(&fakeDomain{
			id:        "boom",
			taskTypes: []string{"boom_go"},
			execute:   func(string, map[string]any) Result { panic("kaboom") },
		}))
		res := r.ExecuteTask(context.Background(), "boom_go", nil)
		assert.False(t, res.OK())
		assert.Equal(t, "kaboom", res.ErrorMessage())
	})
}

func TestRegistry_ExecuteTaskWithProgress(t *testing.T) {
	r := NewRegistry()

	pd := &fakeProgressDomain{fakeDomain: fakeDomain{id: "media", taskTypes: []string{"media_render"}}}
	pd.progress = func(_ string, _ map[string]any, onProgress ProgressFunc) Result {
		onProgress(map[string]any{"progress": 0.5})
		return Ok(nil)
	}
	require.NoError(t, r.Register(pd))
	require.NoError(t, r.Register(&fakeDomain{id: "plain", taskTypes: []string{"plain_run"}}))

	t.Run("progress callback reaches the domain", func(t *testing.T) {
		var updates []map[string]any
		res := r.ExecuteTaskWithProgress(context.Background(), "media_render", nil, func(u map[string]any) {
			updates = append(updates, u)
		})
		assert.True(t, res.OK())
		require.Len(t, updates, 1)
		assert.Equal(t, 0.5, updates[0]["progress"])
	})

	t.Run("plain domain falls back to Execute", func(t *testing.T) {
		res := r.ExecuteTaskWithProgress(context.Background(), "plain_run", nil, func(map[string]any) {
			t.Fatal("plain domain must not emit progress")
		})
		assert.True(t, res.OK())
	})
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	good := &fakeLifecycleDomain{fakeDomain: fakeDomain{id: "good", taskTypes: []string{"good_t"}}}
	bad := &fakeLifecycleDomain{fakeDomain: fakeDomain{id: "bad", taskTypes: []string{"bad_t"}, initErr: assert.AnError}}
	require.NoError(t, r.Register(good))
	require.NoError(t, r.Register(bad))

	r.InitializeAll(context.Background())
	assert.Equal(t, 1, good.initCalls)
	assert.Equal(t, 1, bad.initCalls)

	// A failed Initialize keeps the domain registered.
	_, ok := r.DomainFor("bad_t")
	assert.True(t, ok)

	r.DisposeAll(context.Background())
	assert.Equal(t, 1, good.dispCalls)
	assert.Equal(t, 1, bad.dispCalls)
}

func TestGlobalRegistry(t *testing.T) {
	r := NewRegistry()
	SetGlobal(r)
	assert.Same(t, r, Global())
}
