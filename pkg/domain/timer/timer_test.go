package timer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerLifecycle(t *testing.T) {
	d := New(nil)
	ctx := context.Background()

	t.Run("status with no timers", func(t *testing.T) {
		res := d.Execute(ctx, "timer_status", nil)
		require.Equal(t, true, res["success"])
		assert.Equal(t, false, res["active"])
	})

	t.Run("set", func(t *testing.T) {
		res := d.Execute(ctx, "timer_set", map[string]any{"minutes": 5.0, "label": "Tea"})
		require.Equal(t, true, res["success"])
		assert.Equal(t, 5, res["minutes"])
		assert.Equal(t, "Tea", res["label"])
		assert.Contains(t, res["timer_id"], "timer_")
	})

	t.Run("status with a running timer", func(t *testing.T) {
		res := d.Execute(ctx, "timer_status", nil)
		require.Equal(t, true, res["success"])
		assert.Equal(t, true, res["active"])
		timers := res["timers"].([]any)
		require.Len(t, timers, 1)
		entry := timers[0].(map[string]any)
		assert.Equal(t, "Tea", entry["label"])
		assert.Greater(t, entry["remaining_seconds"].(int), 0)
	})

	t.Run("setting a new timer replaces the old one", func(t *testing.T) {
		res := d.Execute(ctx, "timer_set", map[string]any{"minutes": 1.0, "label": "Eggs"})
		require.Equal(t, true, res["success"])
		status := d.Execute(ctx, "timer_status", nil)
		timers := status["timers"].([]any)
		require.Len(t, timers, 1)
		assert.Equal(t, "Eggs", timers[0].(map[string]any)["label"])
	})

	t.Run("cancel", func(t *testing.T) {
		res := d.Execute(ctx, "timer_cancel", nil)
		require.Equal(t, true, res["success"])
		assert.Equal(t, "Cancelled 1 timer(s)", res["message"])

		res = d.Execute(ctx, "timer_cancel", nil)
		require.Equal(t, true, res["success"])
		assert.Equal(t, "No active timers", res["message"])
	})
}

func TestPomodoro(t *testing.T) {
	d := New(nil)
	defer d.Dispose(context.Background())

	res := d.Execute(context.Background(), "timer_pomodoro", map[string]any{})
	require.Equal(t, true, res["success"])
	assert.Equal(t, 25, res["minutes"])
	assert.Equal(t, "Pomodoro Focus", res["label"])
}

func TestDefaults(t *testing.T) {
	d := New(nil)
	defer d.Dispose(context.Background())

	res := d.Execute(context.Background(), "timer_set", map[string]any{})
	require.Equal(t, true, res["success"])
	assert.Equal(t, 5, res["minutes"])
	assert.Equal(t, "Timer", res["label"])
}

func TestUnknownTask(t *testing.T) {
	res := New(nil).Execute(context.Background(), "timer_snooze", nil)
	assert.Equal(t, false, res["success"])
}
