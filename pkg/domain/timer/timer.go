// Package timer implements in-process timers, countdown status, and
// pomodoro sessions.
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opencli/daemon/pkg/domain"
)

// Notifier fires when a timer completes, e.g. a desktop notification.
// A nil notifier means timers complete silently.
type Notifier func(label string, minutes int)

// Domain handles timer_* task types. Setting a new timer cancels any
// existing ones; clients treat the timer slot as singular.
type Domain struct {
	mu     sync.Mutex
	timers map[string]*activeTimer
	notify Notifier
	clock  func() time.Time
}

type activeTimer struct {
	label  string
	endsAt time.Time
	cancel *time.Timer
}

// New returns the timer domain.
func New(notify Notifier) *Domain {
	return &Domain{
		timers: map[string]*activeTimer{},
		notify: notify,
		clock:  time.Now,
	}
}

func (d *Domain) ID() string          { return "timer" }
func (d *Domain) Name() string        { return "Timer & Alarms" }
func (d *Domain) Description() string {
	return "Set timers, alarms, countdowns, and pomodoro sessions"
}

func (d *Domain) TaskTypes() []string {
	return []string{"timer_set", "timer_cancel", "timer_status", "timer_pomodoro"}
}

func (d *Domain) DisplayConfigs() map[string]domain.DisplayConfig {
	return map[string]domain.DisplayConfig{
		"timer_set": {
			CardType: "timer", TitleTemplate: "Timer: ${label}",
			SubtitleTemplate: "${minutes} minutes",
			Icon:             "timer", Color: "#009688",
		},
		"timer_status": {
			CardType: "timer", TitleTemplate: "Timer Status",
			Icon: "timer", Color: "#009688",
		},
		"timer_pomodoro": {
			CardType: "timer", TitleTemplate: "Pomodoro",
			SubtitleTemplate: "25 min focus",
			Icon:             "self_improvement", Color: "#009688",
		},
	}
}

func (d *Domain) Execute(_ context.Context, taskType string, data map[string]any) domain.Result {
	switch taskType {
	case "timer_set":
		return d.set(data)
	case "timer_cancel":
		return d.cancel()
	case "timer_status":
		return d.status()
	case "timer_pomodoro":
		minutes := intField(data, "minutes", 25)
		return d.setTimer(minutes, "Pomodoro Focus")
	}
	return domain.Failf("Unknown timer task: %s", taskType)
}

// Dispose cancels outstanding timers at shutdown.
func (d *Domain) Dispose(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelAllLocked()
	return nil
}

func (d *Domain) set(data map[string]any) domain.Result {
	minutes := intField(data, "minutes", 5)
	label, _ := data["label"].(string)
	if label == "" {
		label = "Timer"
	}
	return d.setTimer(minutes, label)
}

func (d *Domain) setTimer(minutes int, label string) domain.Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelAllLocked()

	now := d.clock()
	timerID := fmt.Sprintf("timer_%d", now.UnixMilli())
	endsAt := now.Add(time.Duration(minutes) * time.Minute)

	at := &activeTimer{label: label, endsAt: endsAt}
	at.cancel = time.AfterFunc(time.Until(endsAt), func() {
		if d.notify != nil {
			d.notify(label, minutes)
		}
		d.mu.Lock()
		delete(d.timers, timerID)
		d.mu.Unlock()
	})
	d.timers[timerID] = at

	return domain.Ok(map[string]any{
		"timer_id":  timerID,
		"minutes":   minutes,
		"label":     label,
		"ends_at":   endsAt.Format(time.RFC3339),
		"domain":    "timer",
		"card_type": "timer",
	})
}

func (d *Domain) cancel() domain.Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.timers) == 0 {
		return domain.Ok(map[string]any{"message": "No active timers", "domain": "timer"})
	}
	count := len(d.timers)
	d.cancelAllLocked()
	return domain.Ok(map[string]any{
		"message": fmt.Sprintf("Cancelled %d timer(s)", count),
		"domain":  "timer",
	})
}

func (d *Domain) status() domain.Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.timers) == 0 {
		return domain.Ok(map[string]any{
			"active":  false,
			"message": "No active timers",
			"domain":  "timer",
		})
	}
	timers := make([]any, 0, len(d.timers))
	now := d.clock()
	for id, at := range d.timers {
		remaining := int(at.endsAt.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		timers = append(timers, map[string]any{
			"id":                id,
			"label":             at.label,
			"remaining_seconds": remaining,
			"ends_at":           at.endsAt.Format(time.RFC3339),
		})
	}
	return domain.Ok(map[string]any{
		"active":    true,
		"timers":    timers,
		"domain":    "timer",
		"card_type": "timer",
	})
}

func (d *Domain) cancelAllLocked() {
	for _, at := range d.timers {
		at.cancel.Stop()
	}
	d.timers = map[string]*activeTimer{}
}

func intField(data map[string]any, key string, fallback int) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
