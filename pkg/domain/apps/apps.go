// Package apps scripts desktop applications (Apple Music, Apple Notes)
// through osascript. On non-macOS hosts every task fails with a clear
// message instead of a confusing subprocess error.
package apps

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/opencli/daemon/pkg/domain"
)

// ScriptRunner executes an AppleScript and returns its stdout. Injected so
// tests run without osascript.
type ScriptRunner func(ctx context.Context, script string) (string, error)

// Domain handles music_* and notes_* task types.
type Domain struct {
	run       ScriptRunner
	available bool
}

// New returns the apps domain with the real osascript runner.
func New() *Domain {
	return &Domain{run: runOsascript, available: runtime.GOOS == "darwin"}
}

// NewWithRunner injects a script runner and marks the platform available;
// used by tests.
func NewWithRunner(run ScriptRunner) *Domain {
	return &Domain{run: run, available: true}
}

func (d *Domain) ID() string          { return "apps" }
func (d *Domain) Name() string        { return "Apps" }
func (d *Domain) Description() string { return "Control Apple Music and Apple Notes via AppleScript" }

func (d *Domain) TaskTypes() []string {
	return []string{
		"music_play", "music_pause", "music_next",
		"music_previous", "music_now_playing", "music_playlist",
		"notes_create", "notes_search", "notes_list",
	}
}

func (d *Domain) DisplayConfigs() map[string]domain.DisplayConfig {
	return map[string]domain.DisplayConfig{
		"music_play": {
			CardType: "music", TitleTemplate: "Music: Play",
			Icon: "play_arrow", Color: "#E91E63",
		},
		"music_pause": {
			CardType: "music", TitleTemplate: "Music: Paused",
			Icon: "pause", Color: "#E91E63",
		},
		"music_now_playing": {
			CardType: "music", TitleTemplate: "Now Playing",
			Icon: "music_note", Color: "#E91E63",
		},
		"notes_create": {
			CardType: "notes", TitleTemplate: "Note Created",
			Icon: "note_add", Color: "#FFC107",
		},
		"notes_search": {
			CardType: "notes", TitleTemplate: "Notes Search",
			Icon: "search", Color: "#FFC107",
		},
		"notes_list": {
			CardType: "notes", TitleTemplate: "Notes",
			Icon: "note", Color: "#FFC107",
		},
	}
}

func (d *Domain) Execute(ctx context.Context, taskType string, data map[string]any) domain.Result {
	if !d.available {
		return domain.Failf("%s is only available on macOS", taskType)
	}
	switch {
	case strings.HasPrefix(taskType, "music_"):
		return d.music(ctx, taskType, data)
	case strings.HasPrefix(taskType, "notes_"):
		return d.notes(ctx, taskType, data)
	}
	return domain.Failf("Unknown task: %s", taskType)
}

func (d *Domain) music(ctx context.Context, taskType string, data map[string]any) domain.Result {
	switch taskType {
	case "music_play":
		query, _ := data["query"].(string)
		script := `tell application "Music" to play`
		if query != "" {
			script = fmt.Sprintf(`tell application "Music" to play (first track whose name contains %q)`, escapeScript(query))
		}
		if _, err := d.run(ctx, script); err != nil {
			return musicError(err)
		}
		return domain.Ok(map[string]any{"action": "play", "domain": "music", "card_type": "music"})

	case "music_pause":
		if _, err := d.run(ctx, `tell application "Music" to pause`); err != nil {
			return musicError(err)
		}
		return domain.Ok(map[string]any{"action": "pause", "domain": "music", "card_type": "music"})

	case "music_next":
		if _, err := d.run(ctx, `tell application "Music" to next track`); err != nil {
			return musicError(err)
		}
		return domain.Ok(map[string]any{"action": "next", "domain": "music", "card_type": "music"})

	case "music_previous":
		if _, err := d.run(ctx, `tell application "Music" to previous track`); err != nil {
			return musicError(err)
		}
		return domain.Ok(map[string]any{"action": "previous", "domain": "music", "card_type": "music"})

	case "music_now_playing":
		out, err := d.run(ctx, strings.Join([]string{
			`tell application "Music"`,
			`  set t to name of current track`,
			`  set a to artist of current track`,
			`  set al to album of current track`,
			`  return t & "|||" & a & "|||" & al`,
			`end tell`,
		}, "\n"))
		if err != nil {
			return musicError(err)
		}
		parts := strings.Split(out, "|||")
		res := map[string]any{"track": "", "artist": "", "album": "", "domain": "music", "card_type": "music"}
		if len(parts) > 0 {
			res["track"] = strings.TrimSpace(parts[0])
		}
		if len(parts) > 1 {
			res["artist"] = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			res["album"] = strings.TrimSpace(parts[2])
		}
		return domain.Ok(res)

	case "music_playlist":
		playlist, _ := data["playlist"].(string)
		if playlist == "" {
			return domain.Result{"success": false, "error": "No playlist specified", "domain": "music"}
		}
		script := fmt.Sprintf(`tell application "Music" to play playlist %q`, escapeScript(playlist))
		if _, err := d.run(ctx, script); err != nil {
			return musicError(err)
		}
		return domain.Ok(map[string]any{"playlist": playlist, "domain": "music", "card_type": "music"})
	}
	return domain.Failf("Unknown task: %s", taskType)
}

func (d *Domain) notes(ctx context.Context, taskType string, data map[string]any) domain.Result {
	switch taskType {
	case "notes_create":
		title, _ := data["title"].(string)
		if title == "" {
			title = "Untitled"
		}
		body, _ := data["body"].(string)
		script := strings.Join([]string{
			`tell application "Notes"`,
			fmt.Sprintf(`  make new note at folder "Notes" with properties {name:%q, body:%q}`,
				escapeScript(title), escapeScript(body)),
			`end tell`,
		}, "\n")
		if _, err := d.run(ctx, script); err != nil {
			return notesError(err)
		}
		return domain.Ok(map[string]any{"title": title, "domain": "notes", "card_type": "notes"})

	case "notes_search":
		query, _ := data["query"].(string)
		out, err := d.run(ctx, listNotesScript(fmt.Sprintf(
			`every note of folder "Notes" whose name contains %q or body contains %q`,
			escapeScript(query), escapeScript(query))))
		if err != nil {
			return notesError(err)
		}
		notes := splitLines(out)
		return domain.Ok(map[string]any{
			"notes": notes, "count": len(notes), "domain": "notes", "card_type": "notes",
		})

	case "notes_list":
		out, err := d.run(ctx, listNotesScript(`every note of folder "Notes"`))
		if err != nil {
			return notesError(err)
		}
		notes := splitLines(out)
		return domain.Ok(map[string]any{
			"notes": notes, "count": len(notes), "domain": "notes", "card_type": "notes",
		})
	}
	return domain.Failf("Unknown task: %s", taskType)
}

// listNotesScript iterates a note selection and returns up to 10 names.
func listNotesScript(selection string) string {
	return strings.Join([]string{
		`tell application "Notes"`,
		`  set output to ""`,
		`  set matchedNotes to ` + selection,
		`  set maxN to 10`,
		`  set i to 0`,
		`  repeat with n in matchedNotes`,
		`    if i >= maxN then exit repeat`,
		`    set output to output & name of n & "\n"`,
		`    set i to i + 1`,
		`  end repeat`,
		`  return output`,
		`end tell`,
	}, "\n")
}

func musicError(err error) domain.Result {
	return domain.Result{"success": false, "error": err.Error(), "domain": "music"}
}

func notesError(err error) domain.Result {
	return domain.Result{"success": false, "error": err.Error(), "domain": "notes"}
}

func splitLines(s string) []any {
	out := []any{}
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// escapeScript keeps user text from breaking out of AppleScript string
// literals.
func escapeScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// runOsascript executes a script through /usr/bin/osascript with a bounded
// timeout.
func runOsascript(ctx context.Context, script string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "osascript", "-e", script)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("osascript: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("osascript: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
