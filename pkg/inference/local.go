// Package inference runs generative model inference, either through a local
// python environment or a remote GPU server. Both backends speak the same
// action/params protocol and return normalized result maps.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Result is a raw inference payload. A missing "success" key is normalized
// from the presence of "error".
type Result map[string]any

// OK reports whether the inference succeeded.
func (r Result) OK() bool {
	ok, _ := r["success"].(bool)
	return ok
}

func failure(format string, args ...any) Result {
	return Result{"success": false, "error": fmt.Sprintf(format, args...)}
}

// normalize fills in the success flag when the backend omitted it.
func normalize(r Result) Result {
	if _, ok := r["success"]; !ok {
		_, hasErr := r["error"]
		r["success"] = !hasErr
	}
	return r
}

// Runner executes a single inference action.
type Runner interface {
	// Available reports whether this backend can serve requests right now.
	Available(ctx context.Context) bool
	// Run executes an action. Errors are reported in the Result, never as a
	// Go error, so callers have one failure path.
	Run(ctx context.Context, action string, params map[string]any) Result
}

const localTimeout = 10 * time.Minute

// Local runs inference by spawning <dir>/.venv/bin/python <dir>/infer.py
// with a JSON request on stdin. The worker may emit progress JSON lines on
// stdout before the final result line.
type Local struct {
	dir        string
	logger     *slog.Logger
	onProgress func(line Result)
}

// NewLocal returns a local runner rooted at dir. onProgress may be nil.
func NewLocal(dir string, logger *slog.Logger, onProgress func(Result)) *Local {
	return &Local{dir: dir, logger: logger.With("component", "inference.local"), onProgress: onProgress}
}

// DefaultLocalDir is where the setup script installs the inference venv.
func DefaultLocalDir(home string) string {
	return filepath.Join(home, ".opencli", "local-inference")
}

func (l *Local) python() string { return filepath.Join(l.dir, ".venv", "bin", "python") }
func (l *Local) script() string { return filepath.Join(l.dir, "infer.py") }

func (l *Local) Available(context.Context) bool {
	if _, err := os.Stat(l.python()); err != nil {
		return false
	}
	_, err := os.Stat(l.script())
	return err == nil
}

func (l *Local) Run(ctx context.Context, action string, params map[string]any) Result {
	if !l.Available(ctx) {
		return failure("Local inference not set up. Run setup.sh in local-inference/")
	}

	payload := map[string]any{"action": action}
	for k, v := range params {
		payload[k] = v
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return failure("Inference error: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, l.python(), l.script())
	cmd.Dir = l.dir
	cmd.Stdin = bytes.NewReader(input)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failure("Inference error: %v", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return failure("Inference error: %v", err)
	}

	// Progress lines stream before the final result line; keep only the
	// last line as the result.
	var lastLine string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if lastLine != "" && l.onProgress != nil {
			var progress Result
			if json.Unmarshal([]byte(lastLine), &progress) == nil {
				l.onProgress(progress)
			}
		}
		lastLine = line
	}
	io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return failure("Inference timed out")
		}
		errMsg := tail(stderr.String(), 300)
		if errMsg == "" {
			errMsg = "unknown error"
		}
		return failure("Inference process failed: %s", errMsg)
	}
	if msg := stderr.String(); msg != "" {
		l.logger.Debug("inference worker stderr", "tail", tail(msg, 500))
	}
	if lastLine == "" {
		return failure("Inference returned empty output")
	}

	var result Result
	if err := json.Unmarshal([]byte(lastLine), &result); err != nil {
		return failure("Invalid JSON from inference: %s", tail(lastLine, 200))
	}
	return normalize(result)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
