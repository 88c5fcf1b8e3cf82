// Package domain defines the task-domain plugin contract and the registry
// that routes task types to domains.
package domain

import (
	"context"
	"fmt"
)

// Result is the outcome of a task execution. Every result carries a "success"
// boolean; failed results carry an "error" string. Everything else is
// domain-specific payload that flows into pipeline templates verbatim.
type Result map[string]any

// OK reports whether the result represents a successful execution.
func (r Result) OK() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// ErrorMessage returns the "error" field, or "" for successful results.
func (r Result) ErrorMessage() string {
	msg, _ := r["error"].(string)
	return msg
}

// Ok builds a successful result from the given payload fields.
func Ok(fields map[string]any) Result {
	r := Result{"success": true}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// Failf builds a failed result with a formatted error message.
func Failf(format string, args ...any) Result {
	return Result{"success": false, "error": fmt.Sprintf(format, args...)}
}

// ProgressFunc receives incremental progress payloads during long-running
// task execution. Implementations must be safe to call from the executing
// goroutine and must not block for long.
type ProgressFunc func(update map[string]any)

// DisplayConfig describes how a task type renders as a card in clients and
// in the node catalog.
type DisplayConfig struct {
	CardType         string `json:"card_type"`
	TitleTemplate    string `json:"title_template"`
	SubtitleTemplate string `json:"subtitle_template,omitempty"`
	Icon             string `json:"icon"`
	Color            string `json:"color"`
}

// TaskDomain is the plugin contract. A domain claims a set of task types and
// executes them; results are always materialized, never raised — the registry
// and engine convert panics into failed results at the boundary.
type TaskDomain interface {
	// ID is the stable machine name, e.g. "calculator".
	ID() string
	// Name is the human-readable name for catalogs.
	Name() string
	// Description is a one-line summary for catalogs.
	Description() string
	// TaskTypes lists every task type this domain claims. Claims are
	// exclusive across the registry.
	TaskTypes() []string
	// Execute runs one task. The returned Result must include "success".
	Execute(ctx context.Context, taskType string, data map[string]any) Result
	// DisplayConfigs maps task types to card rendering hints. Task types
	// without an entry get a generic card.
	DisplayConfigs() map[string]DisplayConfig
}

// ProgressReporter is implemented by domains whose tasks emit incremental
// progress. Domains without it fall back to plain Execute.
type ProgressReporter interface {
	ExecuteWithProgress(ctx context.Context, taskType string, data map[string]any, onProgress ProgressFunc) Result
}

// Initializer is implemented by domains that acquire resources at startup.
// Initialization failures disable the domain but do not abort the daemon.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Disposer is implemented by domains that must release resources at shutdown.
type Disposer interface {
	Dispose(ctx context.Context) error
}
