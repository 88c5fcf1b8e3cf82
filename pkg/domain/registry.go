package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Registry routes task types to registered domains. Registration happens at
// startup on a single goroutine; after that the registry is read-only and
// safe for concurrent use.
type Registry struct {
	logger  *slog.Logger
	domains []TaskDomain
	byID    map[string]TaskDomain
	byTask  map[string]TaskDomain
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.With("component", "domain_registry"),
		byID:   make(map[string]TaskDomain),
		byTask: make(map[string]TaskDomain),
	}
}

// Register adds a domain. It fails when the domain ID or any of its task
// types is already claimed; a failed registration leaves the registry
// untouched.
func (r *Registry) Register(d TaskDomain) error {
	if d.ID() == "" {
		return fmt.Errorf("domain has empty ID")
	}
	if _, exists := r.byID[d.ID()]; exists {
		return fmt.Errorf("domain %q already registered", d.ID())
	}
	for _, tt := range d.TaskTypes() {
		if owner, exists := r.byTask[tt]; exists {
			return fmt.Errorf("task type %q already claimed by domain %q", tt, owner.ID())
		}
	}
	r.domains = append(r.domains, d)
	r.byID[d.ID()] = d
	for _, tt := range d.TaskTypes() {
		r.byTask[tt] = d
	}
	r.logger.Info("Registered domain", "domain", d.ID(), "task_types", len(d.TaskTypes()))
	return nil
}

// Domains returns all registered domains in registration order.
func (r *Registry) Domains() []TaskDomain {
	return r.domains
}

// Domain looks up a domain by ID.
func (r *Registry) Domain(id string) (TaskDomain, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// DomainFor looks up the domain claiming the given task type.
func (r *Registry) DomainFor(taskType string) (TaskDomain, bool) {
	d, ok := r.byTask[taskType]
	return d, ok
}

// TaskTypes returns every claimed task type across all domains.
func (r *Registry) TaskTypes() []string {
	out := make([]string, 0, len(r.byTask))
	for _, d := range r.domains {
		out = append(out, d.TaskTypes()...)
	}
	return out
}

// ExecuteTask routes one task to its domain. Unroutable task types and
// panicking domains both come back as failed results.
func (r *Registry) ExecuteTask(ctx context.Context, taskType string, data map[string]any) Result {
	return r.ExecuteTaskWithProgress(ctx, taskType, data, nil)
}

// ExecuteTaskWithProgress is ExecuteTask with an optional progress callback.
// Domains that do not implement ProgressReporter run without progress.
func (r *Registry) ExecuteTaskWithProgress(ctx context.Context, taskType string, data map[string]any, onProgress ProgressFunc) (result Result) {
	d, ok := r.byTask[taskType]
	if !ok {
		return Failf("No domain handles task type: %s", taskType)
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Domain panicked during execution",
				"domain", d.ID(), "task_type", taskType, "panic", rec)
			result = Failf("%v", rec)
		}
	}()
	if data == nil {
		data = map[string]any{}
	}
	if pr, ok := d.(ProgressReporter); ok && onProgress != nil {
		return pr.ExecuteWithProgress(ctx, taskType, data, onProgress)
	}
	return d.Execute(ctx, taskType, data)
}

// InitializeAll initializes every domain that wants it. Failures are logged
// and the domain stays registered; its tasks will surface their own errors.
func (r *Registry) InitializeAll(ctx context.Context) {
	for _, d := range r.domains {
		init, ok := d.(Initializer)
		if !ok {
			continue
		}
		if err := init.Initialize(ctx); err != nil {
			r.logger.Warn("Domain initialization failed", "domain", d.ID(), "error", err)
		}
	}
}

// DisposeAll releases every domain's resources in reverse registration order.
func (r *Registry) DisposeAll(ctx context.Context) {
	for i := len(r.domains) - 1; i >= 0; i-- {
		disp, ok := r.domains[i].(Disposer)
		if !ok {
			continue
		}
		if err := disp.Dispose(ctx); err != nil {
			r.logger.Warn("Domain dispose failed", "domain", r.domains[i].ID(), "error", err)
		}
	}
}

// The process-wide registry handle. Set once at startup, read from request
// paths that have no wiring channel of their own.
var global atomic.Pointer[Registry]

// SetGlobal installs the process-wide registry.
func SetGlobal(r *Registry) { global.Store(r) }

// Global returns the process-wide registry, or nil before startup completes.
func Global() *Registry { return global.Load() }
