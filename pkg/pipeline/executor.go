package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opencli/daemon/pkg/domain"
)

// NodeStatus is the lifecycle state of a node within one run.
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusRunning   NodeStatus = "running"
	StatusCompleted NodeStatus = "completed"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
)

// ProgressUpdate is emitted after node state transitions and forwarded domain
// progress events. Progress is a whole percentage over the nodes scheduled in
// this run (by-request skips are excluded from the denominator).
type ProgressUpdate struct {
	PipelineID string         `json:"pipeline_id"`
	NodeID     string         `json:"node_id"`
	NodeStatus NodeStatus     `json:"node_status"`
	Progress   int            `json:"progress"`
	Data       map[string]any `json:"data,omitempty"`
}

// Options tunes one pipeline run.
type Options struct {
	// Params overrides declared parameter defaults by name.
	Params map[string]any
	// StartFrom requests partial re-execution: ancestors of this node are
	// not re-run; their outputs come from PreviousResults.
	StartFrom string
	// PreviousResults seeds node outputs from an earlier run. Seeded nodes
	// are marked completed without executing. Only consulted when StartFrom
	// is set.
	PreviousResults map[string]domain.Result
	// OnProgress receives node transitions and domain progress events.
	OnProgress func(ProgressUpdate)
	// Cancelled is polled before each node starts; once it returns true,
	// nodes that have not started are skipped and the run fails with
	// "Cancelled". In-flight nodes finish normally.
	Cancelled func() bool
	// MaxParallel bounds intra-wave concurrency. Zero means 4.
	MaxParallel int
}

// RunResult is the envelope returned for every run, including structurally
// invalid ones.
type RunResult struct {
	Success      bool                     `json:"success"`
	PipelineID   string                   `json:"pipeline_id"`
	Error        string                   `json:"error,omitempty"`
	NodeResults  map[string]domain.Result `json:"node_results"`
	NodeStatuses map[string]NodeStatus    `json:"node_statuses"`
	FailedNodes  []string                 `json:"failed_nodes"`
	SkippedNodes []string                 `json:"skipped_nodes"`
	DurationMS   int64                    `json:"duration_ms"`
}

// Executor runs pipeline definitions against a domain registry.
type Executor struct {
	registry *domain.Registry
	logger   *slog.Logger
}

// NewExecutor returns an executor bound to a registry.
func NewExecutor(registry *domain.Registry) *Executor {
	return &Executor{
		registry: registry,
		logger:   slog.With("component", "pipeline_executor"),
	}
}

// runState is the mutable state of one run, shared across the wave
// goroutines behind its mutex.
type runState struct {
	mu            sync.Mutex
	results       map[string]domain.Result
	statuses      map[string]NodeStatus
	failed        []string
	skipped       []string
	failureSkips  map[string]struct{}
	completedExec int
	total         int
}

func (st *runState) progressLocked() int {
	if st.total == 0 {
		return 100
	}
	return st.completedExec * 100 / st.total
}

// Execute runs def to completion. It never returns an error; every outcome,
// including structural rejection, is materialized into the RunResult.
func (e *Executor) Execute(ctx context.Context, def *Definition, opts Options) *RunResult {
	start := time.Now()
	res := &RunResult{
		PipelineID:   def.ID,
		NodeResults:  map[string]domain.Result{},
		NodeStatuses: map[string]NodeStatus{},
		FailedNodes:  []string{},
		SkippedNodes: []string{},
	}
	fail := func(msg string) *RunResult {
		res.Error = msg
		res.DurationMS = time.Since(start).Milliseconds()
		return res
	}

	if err := def.Validate(); err != nil {
		return fail(err.Error())
	}
	sources := make(map[string][]string, len(def.Nodes))
	dependents := make(map[string][]string, len(def.Nodes))
	for _, ed := range def.Edges {
		sources[ed.Target] = append(sources[ed.Target], ed.Source)
		dependents[ed.Source] = append(dependents[ed.Source], ed.Target)
	}
	if hasCycle(def, dependents) {
		return fail("Pipeline contains a cycle")
	}

	skipSet := map[string]struct{}{}
	if opts.StartFrom != "" {
		if _, ok := def.NodeByID(opts.StartFrom); !ok {
			return fail("Start node not found: " + opts.StartFrom)
		}
		skipSet = ancestors(opts.StartFrom, sources)
	}

	params := def.EffectiveParams(opts.Params)
	compiled := make(map[string]func(map[string]domain.Result, map[string]any) any, len(def.Nodes))
	for i := range def.Nodes {
		compiled[def.Nodes[i].ID] = compileValue(def.Nodes[i].Params)
	}

	st := &runState{
		results:      res.NodeResults,
		statuses:     res.NodeStatuses,
		failureSkips: map[string]struct{}{},
		total:        len(def.Nodes) - len(skipSet),
	}
	for i := range def.Nodes {
		st.statuses[def.Nodes[i].ID] = StatusPending
	}
	if opts.StartFrom != "" {
		for id, prev := range opts.PreviousResults {
			if _, ok := st.statuses[id]; !ok {
				continue
			}
			st.results[id] = prev
			st.statuses[id] = StatusCompleted
		}
	}
	for id := range skipSet {
		if st.statuses[id] == StatusCompleted {
			continue
		}
		st.statuses[id] = StatusSkipped
		st.skipped = append(st.skipped, id)
		st.results[id] = domain.Result{"success": true, "skipped": true}
	}

	emit := func(nodeID string, status NodeStatus, data map[string]any) {
		if opts.OnProgress == nil {
			return
		}
		st.mu.Lock()
		pct := st.progressLocked()
		st.mu.Unlock()
		opts.OnProgress(ProgressUpdate{
			PipelineID: def.ID,
			NodeID:     nodeID,
			NodeStatus: status,
			Progress:   pct,
			Data:       data,
		})
	}
	cancelled := func() bool { return opts.Cancelled != nil && opts.Cancelled() }
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}

	wasCancelled := false
	for {
		wave := e.nextWave(def, sources, st)
		if len(wave) == 0 {
			break
		}
		if cancelled() {
			wasCancelled = true
			st.skipPending(wave)
			break
		}

		sem := make(chan struct{}, maxParallel)
		var wg sync.WaitGroup
		for _, id := range wave {
			sem <- struct{}{}
			if cancelled() {
				wasCancelled = true
				st.markSkipped(id)
				<-sem
				continue
			}
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				defer func() { <-sem }()
				e.runNode(ctx, def, id, compiled[id], params, st, emit)
			}(id)
		}
		wg.Wait()
		if wasCancelled {
			st.skipPending(nil)
			break
		}
	}

	res.FailedNodes = st.failed
	res.SkippedNodes = st.skipped
	res.Success = !wasCancelled && len(st.failed) == 0
	if wasCancelled {
		res.Error = "Cancelled"
	}
	res.DurationMS = time.Since(start).Milliseconds()
	return res
}

// nextWave returns pending nodes whose sources are all settled, marking
// upstream-failure victims skipped along the way. An empty wave means the
// run is over.
func (e *Executor) nextWave(def *Definition, sources map[string][]string, st *runState) []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	for {
		var wave []string
		var toSkip []string
		for i := range def.Nodes {
			id := def.Nodes[i].ID
			if st.statuses[id] != StatusPending {
				continue
			}
			ready := true
			tainted := false
			for _, src := range sources[id] {
				switch st.statuses[src] {
				case StatusCompleted:
				case StatusFailed:
					tainted = true
				case StatusSkipped:
					if _, viaFailure := st.failureSkips[src]; viaFailure {
						tainted = true
					}
				default:
					ready = false
				}
			}
			if !ready {
				continue
			}
			if tainted {
				toSkip = append(toSkip, id)
				continue
			}
			wave = append(wave, id)
		}
		if len(toSkip) > 0 {
			for _, id := range toSkip {
				st.statuses[id] = StatusSkipped
				st.skipped = append(st.skipped, id)
				st.failureSkips[id] = struct{}{}
				st.results[id] = domain.Result{"success": false, "skipped": true}
			}
			// Re-scan: the new skips may settle further nodes.
			continue
		}
		return wave
	}
}

func (st *runState) markSkipped(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.statuses[id] == StatusPending {
		st.statuses[id] = StatusSkipped
		st.skipped = append(st.skipped, id)
	}
}

// skipPending marks every still-pending node skipped. ids, when non-nil,
// is processed first to keep the skip order stable for the current wave.
func (st *runState) skipPending(ids []string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, id := range ids {
		if st.statuses[id] == StatusPending {
			st.statuses[id] = StatusSkipped
			st.skipped = append(st.skipped, id)
		}
	}
	for id, status := range st.statuses {
		if status == StatusPending {
			st.statuses[id] = StatusSkipped
			st.skipped = append(st.skipped, id)
		}
	}
}

func (e *Executor) runNode(
	ctx context.Context,
	def *Definition,
	id string,
	resolve func(map[string]domain.Result, map[string]any) any,
	params map[string]any,
	st *runState,
	emit func(string, NodeStatus, map[string]any),
) {
	node, _ := def.NodeByID(id)

	st.mu.Lock()
	st.statuses[id] = StatusRunning
	// Resolution reads only settled results from earlier waves; snapshot
	// under the lock so concurrent writes from wave peers cannot race it.
	data, _ := resolve(st.results, params).(map[string]any)
	st.mu.Unlock()
	if data == nil {
		data = map[string]any{}
	}

	emit(id, StatusRunning, nil)

	result := e.registry.ExecuteTaskWithProgress(ctx, node.Type, data, func(update map[string]any) {
		emit(id, StatusRunning, update)
	})

	st.mu.Lock()
	st.results[id] = result
	// Every executed node advances progress, failures included, so the
	// percentage keeps converging on runs with failed nodes.
	st.completedExec++
	if result.OK() {
		st.statuses[id] = StatusCompleted
	} else {
		st.statuses[id] = StatusFailed
		st.failed = append(st.failed, id)
		e.logger.Warn("Pipeline node failed",
			"pipeline", def.ID, "node", id, "task_type", node.Type, "error", result.ErrorMessage())
	}
	status := st.statuses[id]
	st.mu.Unlock()

	emit(id, status, nil)
}

// hasCycle runs a three-colour DFS over the dependency graph.
func hasCycle(def *Definition, dependents map[string][]string) bool {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := make(map[string]int, len(def.Nodes))
	var visit func(id string) bool
	visit = func(id string) bool {
		colour[id] = grey
		for _, next := range dependents[id] {
			switch colour[next] {
			case grey:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		colour[id] = black
		return false
	}
	for i := range def.Nodes {
		if colour[def.Nodes[i].ID] == white {
			if visit(def.Nodes[i].ID) {
				return true
			}
		}
	}
	return false
}

// ancestors collects every transitive source of id, excluding id itself.
func ancestors(id string, sources map[string][]string) map[string]struct{} {
	out := map[string]struct{}{}
	queue := append([]string(nil), sources[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := out[cur]; seen {
			continue
		}
		out[cur] = struct{}{}
		queue = append(queue, sources[cur]...)
	}
	return out
}

// compileValue pre-parses a parameter value tree into a resolver. Strings
// are parsed into template fragments once; maps and slices recurse; other
// values pass through unchanged.
func compileValue(v any) func(map[string]domain.Result, map[string]any) any {
	switch x := v.(type) {
	case string:
		t := ParseTemplate(x)
		return func(results map[string]domain.Result, params map[string]any) any {
			return t.Resolve(results, params)
		}
	case map[string]any:
		sub := make(map[string]func(map[string]domain.Result, map[string]any) any, len(x))
		for k, vv := range x {
			sub[k] = compileValue(vv)
		}
		return func(results map[string]domain.Result, params map[string]any) any {
			out := make(map[string]any, len(sub))
			for k, f := range sub {
				out[k] = f(results, params)
			}
			return out
		}
	case []any:
		sub := make([]func(map[string]domain.Result, map[string]any) any, len(x))
		for i, vv := range x {
			sub[i] = compileValue(vv)
		}
		return func(results map[string]domain.Result, params map[string]any) any {
			out := make([]any, len(sub))
			for i, f := range sub {
				out[i] = f(results, params)
			}
			return out
		}
	case nil:
		return func(map[string]domain.Result, map[string]any) any {
			return map[string]any{}
		}
	default:
		return func(map[string]domain.Result, map[string]any) any { return v }
	}
}
