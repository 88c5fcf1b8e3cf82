// Package pipeline holds the DAG pipeline model and the wave executor.
package pipeline

import (
	"encoding/json"
	"fmt"
)

// Position is a canvas coordinate hint for editors. It has no execution
// semantics.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one task in the DAG. Params may contain {{node.field}} and
// {{params.name}} references that are resolved at execution time.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Name     string         `json:"name,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Position *Position      `json:"position,omitempty"`
}

// Edge is a directed dependency: Target runs after Source. Both the current
// {"source","target"} and the older {"source_node","target_node"} key pairs
// are accepted on input; output always uses the current pair.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (e *Edge) UnmarshalJSON(data []byte) error {
	var raw struct {
		Source     string `json:"source"`
		Target     string `json:"target"`
		SourceNode string `json:"source_node"`
		TargetNode string `json:"target_node"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Source = raw.Source
	if e.Source == "" {
		e.Source = raw.SourceNode
	}
	e.Target = raw.Target
	if e.Target == "" {
		e.Target = raw.TargetNode
	}
	return nil
}

// Param declares a pipeline-level parameter with an optional default.
// Run-time overrides shadow defaults by name.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Definition is a stored pipeline. The declared parameter list is
// "parameters" on the wire; the older "params" key is accepted on input.
type Definition struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Nodes       []Node  `json:"nodes"`
	Edges       []Edge  `json:"edges"`
	Params      []Param `json:"parameters,omitempty"`
	CreatedAt   int64   `json:"created_at,omitempty"`
	UpdatedAt   int64   `json:"updated_at,omitempty"`
}

func (d *Definition) UnmarshalJSON(data []byte) error {
	type alias Definition
	aux := struct {
		*alias
		LegacyParams []Param `json:"params"`
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(d.Params) == 0 {
		d.Params = aux.LegacyParams
	}
	return nil
}

// NodeByID returns the node with the given ID.
func (d *Definition) NodeByID(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// EffectiveParams merges declared parameter defaults with run-time overrides;
// overrides win.
func (d *Definition) EffectiveParams(overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(d.Params)+len(overrides))
	for _, p := range d.Params {
		if p.Default != nil {
			merged[p.Name] = p.Default
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Validate checks structural integrity: unique non-empty node IDs, node types
// present, and edges referencing existing nodes. It does not check for
// cycles — the executor owns that.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("pipeline id is required")
	}
	seen := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate node id: %s", n.ID)
		}
		if n.Type == "" {
			return fmt.Errorf("node %s has empty type", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for _, e := range d.Edges {
		if _, ok := seen[e.Source]; !ok {
			return fmt.Errorf("edge references unknown node: %s", e.Source)
		}
		if _, ok := seen[e.Target]; !ok {
			return fmt.Errorf("edge references unknown node: %s", e.Target)
		}
	}
	return nil
}
