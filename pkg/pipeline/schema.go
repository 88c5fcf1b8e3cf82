package pipeline

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON string

var definitionSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("pipeline.schema.json", strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("pipeline schema resource: %v", err))
	}
	s, err := c.Compile("pipeline.schema.json")
	if err != nil {
		panic(fmt.Sprintf("pipeline schema compile: %v", err))
	}
	return s
}

// ParseDefinition validates raw pipeline JSON against the schema, decodes it,
// and runs structural validation. This is the single entry point for
// user-submitted pipelines.
func ParseDefinition(raw []byte) (*Definition, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := definitionSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("pipeline schema: %w", err)
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	if def.Nodes == nil {
		def.Nodes = []Node{}
	}
	if def.Edges == nil {
		def.Edges = []Edge{}
	}
	if def.ID != "" {
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}
	return &def, nil
}
