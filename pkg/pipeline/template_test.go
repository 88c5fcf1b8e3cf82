package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencli/daemon/pkg/domain"
)

func TestTemplate_SingleRefPreservesType(t *testing.T) {
	results := map[string]domain.Result{
		"calc": {"success": true, "result": 4.0, "items": []any{1.0, 2.0}},
	}

	tests := []struct {
		name string
		in   string
		want any
	}{
		{"number stays a number", "{{calc.result}}", 4.0},
		{"list stays a list", "{{calc.items}}", []any{1.0, 2.0}},
		{"bool stays a bool", "{{calc.success}}", true},
		{"whitespace inside braces is not trimmed", "{{ calc.result }}", "{{ calc.result }}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTemplate(tt.in).Resolve(results, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplate_MixedRendersToString(t *testing.T) {
	results := map[string]domain.Result{
		"calc": {"success": true, "result": 4.0},
		"name": {"success": true, "value": "world"},
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"embedded number", "{{calc.result}}*3", "4*3"},
		{"two refs", "hello {{name.value}}: {{calc.result}}", "hello world: 4"},
		{"fractional number keeps its decimals", "x={{calc.result}}", "x=4"},
		{"no refs passes through", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTemplate(tt.in).Resolve(results, nil)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("non-integral float", func(t *testing.T) {
		got := ParseTemplate("v={{f.x}}").Resolve(map[string]domain.Result{"f": {"x": 2.5}}, nil)
		assert.Equal(t, "v=2.5", got)
	})
}

func TestTemplate_UnresolvableKeepsLiteral(t *testing.T) {
	results := map[string]domain.Result{
		"calc": {"success": true, "result": 4.0},
	}

	t.Run("single missing ref returns raw string", func(t *testing.T) {
		got := ParseTemplate("{{missing.field}}").Resolve(results, nil)
		assert.Equal(t, "{{missing.field}}", got)
	})

	t.Run("missing field on known node", func(t *testing.T) {
		got := ParseTemplate("{{calc.nope}}").Resolve(results, nil)
		assert.Equal(t, "{{calc.nope}}", got)
	})

	t.Run("mixed hit and miss", func(t *testing.T) {
		got := ParseTemplate("{{calc.result}} and {{missing.field}}").Resolve(results, nil)
		assert.Equal(t, "4 and {{missing.field}}", got)
	})

	t.Run("ref without a dot is literal", func(t *testing.T) {
		got := ParseTemplate("{{justaword}}").Resolve(results, nil)
		assert.Equal(t, "{{justaword}}", got)
	})
}

func TestTemplate_Params(t *testing.T) {
	params := map[string]any{"quality": "high", "count": 3.0}

	t.Run("typed param", func(t *testing.T) {
		assert.Equal(t, 3.0, ParseTemplate("{{params.count}}").Resolve(nil, params))
	})
	t.Run("embedded param", func(t *testing.T) {
		assert.Equal(t, "q=high", ParseTemplate("q={{params.quality}}").Resolve(nil, params))
	})
	t.Run("missing param keeps literal", func(t *testing.T) {
		assert.Equal(t, "{{params.nope}}", ParseTemplate("{{params.nope}}").Resolve(nil, params))
	})
}

func TestResolveValue_Recurses(t *testing.T) {
	results := map[string]domain.Result{"n": {"out": "/tmp/a.png"}}
	in := map[string]any{
		"image": "{{n.out}}",
		"nested": map[string]any{
			"list": []any{"{{n.out}}", 7.0},
		},
		"count": 2.0,
	}
	got := ResolveValue(in, results, nil).(map[string]any)
	assert.Equal(t, "/tmp/a.png", got["image"])
	assert.Equal(t, 2.0, got["count"])
	nested := got["nested"].(map[string]any)
	assert.Equal(t, []any{"/tmp/a.png", 7.0}, nested["list"])
}
