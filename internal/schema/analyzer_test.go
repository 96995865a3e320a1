package schema

import (
	"fmt"
	"strings"
	"testing"
)

func TestFlatten_NoDuplicatesAndLeafCount(t *testing.T) {
	n := mustParse(t, `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"address": {
				"type": "object",
				"properties": {
					"street": {"type": "string"},
					"city": {"type": "string"}
				}
			},
			"tags": {"type": "array", "items": {"type": "string"}}
		}
	}`)

	fields := Flatten(n)
	if len(fields) != 4 {
		t.Fatalf("expected 4 leaf fields, got %d", len(fields))
	}

	seen := map[string]bool{}
	for _, f := range fields {
		if seen[f.Path] {
			t.Errorf("duplicate path %q", f.Path)
		}
		seen[f.Path] = true
	}
	for _, want := range []string{"name", "address.street", "address.city", "tags"} {
		if !seen[want] {
			t.Errorf("missing path %q", want)
		}
	}
}

func TestFlatten_EmptyPropertiesYieldsNothing(t *testing.T) {
	n := mustParse(t, `{"type": "object", "properties": {}}`)
	if fields := Flatten(n); len(fields) != 0 {
		t.Errorf("expected empty flatten, got %v", fields)
	}

	// An object child with an empty properties map contributes nothing either.
	n = mustParse(t, `{"type": "object", "properties": {"empty": {"type": "object", "properties": {}}}}`)
	if fields := Flatten(n); len(fields) != 0 {
		t.Errorf("expected empty flatten for nested empty object, got %v", fields)
	}
}

func TestFlatten_RequiredFromBothConventions(t *testing.T) {
	n := mustParse(t, `{
		"type": "object",
		"required": ["listed"],
		"properties": {
			"listed": {"type": "string"},
			"flagged": {"type": "string", "required": true},
			"optional": {"type": "string"}
		}
	}`)
	byPath := map[string]Field{}
	for _, f := range Flatten(n) {
		byPath[f.Path] = f
	}
	if !byPath["listed"].Required {
		t.Errorf("list-form required not honored")
	}
	if !byPath["flagged"].Required {
		t.Errorf("leaf-boolean required not honored")
	}
	if byPath["optional"].Required {
		t.Errorf("optional field marked required")
	}
}

func TestDepth_IncreasesPerNestingLevel(t *testing.T) {
	flat := mustParse(t, `{"type": "object", "properties": {"a": {"type": "string"}}}`)
	if d := Depth(flat); d != 0 {
		t.Errorf("flat schema depth: expected 0, got %d", d)
	}

	one := mustParse(t, `{"type": "object", "properties": {"a": {"type": "object", "properties": {"b": {"type": "string"}}}}}`)
	if d := Depth(one); d != 1 {
		t.Errorf("one nested level: expected 1, got %d", d)
	}

	two := mustParse(t, `{"type": "object", "properties": {"a": {"type": "object", "properties": {"b": {"type": "object", "properties": {"c": {"type": "string"}}}}}}}`)
	if d := Depth(two); d != 2 {
		t.Errorf("two nested levels: expected 2, got %d", d)
	}
}

func TestCountEnums_IncludesItems(t *testing.T) {
	n := mustParse(t, `{
		"type": "object",
		"properties": {
			"color": {"type": "string", "enum": ["red", "green", "blue"]},
			"sizes": {"type": "array", "items": {"type": "string", "enum": ["s", "m"]}}
		}
	}`)
	if c := CountEnums(n); c != 5 {
		t.Errorf("expected 5 enum values, got %d", c)
	}
}

func TestAnalyze_StrategySelection(t *testing.T) {
	a := NewAnalyzer(100000, "gpt-4.1")

	simple := mustParse(t, `{"type": "object", "properties": {"name": {"type": "string"}}}`)
	if got := a.Analyze(simple).Strategy; got != StrategySinglePass {
		t.Errorf("simple schema: expected single_pass, got %s", got)
	}

	nested := mustParse(t, `{
		"type": "object",
		"properties": {
			"a": {"type": "object", "properties": {"x": {"type": "object", "properties": {"y": {"type": "string"}}}}},
			"b": {"type": "object", "properties": {"z": {"type": "string"}}}
		}
	}`)
	analysis := a.Analyze(nested)
	if analysis.Strategy != StrategyHierarchical {
		t.Errorf("nested schema: expected hierarchical, got %s", analysis.Strategy)
	}
	if analysis.NeedsChunking {
		t.Errorf("nested schema under budget should not need chunking")
	}

	// A tiny budget forces chunking regardless of depth.
	tiny := NewAnalyzer(1, "gpt-4.1")
	analysis = tiny.Analyze(simple)
	if analysis.Strategy != StrategyChunked {
		t.Errorf("over-budget schema: expected chunked, got %s", analysis.Strategy)
	}
	if !analysis.NeedsChunking {
		t.Errorf("over-budget schema should need chunking")
	}
}

func TestAnalyze_ComplexityScoreCapped(t *testing.T) {
	// Build a schema big enough to hit every component cap.
	var sb strings.Builder
	sb.WriteString(`{"type": "object", "properties": {`)
	for i := 0; i < 30; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `"obj%d": {"type": "object", "properties": {`, i)
		for j := 0; j < 10; j++ {
			if j > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, `"f%d": {"type": "string", "enum": ["a","b","c","d","e","f","g","h","i","j"]}`, j)
		}
		sb.WriteString("}}")
	}
	sb.WriteString("}}")

	deep := `{"type":"object","properties":{"l1":{"type":"object","properties":{"l2":{"type":"object","properties":{"l3":{"type":"object","properties":{"l4":{"type":"object","properties":{"l5":{"type":"object","properties":{"l6":{"type":"object","properties":{"x":{"type":"string"}}}}}}}}}}}}}}}`

	a := NewAnalyzer(100000, "gpt-4.1")
	wide := a.Analyze(mustParse(t, sb.String()))
	if wide.ComplexityScore > 100 {
		t.Errorf("score exceeds 100: %d", wide.ComplexityScore)
	}
	if wide.ComplexityScore < 50 {
		t.Errorf("large schema should score high, got %d", wide.ComplexityScore)
	}

	// Depth component alone caps at 30.
	d := a.Analyze(mustParse(t, deep))
	if d.Metrics.MaxDepth < 6 {
		t.Fatalf("expected depth >= 6, got %d", d.Metrics.MaxDepth)
	}
	if d.ComplexityScore > 30+25+25+20 {
		t.Errorf("score exceeds component caps: %d", d.ComplexityScore)
	}
}

func TestAnalyze_Metrics(t *testing.T) {
	n := mustParse(t, `{
		"type": "object",
		"required": ["name", "age"],
		"properties": {
			"name": {"type": "string"},
			"age": {"type": "integer"},
			"address": {
				"type": "object",
				"required": ["city"],
				"properties": {"city": {"type": "string"}}
			}
		}
	}`)
	a := NewAnalyzer(100000, "gpt-4.1")
	m := a.Analyze(n).Metrics

	if m.TotalFields != 3 {
		t.Errorf("total_fields: expected 3, got %d", m.TotalFields)
	}
	if m.ObjectCount != 1 {
		t.Errorf("object_count: expected 1, got %d", m.ObjectCount)
	}
	if m.RequiredFields != 3 {
		t.Errorf("required_fields: expected 3, got %d", m.RequiredFields)
	}
	if m.EstimatedTokens <= 0 {
		t.Errorf("estimated_tokens should be positive")
	}
}
