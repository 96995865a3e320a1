package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/extractd/extractd/internal/chunker"
	"github.com/extractd/extractd/internal/schema"
	"github.com/extractd/extractd/internal/score"
)

type scriptStep struct {
	data   map[string]any
	tokens int
	err    error
}

// scriptedOracle replays queued responses and records every call.
type scriptedOracle struct {
	mu      sync.Mutex
	queue   []scriptStep
	systems []string
	prompts []string
}

func (o *scriptedOracle) Call(_ context.Context, system, prompt string) (*Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.systems = append(o.systems, system)
	o.prompts = append(o.prompts, prompt)
	if len(o.queue) == 0 {
		return &Response{Data: map[string]any{}}, nil
	}
	step := o.queue[0]
	o.queue = o.queue[1:]
	if step.err != nil {
		return nil, step.err
	}
	return &Response{Data: step.data, TokensUsed: step.tokens}, nil
}

func (o *scriptedOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.systems)
}

// fixedOracle returns the same response on every call; safe under
// concurrency where scripted ordering would be nondeterministic.
type fixedOracle struct {
	data   map[string]any
	tokens int
}

func (o *fixedOracle) Call(_ context.Context, _, _ string) (*Response, error) {
	return &Response{Data: o.data, TokensUsed: o.tokens}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(oracle Oracle, schemaBudget int) *Engine {
	return NewEngine(
		oracle,
		schema.NewAnalyzer(schemaBudget, "gpt-4.1"),
		score.NewScorer(0.7),
		chunker.Config{MaxTokens: 100000, OverlapTokens: 100, Model: "gpt-4.1"},
		2,
		quietLogger(),
	)
}

func parseNode(t *testing.T, raw string) *schema.Node {
	t.Helper()
	n, err := schema.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	return n
}

func TestExtract_SinglePass(t *testing.T) {
	oracle := &scriptedOracle{queue: []scriptStep{
		{data: map[string]any{"name": "Jane Doe"}, tokens: 42},
	}}
	e := newTestEngine(oracle, 100000)
	n := parseNode(t, `{"type": "object", "properties": {"name": {"type": "string"}}}`)

	result := e.Extract(context.Background(), "Signed by Jane Doe.", n)

	if result.Strategy != "single_pass" {
		t.Errorf("strategy: got %q", result.Strategy)
	}
	if result.Data["name"] != "Jane Doe" {
		t.Errorf("data: got %v", result.Data)
	}
	if result.TokenUsage != 42 {
		t.Errorf("token usage: got %d", result.TokenUsage)
	}
	if result.Confidence.Fields["name"] != 1.0 {
		t.Errorf("name confidence: got %f", result.Confidence.Fields["name"])
	}
	if oracle.callCount() != 1 {
		t.Errorf("expected 1 oracle call, got %d", oracle.callCount())
	}

	prompt := oracle.prompts[0]
	for _, want := range []string{"TEXT TO EXTRACT FROM:", "JSON SCHEMA:", "INSTRUCTIONS:", "EXTRACTED DATA:"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing section %q", want)
		}
	}
}

func TestExtract_HierarchicalAccumulatesLevels(t *testing.T) {
	oracle := &scriptedOracle{queue: []scriptStep{
		{data: map[string]any{"name": "Jane"}, tokens: 10},
		{data: map[string]any{"company": map[string]any{"city": "Berlin"}}, tokens: 20},
	}}
	e := newTestEngine(oracle, 100000)
	n := parseNode(t, `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"company": {
				"type": "object",
				"properties": {"city": {"type": "string"}}
			}
		}
	}`)

	result := e.Extract(context.Background(), "Jane works in Berlin.", n)

	if result.Strategy != "hierarchical" {
		t.Errorf("strategy: got %q", result.Strategy)
	}
	if oracle.callCount() != 2 {
		t.Fatalf("expected one call per level, got %d", oracle.callCount())
	}
	if result.Data["name"] != "Jane" {
		t.Errorf("level 0 data lost: %v", result.Data)
	}
	company, _ := result.Data["company"].(map[string]any)
	if company["city"] != "Berlin" {
		t.Errorf("level 1 data lost: %v", result.Data)
	}
	if result.TokenUsage != 30 {
		t.Errorf("token usage should sum levels, got %d", result.TokenUsage)
	}

	// The second level sees earlier results as context.
	if !strings.Contains(oracle.prompts[1], "CONTEXT FROM PREVIOUS EXTRACTIONS:") {
		t.Errorf("level 1 prompt missing context block")
	}
	if !strings.Contains(oracle.prompts[1], "Jane") {
		t.Errorf("level 1 context missing accumulated data")
	}
	if !strings.Contains(oracle.systems[0], "hierarchy level 0") {
		t.Errorf("level 0 system prompt: %q", oracle.systems[0])
	}
}

func TestExtract_HierarchicalLevelFailureAbsorbed(t *testing.T) {
	oracle := &scriptedOracle{queue: []scriptStep{
		{err: errors.New("oracle unavailable")},
		{data: map[string]any{"company": map[string]any{"city": "Berlin"}}, tokens: 20},
	}}
	e := newTestEngine(oracle, 100000)
	n := parseNode(t, `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"company": {
				"type": "object",
				"properties": {"city": {"type": "string"}}
			}
		}
	}`)

	result := e.Extract(context.Background(), "Berlin office.", n)

	if _, ok := result.Data["name"]; ok {
		t.Errorf("failed level should contribute nothing")
	}
	company, _ := result.Data["company"].(map[string]any)
	if company["city"] != "Berlin" {
		t.Errorf("surviving level lost: %v", result.Data)
	}
}

func TestExtract_ChunkedMergesChunks(t *testing.T) {
	// A tiny schema budget forces the chunked strategy and multiple chunks.
	oracle := &fixedOracle{data: map[string]any{"f1": "alpha", "f2": "beta"}, tokens: 5}
	e := newTestEngine(oracle, 12)
	n := parseNode(t, `{
		"type": "object",
		"properties": {
			"f1": {"type": "string"},
			"f2": {"type": "string"}
		}
	}`)

	result := e.Extract(context.Background(), "alpha and beta appear here.", n)

	if result.Strategy != "chunked" {
		t.Fatalf("strategy: got %q", result.Strategy)
	}
	if result.TotalChunks < 2 {
		t.Fatalf("expected multiple schema chunks, got %d", result.TotalChunks)
	}
	if len(result.ChunkResults) != result.TotalChunks {
		t.Errorf("chunk outcomes: got %d, want %d", len(result.ChunkResults), result.TotalChunks)
	}
	if result.Data["f1"] != "alpha" || result.Data["f2"] != "beta" {
		t.Errorf("merged data wrong: %v", result.Data)
	}
}

func TestExtract_SinglePassFailureReturnsEmptyResult(t *testing.T) {
	oracle := &scriptedOracle{queue: []scriptStep{
		{err: errors.New("bad payload")},
	}}
	e := newTestEngine(oracle, 100000)
	n := parseNode(t, `{"type": "object", "properties": {"name": {"type": "string"}}}`)

	result := e.Extract(context.Background(), "anything", n)

	if result.Err == "" {
		t.Errorf("expected error recorded on result")
	}
	if len(result.Data) != 0 {
		t.Errorf("failed extraction should carry empty data, got %v", result.Data)
	}
	if result.Confidence.Overall != 0.0 {
		t.Errorf("failed extraction confidence should be zero")
	}
	// Non-retryable errors fail immediately.
	if oracle.callCount() != 1 {
		t.Errorf("expected no retries, got %d calls", oracle.callCount())
	}
}

func TestExtractDocument_SmallDocument(t *testing.T) {
	oracle := &scriptedOracle{queue: []scriptStep{
		{data: map[string]any{"name": "Jane Doe"}, tokens: 12},
	}}
	e := newTestEngine(oracle, 100000)
	n := parseNode(t, `{"type": "object", "properties": {"name": {"type": "string"}}}`)

	doc := e.ExtractDocument(context.Background(), "Signed by Jane Doe.", n)

	if doc.Strategy != "single_pass" {
		t.Errorf("small document keeps the schema strategy, got %q", doc.Strategy)
	}
	if doc.Document.NeedsChunking {
		t.Errorf("small document should not be segmented")
	}
	if doc.Confidence == nil || doc.Confidence.ConfidenceThreshold != 0.7 {
		t.Errorf("final report missing or threshold wrong: %+v", doc.Confidence)
	}
	if doc.Data["name"] != "Jane Doe" {
		t.Errorf("data: %v", doc.Data)
	}
}

func TestExtractDocument_ChunkedDocumentMerges(t *testing.T) {
	oracle := &fixedOracle{data: map[string]any{"name": "Jane Doe"}, tokens: 3}
	e := NewEngine(
		oracle,
		schema.NewAnalyzer(100000, "gpt-4.1"),
		score.NewScorer(0.7),
		chunker.Config{MaxTokens: 60, OverlapTokens: 10, Model: "gpt-4.1"},
		2,
		quietLogger(),
	)
	n := parseNode(t, `{"type": "object", "properties": {"name": {"type": "string"}}}`)

	text := strings.Repeat("Jane Doe signed yet another page of the agreement today. ", 40)
	doc := e.ExtractDocument(context.Background(), text, n)

	if doc.Strategy != StrategyDocumentChunked {
		t.Fatalf("strategy: got %q", doc.Strategy)
	}
	if !doc.Document.NeedsChunking || doc.Document.TotalChunks < 2 {
		t.Fatalf("expected segmentation, got %d chunks", doc.Document.TotalChunks)
	}
	if doc.Data["name"] != "Jane Doe" {
		t.Errorf("merged data: %v", doc.Data)
	}
	// Every chunk contributed, so the occurrence weight stays at 1.
	if doc.Confidence.Fields["name"] != 1.0 {
		t.Errorf("name confidence: got %f", doc.Confidence.Fields["name"])
	}
	if doc.TokenUsage != 3*doc.Document.TotalChunks {
		t.Errorf("token usage should sum chunks: got %d for %d chunks", doc.TokenUsage, doc.Document.TotalChunks)
	}
}

func TestMergeDocumentResults_LongerStringWins(t *testing.T) {
	a := &Result{
		Data:       map[string]any{"name": "Jane"},
		Confidence: Confidence{Fields: map[string]float64{"name": 0.8}},
		TokenUsage: 10,
	}
	b := &Result{
		Data:       map[string]any{"name": "Jane Doe"},
		Confidence: Confidence{Fields: map[string]float64{"name": 1.0}},
		TokenUsage: 15,
	}

	merged := MergeDocumentResults([]*Result{a, b})

	if merged.Data["name"] != "Jane Doe" {
		t.Errorf("expected longer string, got %v", merged.Data["name"])
	}
	if merged.Strategy != StrategyDocumentChunked {
		t.Errorf("strategy: got %q", merged.Strategy)
	}
	if merged.TokenUsage != 25 {
		t.Errorf("token usage: got %d", merged.TokenUsage)
	}
	// Mean of 0.8 and 1.0, present in both chunks.
	if got := merged.Confidence.Fields["name"]; got != 0.9 {
		t.Errorf("weighted confidence: expected 0.9, got %f", got)
	}
}

func TestMergeDocumentResults_OccurrenceWeighting(t *testing.T) {
	a := &Result{
		Data:       map[string]any{"name": "Jane"},
		Confidence: Confidence{Fields: map[string]float64{"name": 1.0}},
	}
	b := &Result{
		Data:       map[string]any{},
		Confidence: Confidence{Fields: map[string]float64{"name": 0.0}},
	}

	merged := MergeDocumentResults([]*Result{a, b})

	// Mean of (1.0, 0.0) is 0.5, weighted by 1 occurrence out of 2 chunks.
	if got := merged.Confidence.Fields["name"]; got != 0.25 {
		t.Errorf("expected 0.25, got %f", got)
	}
}

func TestMergeDocumentResults_BooleanOr(t *testing.T) {
	a := &Result{Data: map[string]any{"flag": false}, Confidence: Confidence{Fields: map[string]float64{"flag": 1.0}}}
	b := &Result{Data: map[string]any{"flag": true}, Confidence: Confidence{Fields: map[string]float64{"flag": 1.0}}}

	merged := MergeDocumentResults([]*Result{a, b})
	if merged.Data["flag"] != true {
		t.Errorf("expected OR semantics, got %v", merged.Data["flag"])
	}
}

func TestMergeDocumentResults_SingleResultPassesThrough(t *testing.T) {
	only := &Result{
		Data:       map[string]any{"name": "Jane"},
		Confidence: Confidence{Overall: 0.9, Fields: map[string]float64{"name": 0.9}},
		Strategy:   "single_pass",
		TokenUsage: 7,
	}
	merged := MergeDocumentResults([]*Result{only})

	if merged.Strategy != StrategyDocumentChunked || merged.TotalChunks != 1 {
		t.Errorf("single result metadata: %+v", merged)
	}
	if merged.Data["name"] != "Jane" || merged.TokenUsage != 7 {
		t.Errorf("single result content changed: %+v", merged)
	}
}

func TestMergeDocumentResults_Empty(t *testing.T) {
	merged := MergeDocumentResults(nil)
	if len(merged.Data) != 0 || merged.Strategy != StrategyDocumentChunked || merged.TotalChunks != 0 {
		t.Errorf("empty merge: %+v", merged)
	}
}
