// Package extract runs structured extraction: it plans a strategy from the
// schema, drives the oracle through one or more passes, and grades the
// results.
package extract

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/extractd/extractd/internal/chunker"
	"github.com/extractd/extractd/internal/merge"
	"github.com/extractd/extractd/internal/schema"
	"github.com/extractd/extractd/internal/score"
)

// StrategyDocumentChunked tags results assembled from multiple document
// chunks, on top of the schema-level strategies.
const StrategyDocumentChunked = "document_chunked"

// Confidence is the lightweight per-pass confidence summary carried between
// passes; the full report is recomputed once at the end.
type Confidence struct {
	Overall float64            `json:"overall"`
	Fields  map[string]float64 `json:"fields"`
}

// ChunkOutcome records one schema-chunk pass, including absorbed failures.
type ChunkOutcome struct {
	Data       map[string]any `json:"data"`
	Confidence Confidence     `json:"confidence"`
	ChunkID    int            `json:"chunk_id"`
	Priority   string         `json:"priority,omitempty"`
	Err        string         `json:"error,omitempty"`
}

// Result is the outcome of extracting one piece of text against one schema.
type Result struct {
	Data         map[string]any `json:"data"`
	Confidence   Confidence     `json:"confidence"`
	Strategy     string         `json:"strategy"`
	TokenUsage   int            `json:"token_usage"`
	TotalChunks  int            `json:"total_chunks,omitempty"`
	ChunkResults []ChunkOutcome `json:"chunk_results,omitempty"`
	Err          string         `json:"error,omitempty"`
}

// Engine coordinates extraction passes against the oracle.
type Engine struct {
	oracle      Oracle
	analyzer    *schema.Analyzer
	scorer      *score.Scorer
	chunkCfg    chunker.Config
	maxParallel int
	log         *slog.Logger
}

func NewEngine(oracle Oracle, analyzer *schema.Analyzer, scorer *score.Scorer, chunkCfg chunker.Config, maxParallel int, log *slog.Logger) *Engine {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		oracle:      oracle,
		analyzer:    analyzer,
		scorer:      scorer,
		chunkCfg:    chunkCfg,
		maxParallel: maxParallel,
		log:         log.With("component", "engine"),
	}
}

// Extract runs one extraction over text that already fits the document
// budget, dispatching on the analyzed schema strategy.
func (e *Engine) Extract(ctx context.Context, text string, node *schema.Node) *Result {
	analysis := e.analyzer.Analyze(node)

	switch analysis.Strategy {
	case schema.StrategyChunked:
		return e.extractChunked(ctx, text, node)
	case schema.StrategyHierarchical:
		return e.extractHierarchical(ctx, text, node)
	default:
		return e.extractSingle(ctx, text, node)
	}
}

// call invokes the oracle with retries on transient failures.
func (e *Engine) call(ctx context.Context, system, prompt string) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(Backoff(attempt - 1)):
			}
		}

		resp, err := e.oracle.Call(ctx, system, prompt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		e.log.Warn("oracle call failed, retrying",
			"attempt", attempt+1,
			"error", err)
	}
	return nil, lastErr
}

func (e *Engine) extractSingle(ctx context.Context, text string, node *schema.Node) *Result {
	resp, err := e.call(ctx, SystemPrompt, BuildPrompt(text, node, nil))
	if err != nil {
		e.log.Warn("single-pass extraction failed", "error", err)
		return &Result{
			Data:       map[string]any{},
			Confidence: Confidence{Fields: map[string]float64{}},
			Strategy:   string(schema.StrategySinglePass),
			Err:        err.Error(),
		}
	}

	report := e.scorer.Score(resp.Data, node, text)
	return &Result{
		Data:       resp.Data,
		Confidence: Confidence{Overall: report.Overall, Fields: report.Fields},
		Strategy:   string(schema.StrategySinglePass),
		TokenUsage: resp.TokensUsed,
	}
}

// extractHierarchical walks the schema level by level: top-level fields
// first, then each deeper nesting level, feeding accumulated data back into
// the prompt as context.
func (e *Engine) extractHierarchical(ctx context.Context, text string, node *schema.Node) *Result {
	levels := groupByLevel(e.analyzer.ExtractionOrder(node))

	accumulated := map[string]any{}
	fieldScores := map[string]float64{}
	totalTokens := 0

	for _, level := range sortedLevels(levels) {
		levelSchema := schema.Subset(node, levels[level])

		var prior any
		if len(accumulated) > 0 {
			prior = accumulated
		}

		resp, err := e.call(ctx, systemForLevel(level), BuildPrompt(text, levelSchema, prior))
		if err != nil {
			e.log.Warn("hierarchical level failed", "level", level, "error", err)
			continue
		}

		accumulated = merge.Deep(accumulated, resp.Data)
		report := e.scorer.Score(resp.Data, levelSchema, text)
		for path, s := range report.Fields {
			fieldScores[path] = s
		}
		totalTokens += resp.TokensUsed
	}

	return &Result{
		Data:       accumulated,
		Confidence: Confidence{Overall: meanScore(fieldScores), Fields: fieldScores},
		Strategy:   string(schema.StrategyHierarchical),
		TokenUsage: totalTokens,
	}
}

// extractChunked splits an oversized schema into chunks and extracts them
// sequentially, high-priority chunks first, passing dependency values from
// earlier chunks as context. Chunk failures are absorbed as empty outcomes.
func (e *Engine) extractChunked(ctx context.Context, text string, node *schema.Node) *Result {
	chunks := e.analyzer.ChunkSchema(node, e.analyzer.MaxTokensPerChunk())
	sort.SliceStable(chunks, func(i, j int) bool {
		return priorityRank(chunks[i].Priority) < priorityRank(chunks[j].Priority)
	})

	accumulated := map[string]any{}
	outcomes := make([]ChunkOutcome, 0, len(chunks))
	totalTokens := 0

	for _, c := range chunks {
		var prior any
		if s := chunkContext(accumulated, c.Dependencies); s != "" {
			prior = s
		}

		resp, err := e.call(ctx, systemForChunk(c.ID, c.TotalChunks), BuildPrompt(text, c.Schema, prior))
		if err != nil {
			e.log.Warn("schema chunk failed", "chunk_id", c.ID, "error", err)
			outcomes = append(outcomes, ChunkOutcome{
				Data:       map[string]any{},
				Confidence: Confidence{Fields: map[string]float64{}},
				ChunkID:    c.ID,
				Priority:   c.Priority,
				Err:        err.Error(),
			})
			continue
		}

		report := e.scorer.Score(resp.Data, c.Schema, text)
		outcomes = append(outcomes, ChunkOutcome{
			Data:       resp.Data,
			Confidence: Confidence{Overall: report.Overall, Fields: report.Fields},
			ChunkID:    c.ID,
			Priority:   c.Priority,
		})
		accumulated = merge.Deep(accumulated, resp.Data)
		totalTokens += resp.TokensUsed
	}

	merged := map[string]any{}
	fieldScores := map[string]float64{}
	for _, o := range outcomes {
		merged = merge.Deep(merged, o.Data)
		for path, s := range o.Confidence.Fields {
			fieldScores[path] = s
		}
	}

	return &Result{
		Data:         merged,
		Confidence:   Confidence{Overall: meanScore(fieldScores), Fields: fieldScores},
		Strategy:     string(schema.StrategyChunked),
		TokenUsage:   totalTokens,
		TotalChunks:  len(chunks),
		ChunkResults: outcomes,
	}
}

// chunkContext serializes previously extracted dependency values for a
// chunk prompt; empty when nothing relevant has been extracted yet.
func chunkContext(accumulated map[string]any, dependencies []string) string {
	if len(accumulated) == 0 || len(dependencies) == 0 {
		return ""
	}
	contextData := map[string]any{}
	for _, dep := range dependencies {
		if v := merge.GetPath(accumulated, dep); v != nil {
			contextData[dep] = v
		}
	}
	if len(contextData) == 0 {
		return ""
	}
	return "Previously extracted data: " + indentJSON(contextData)
}

func groupByLevel(order []string) map[int][]string {
	levels := map[int][]string{}
	for _, path := range order {
		level := strings.Count(path, ".")
		levels[level] = append(levels[level], path)
	}
	return levels
}

func sortedLevels(levels map[int][]string) []int {
	keys := make([]int, 0, len(levels))
	for k := range levels {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func priorityRank(priority string) int {
	switch priority {
	case schema.PriorityHigh:
		return 0
	case schema.PriorityMedium:
		return 1
	default:
		return 2
	}
}

func meanScore(fieldScores map[string]float64) float64 {
	if len(fieldScores) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, v := range fieldScores {
		sum += v
	}
	return sum / float64(len(fieldScores))
}
