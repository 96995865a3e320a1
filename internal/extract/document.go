package extract

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/extractd/extractd/internal/chunker"
	"github.com/extractd/extractd/internal/merge"
	"github.com/extractd/extractd/internal/schema"
	"github.com/extractd/extractd/internal/score"
)

// DocumentResult is the full outcome for one document: the merged data, the
// recomputed confidence report, and how the schema and document were
// analyzed and segmented.
type DocumentResult struct {
	Data       map[string]any       `json:"data"`
	Confidence *score.Report        `json:"confidence"`
	Strategy   string               `json:"strategy"`
	TokenUsage int                  `json:"token_usage"`
	Analysis   schema.Analysis      `json:"schema_analysis"`
	Document   chunker.DocumentInfo `json:"document_info"`
}

// ExtractDocument runs the full pipeline: analyze the schema, segment the
// document if it exceeds the token budget, extract every text chunk (in
// parallel, bounded), merge, and grade the merged result against the full
// schema and source text. Cancellation abandons unfinished chunks and
// returns the partial merge.
func (e *Engine) ExtractDocument(ctx context.Context, text string, node *schema.Node) *DocumentResult {
	analysis := e.analyzer.Analyze(node)
	info := chunker.Process(text, e.chunkCfg)

	var combined *Result
	if !info.NeedsChunking {
		combined = e.Extract(ctx, text, node)
	} else {
		e.log.Info("document exceeds token budget, segmenting",
			"total_tokens", info.TotalTokens,
			"chunks", info.TotalChunks)

		results := make([]*Result, len(info.Chunks))
		g, gctx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, e.maxParallel)
		for i, c := range info.Chunks {
			i, c := i, c
			g.Go(func() error {
				select {
				case sem <- struct{}{}:
				case <-gctx.Done():
					return gctx.Err()
				}
				defer func() { <-sem }()
				results[i] = e.Extract(gctx, c.Text, node)
				return nil
			})
		}
		// Chunk failures are absorbed inside Extract; only cancellation
		// surfaces here, and a partial merge is still worth returning.
		_ = g.Wait()
		combined = MergeDocumentResults(results)
	}

	report := e.scorer.Score(combined.Data, node, text)
	return &DocumentResult{
		Data:       combined.Data,
		Confidence: report,
		Strategy:   combined.Strategy,
		TokenUsage: combined.TokenUsage,
		Analysis:   analysis,
		Document:   info,
	}
}

// MergeDocumentResults folds per-chunk results into one, in chunk sequence
// order. Field confidences are averaged over the chunks that scored the
// field and weighted by how many chunks actually produced a value for it.
func MergeDocumentResults(results []*Result) *Result {
	valid := make([]*Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			valid = append(valid, r)
		}
	}

	if len(valid) == 0 {
		return &Result{
			Data:       map[string]any{},
			Confidence: Confidence{Fields: map[string]float64{}},
			Strategy:   StrategyDocumentChunked,
		}
	}
	if len(valid) == 1 {
		out := *valid[0]
		out.Strategy = StrategyDocumentChunked
		out.TotalChunks = 1
		return &out
	}

	resolver := merge.NewResolver()
	merged := map[string]any{}
	scoreSums := map[string]float64{}
	scoreCounts := map[string]int{}
	totalTokens := 0

	for _, r := range valid {
		merged = resolver.Merge(merged, r.Data)
		for path, s := range r.Confidence.Fields {
			scoreSums[path] += s
			scoreCounts[path]++
		}
		totalTokens += r.TokenUsage
	}

	totalChunks := float64(len(valid))
	fields := make(map[string]float64, len(scoreSums))
	for path := range scoreSums {
		mean := scoreSums[path] / float64(scoreCounts[path])
		fields[path] = mean * (float64(resolver.Occurrences(path)) / totalChunks)
	}

	return &Result{
		Data:        merged,
		Confidence:  Confidence{Overall: meanScore(fields), Fields: fields},
		Strategy:    StrategyDocumentChunked,
		TokenUsage:  totalTokens,
		TotalChunks: len(valid),
	}
}
