package schema

import (
	"github.com/extractd/extractd/internal/token"
)

// Strategy is the extraction execution plan chosen from schema complexity.
type Strategy string

const (
	StrategySinglePass   Strategy = "single_pass"
	StrategyHierarchical Strategy = "hierarchical"
	StrategyChunked      Strategy = "chunked"
)

// Metrics are the raw complexity measurements of a schema.
type Metrics struct {
	MaxDepth        int `json:"max_depth"`
	TotalFields     int `json:"total_fields"`
	ObjectCount     int `json:"object_count"`
	EnumComplexity  int `json:"enum_complexity"`
	EstimatedTokens int `json:"estimated_tokens"`
	RequiredFields  int `json:"required_fields"`
}

// Analysis is the result of complexity analysis: metrics, a 0-100 score,
// and the strategy decision.
type Analysis struct {
	Metrics         Metrics  `json:"metrics"`
	ComplexityScore int      `json:"complexity_score"`
	Strategy        Strategy `json:"strategy"`
	NeedsChunking   bool     `json:"needs_chunking"`
}

// Analyzer computes schema complexity and segments oversized schemas.
// All methods are pure functions of their inputs.
type Analyzer struct {
	maxTokensPerChunk int
	model             string
}

// NewAnalyzer returns an analyzer with the given per-chunk token budget.
// The model selects the token-estimation encoding.
func NewAnalyzer(maxTokensPerChunk int, model string) *Analyzer {
	if maxTokensPerChunk <= 0 {
		maxTokensPerChunk = 100000
	}
	return &Analyzer{maxTokensPerChunk: maxTokensPerChunk, model: model}
}

// MaxTokensPerChunk returns the configured per-chunk token budget.
func (a *Analyzer) MaxTokensPerChunk() int {
	return a.maxTokensPerChunk
}

// EstimateTokens estimates the prompt token cost of a serialized schema.
func (a *Analyzer) EstimateTokens(n *Node) int {
	return token.Estimate(string(n.JSONIndent()), a.model)
}

// Analyze computes metrics, a complexity score, and the strategy for a schema.
func (a *Analyzer) Analyze(n *Node) Analysis {
	metrics := Metrics{
		MaxDepth:        Depth(n),
		TotalFields:     len(Flatten(n)),
		ObjectCount:     CountObjects(n),
		EnumComplexity:  CountEnums(n),
		EstimatedTokens: a.EstimateTokens(n),
		RequiredFields:  CountRequired(n),
	}

	return Analysis{
		Metrics:         metrics,
		ComplexityScore: complexityScore(metrics),
		Strategy:        a.strategy(metrics),
		NeedsChunking:   metrics.EstimatedTokens > a.maxTokensPerChunk,
	}
}

// complexityScore is a weighted sum with per-component caps: depth up to 30,
// field count up to 25, object count up to 25, enum volume up to 20. The
// caps alone keep the integer sum at 100 or below.
func complexityScore(m Metrics) int {
	score := minF(30, float64(m.MaxDepth)*5)
	score += minF(25, float64(m.TotalFields)/10)
	score += minF(25, float64(m.ObjectCount)*2)
	score += minF(20, float64(m.EnumComplexity)/50)
	return int(score)
}

// strategy decides the execution plan. Budget overflow forces chunking;
// any nesting or multiple objects warrant hierarchical passes.
func (a *Analyzer) strategy(m Metrics) Strategy {
	switch {
	case m.EstimatedTokens > a.maxTokensPerChunk:
		return StrategyChunked
	case m.MaxDepth > 1 || m.ObjectCount > 1:
		return StrategyHierarchical
	default:
		return StrategySinglePass
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
