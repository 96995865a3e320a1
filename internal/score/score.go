// Package score grades extraction results: per-field confidence from schema
// constraints and textual evidence, plus completion, consistency, and an
// overall weighted confidence.
package score

import (
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/extractd/extractd/internal/merge"
	"github.com/extractd/extractd/internal/schema"
)

// DefaultThreshold is used when a scorer is built without an explicit one.
const DefaultThreshold = 0.7

// Scorer grades extraction results against their schema.
type Scorer struct {
	threshold float64
}

func NewScorer(threshold float64) *Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scorer{threshold: threshold}
}

func (s *Scorer) Threshold() float64 { return s.threshold }

// Report is the full confidence analysis for one extraction.
type Report struct {
	Overall             float64            `json:"overall"`
	Fields              map[string]float64 `json:"fields"`
	Completion          Completion         `json:"completion"`
	Consistency         Consistency        `json:"consistency"`
	SchemaValid         bool               `json:"schema_valid"`
	ValidationError     string             `json:"validation_error,omitempty"`
	ReviewCandidates    []ReviewCandidate  `json:"review_candidates"`
	ConfidenceThreshold float64            `json:"confidence_threshold"`
}

// Completion counts how much of the schema the extraction filled in.
type Completion struct {
	TotalFields            int     `json:"total_fields"`
	CompletedFields        int     `json:"completed_fields"`
	RequiredFields         int     `json:"required_fields"`
	CompletedRequired      int     `json:"completed_required"`
	CompletionRate         float64 `json:"completion_rate"`
	RequiredCompletionRate float64 `json:"required_completion_rate"`
}

// Consistency measures agreement between extracted values and their declared
// types and enums.
type Consistency struct {
	TypeConsistency       float64 `json:"type_consistency"`
	EnumConsistency       float64 `json:"enum_consistency"`
	CrossFieldConsistency float64 `json:"cross_field_consistency"`
	Overall               float64 `json:"overall"`
}

// ReviewCandidate flags a field whose confidence fell below the threshold.
type ReviewCandidate struct {
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Priority   string  `json:"priority"`
}

// Score produces a full confidence report for extracted data against its
// schema, using the source text for evidence checks.
func (s *Scorer) Score(data map[string]any, node *schema.Node, sourceText string) *Report {
	valid, validationErr := schema.Validate(data, node)
	fields := schema.Flatten(node)

	fieldScores := make(map[string]float64, len(fields))
	for _, f := range fields {
		value := merge.GetPath(data, f.Path)
		fieldScores[f.Path] = s.ScoreField(value, f.Node, f.Required, sourceText)
	}

	completion := completionMetrics(data, fields)
	consistency := s.consistency(data, fields)

	return &Report{
		Overall:             overall(fieldScores, completion, consistency, valid),
		Fields:              fieldScores,
		Completion:          completion,
		Consistency:         consistency,
		SchemaValid:         valid,
		ValidationError:     validationErr,
		ReviewCandidates:    s.ReviewCandidates(fieldScores),
		ConfidenceThreshold: s.threshold,
	}
}

// ScoreField grades one extracted value against its field schema. Absent
// values score 0.0 when required and 0.5 otherwise; present values multiply
// constraint factors and clamp to [0,1].
func (s *Scorer) ScoreField(value any, field *schema.Node, required bool, sourceText string) float64 {
	if value == nil {
		if required {
			return 0.0
		}
		return 0.5
	}

	confidence := scoreType(value, field)
	confidence *= scoreEnum(value, field)
	confidence *= scorePattern(value, field)
	confidence *= scoreRange(value, field)
	confidence *= scoreLength(value, field)
	confidence *= scoreEvidence(value, sourceText)

	return math.Max(0.0, math.Min(1.0, confidence))
}

// ReviewCandidates lists fields scoring strictly below the threshold,
// lowest confidence first.
func (s *Scorer) ReviewCandidates(fieldScores map[string]float64) []ReviewCandidate {
	candidates := []ReviewCandidate{}
	for path, score := range fieldScores {
		if score >= s.threshold {
			continue
		}
		candidates = append(candidates, ReviewCandidate{
			Field:      path,
			Confidence: score,
			Reason:     reviewReason(score),
			Priority:   reviewPriority(score),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence < candidates[j].Confidence
		}
		return candidates[i].Field < candidates[j].Field
	})
	return candidates
}

func reviewReason(confidence float64) string {
	switch {
	case confidence < 0.3:
		return "Very low confidence - likely extraction error"
	case confidence < 0.5:
		return "Low confidence - validation failed"
	case confidence < 0.7:
		return "Medium confidence - may need verification"
	default:
		return "Below threshold - minor issues detected"
	}
}

func reviewPriority(confidence float64) string {
	switch {
	case confidence < 0.3:
		return "high"
	case confidence < 0.5:
		return "medium"
	default:
		return "low"
	}
}

func completionMetrics(data map[string]any, fields []schema.Field) Completion {
	var c Completion
	c.TotalFields = len(fields)
	for _, f := range fields {
		value := merge.GetPath(data, f.Path)
		if f.Required {
			c.RequiredFields++
			if value != nil {
				c.CompletedRequired++
			}
		}
		if value != nil {
			c.CompletedFields++
		}
	}
	if c.TotalFields > 0 {
		c.CompletionRate = float64(c.CompletedFields) / float64(c.TotalFields)
	}
	c.RequiredCompletionRate = 1.0
	if c.RequiredFields > 0 {
		c.RequiredCompletionRate = float64(c.CompletedRequired) / float64(c.RequiredFields)
	}
	return c
}

// consistency computes type and enum agreement ratios over the top-level
// extracted fields, treating a factor of at least 0.8 as consistent. The
// cross-field component has no per-schema rules and stays at a fixed 0.8.
func (s *Scorer) consistency(data map[string]any, fields []schema.Field) Consistency {
	byPath := make(map[string]*schema.Node, len(fields))
	for _, f := range fields {
		byPath[f.Path] = f.Node
	}

	typeTotal, typeConsistent := 0, 0
	enumTotal, enumConsistent := 0, 0
	for path, value := range merge.Flatten(data) {
		if strings.Contains(path, ".") {
			continue
		}
		field, ok := byPath[path]
		if !ok {
			continue
		}
		typeTotal++
		if scoreType(value, field) >= 0.8 {
			typeConsistent++
		}
		if field.Enum != nil {
			enumTotal++
			if scoreEnum(value, field) >= 0.8 {
				enumConsistent++
			}
		}
	}

	out := Consistency{
		TypeConsistency:       1.0,
		EnumConsistency:       1.0,
		CrossFieldConsistency: 0.8,
	}
	if typeTotal > 0 {
		out.TypeConsistency = float64(typeConsistent) / float64(typeTotal)
	}
	if enumTotal > 0 {
		out.EnumConsistency = float64(enumConsistent) / float64(enumTotal)
	}
	out.Overall = (out.TypeConsistency + out.EnumConsistency + out.CrossFieldConsistency) / 3
	return out
}

func overall(fieldScores map[string]float64, completion Completion, consistency Consistency, valid bool) float64 {
	if len(fieldScores) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, v := range fieldScores {
		sum += v
	}
	fieldConfidence := sum / float64(len(fieldScores))

	completionFactor := completion.CompletionRate*0.3 + completion.RequiredCompletionRate*0.7

	schemaFactor := 0.5
	if valid {
		schemaFactor = 1.0
	}

	combined := fieldConfidence*0.5 + completionFactor*0.2 + consistency.Overall*0.2 + schemaFactor*0.1
	return math.Max(0.0, math.Min(1.0, combined))
}

func scoreType(value any, field *schema.Node) float64 {
	expected := field.Type
	if expected == "" {
		return 1.0
	}

	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return 1.0
		}
		// Numbers and booleans convert to strings cleanly.
		switch value.(type) {
		case float64, bool:
			return 0.8
		}
		return 0.3
	case "number":
		if _, ok := value.(float64); ok {
			return 1.0
		}
		return 0.3
	case "integer":
		if n, ok := value.(float64); ok && math.Trunc(n) == n {
			return 1.0
		}
		return 0.3
	case "boolean":
		if _, ok := value.(bool); ok {
			return 1.0
		}
		return 0.3
	case "array":
		if _, ok := value.([]any); ok {
			return 1.0
		}
		return 0.3
	case "object":
		if _, ok := value.(map[string]any); ok {
			return 1.0
		}
		return 0.3
	case "null":
		if value == nil {
			return 1.0
		}
		return 0.3
	}
	return 0.3
}

func scoreEnum(value any, field *schema.Node) float64 {
	if field.Enum == nil {
		return 1.0
	}
	for _, member := range field.Enum {
		if reflect.DeepEqual(value, member) {
			return 1.0
		}
	}
	if s, ok := value.(string); ok {
		for _, member := range field.Enum {
			if ms, ok := member.(string); ok && strings.EqualFold(s, ms) {
				return 0.9
			}
		}
	}
	return 0.2
}

func scorePattern(value any, field *schema.Node) float64 {
	s, ok := value.(string)
	if !ok || field.Pattern == "" {
		return 1.0
	}
	re, err := regexp.Compile(field.Pattern)
	if err != nil {
		// An invalid pattern is a schema defect, not a data defect.
		return 1.0
	}
	if loc := re.FindStringIndex(s); loc != nil && loc[0] == 0 {
		return 1.0
	}
	return 0.4
}

func scoreRange(value any, field *schema.Node) float64 {
	n, ok := value.(float64)
	if !ok {
		return 1.0
	}
	score := 1.0
	if field.Minimum != nil && n < *field.Minimum {
		score *= 0.3
	}
	if field.Maximum != nil && n > *field.Maximum {
		score *= 0.3
	}
	if field.ExclusiveMinimum != nil && n <= *field.ExclusiveMinimum {
		score *= 0.3
	}
	if field.ExclusiveMaximum != nil && n >= *field.ExclusiveMaximum {
		score *= 0.3
	}
	return score
}

func scoreLength(value any, field *schema.Node) float64 {
	var length int
	switch v := value.(type) {
	case string:
		length = utf8.RuneCountInString(v)
	case []any:
		length = len(v)
	default:
		return 1.0
	}
	score := 1.0
	if field.MinLength != nil && length < *field.MinLength {
		score *= 0.5
	}
	if field.MaxLength != nil && length > *field.MaxLength {
		score *= 0.5
	}
	return score
}

// scoreEvidence checks whether a string value is grounded in the source
// text: verbatim containment scores full, multi-word values get partial
// credit per matched word, and everything else stays neutral.
func scoreEvidence(value any, sourceText string) float64 {
	s, ok := value.(string)
	if !ok || sourceText == "" {
		return 1.0
	}

	valueLower := strings.ToLower(s)
	textLower := strings.ToLower(sourceText)

	if strings.Contains(textLower, valueLower) {
		return 1.0
	}

	words := strings.Fields(valueLower)
	if len(words) > 1 {
		matches := 0
		for _, word := range words {
			if strings.Contains(textLower, word) {
				matches++
			}
		}
		return 0.5 + (float64(matches)/float64(len(words)))*0.5
	}

	return 0.7
}
