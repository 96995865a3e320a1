// Package token estimates prompt token counts without pulling in a tokenizer.
// Counts are heuristic but stable, which is all the budgeting logic needs.
package token

import "strings"

// encoding holds the tuning constants for one tokenizer family.
type encoding struct {
	charsPerToken  float64
	tokensPerWord  float64
}

var encodings = map[string]encoding{
	"cl100k_base": {charsPerToken: 4.0, tokensPerWord: 1.33},
	"o200k_base":  {charsPerToken: 4.2, tokensPerWord: 1.25},
	"p50k_base":   {charsPerToken: 3.8, tokensPerWord: 1.4},
}

// DefaultEncoding is used when a model identifier is not recognized.
const DefaultEncoding = "cl100k_base"

// modelEncodings maps model-name prefixes to encodings. Order matters:
// longer prefixes must come first.
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4.1", "o200k_base"},
	{"gpt-4o", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"text-davinci", "p50k_base"},
}

// EncodingFor returns the encoding name for a model, falling back to
// DefaultEncoding for unknown models.
func EncodingFor(model string) string {
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			return m.encoding
		}
	}
	return DefaultEncoding
}

// Estimate returns an approximate token count for text under the given
// model's tokenizer. An unrecognized model never fails; it estimates with
// the default encoding.
func Estimate(text, model string) int {
	if text == "" {
		return 0
	}
	enc := encodings[EncodingFor(model)]

	byChars := float64(len(text)) / enc.charsPerToken
	byWords := float64(len(strings.Fields(text))) * enc.tokensPerWord

	// Word-based estimates undercount code and JSON; char-based estimates
	// undercount prose. Take the larger so budgets err on the safe side.
	est := byChars
	if byWords > est {
		est = byWords
	}
	n := int(est)
	if n < 1 {
		n = 1
	}
	return n
}
