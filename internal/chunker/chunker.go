// Package chunker splits long input text into sentence-aligned,
// token-bounded, overlapping segments for multi-call extraction.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/extractd/extractd/internal/token"
)

// Config controls segmentation behavior.
type Config struct {
	MaxTokens     int    // Per-chunk token budget.
	OverlapTokens int    // Separate, smaller budget for the overlap prefix.
	Model         string // Selects the token-estimation encoding.
}

// DefaultConfig returns sensible defaults sized for large-context models.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     900000,
		OverlapTokens: 5000,
		Model:         "gpt-4.1",
	}
}

// Chunk is one bounded text segment. Offsets are rune-based positions in
// the source text; the overlap prefix is excluded from offset accounting.
type Chunk struct {
	Text          string `json:"text"`
	Index         int    `json:"chunk_id"`
	StartPos      int    `json:"start_pos"`
	EndPos        int    `json:"end_pos"`
	TokenCount    int    `json:"token_count"`
	SentenceCount int    `json:"sentence_count"`
	HasOverlap    bool   `json:"has_overlap,omitempty"`
}

// DocumentInfo describes how a document was segmented.
type DocumentInfo struct {
	NeedsChunking bool    `json:"needs_chunking"`
	TotalTokens   int     `json:"total_tokens"`
	Chunks        []Chunk `json:"chunks"`
	TotalChunks   int     `json:"total_chunks"`
	OverlapTokens int     `json:"overlap_tokens,omitempty"`
}

// Process segments a document if its token estimate exceeds the budget.
// Text that fits comes back as a single chunk spanning the whole input.
func Process(text string, cfg Config) DocumentInfo {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 900000
	}
	if cfg.OverlapTokens <= 0 {
		cfg.OverlapTokens = 5000
	}

	totalTokens := token.Estimate(text, cfg.Model)
	if totalTokens <= cfg.MaxTokens {
		return DocumentInfo{
			NeedsChunking: false,
			TotalTokens:   totalTokens,
			Chunks: []Chunk{{
				Text:          text,
				Index:         0,
				StartPos:      0,
				EndPos:        utf8.RuneCountInString(text),
				TokenCount:    totalTokens,
				SentenceCount: 1,
			}},
			TotalChunks: 1,
		}
	}

	chunks := chunkText(text, cfg)
	return DocumentInfo{
		NeedsChunking: true,
		TotalTokens:   totalTokens,
		Chunks:        chunks,
		TotalChunks:   len(chunks),
		OverlapTokens: cfg.OverlapTokens,
	}
}

// chunkText greedily accumulates sentences under the token budget. When a
// chunk closes because the next sentence would overflow it, the next chunk
// is seeded with the tail sentences of the current one, and the closed
// chunk's text gains an overlap prefix from its predecessor.
func chunkText(text string, cfg Config) []Chunk {
	sentences := SplitSentences(text)

	var chunks []Chunk
	var current []string
	currentTokens := 0
	position := 0

	finalize := func(withOverlap bool) {
		joined := strings.Join(current, " ")
		chunkText := joined
		overlap := ""
		if withOverlap {
			overlap = overlapExcerpt(chunks, cfg)
			if overlap != "" {
				chunkText = overlap + " " + joined
			}
		}
		chunks = append(chunks, Chunk{
			Text:          chunkText,
			Index:         len(chunks),
			StartPos:      position - utf8.RuneCountInString(joined),
			EndPos:        position,
			TokenCount:    token.Estimate(chunkText, cfg.Model),
			SentenceCount: len(current),
			HasOverlap:    overlap != "",
		})
	}

	for _, sentence := range sentences {
		sentenceTokens := token.Estimate(sentence, cfg.Model)

		// A sentence that alone exceeds the budget is split by clauses,
		// then by words, each piece becoming its own chunk.
		if sentenceTokens > cfg.MaxTokens {
			if len(current) > 0 {
				finalize(false)
				current = nil
				currentTokens = 0
			}
			for _, piece := range splitOversized(sentence, cfg) {
				n := utf8.RuneCountInString(piece)
				chunks = append(chunks, Chunk{
					Text:          piece,
					Index:         len(chunks),
					StartPos:      position,
					EndPos:        position + n,
					TokenCount:    token.Estimate(piece, cfg.Model),
					SentenceCount: 1,
				})
				position += n
			}
			continue
		}

		if currentTokens+sentenceTokens > cfg.MaxTokens && len(current) > 0 {
			finalize(true)

			// Seed the next chunk with the tail of this one.
			seed := seedSentences(current)
			current = append([]string{}, seed...)
			currentTokens = 0
			for _, s := range seed {
				currentTokens += token.Estimate(s, cfg.Model)
			}
		}

		current = append(current, sentence)
		currentTokens += sentenceTokens
		position += utf8.RuneCountInString(sentence) + 1
	}

	if len(current) > 0 {
		finalize(true)
	}
	return chunks
}

// minSentenceRunes is the noise cutoff: shorter fragments are discarded.
const minSentenceRunes = 10

// SplitSentences splits text at terminal punctuation followed by whitespace
// and a capital letter. Fragments at or below the noise cutoff are dropped;
// if that discards everything, the whole text counts as one sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)

	var sentences []string
	var current strings.Builder
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if !isTerminal(runes[i]) {
			continue
		}
		// Require whitespace then an uppercase letter to call it a boundary.
		j := i + 1
		sawSpace := false
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			sawSpace = true
			j++
		}
		if sawSpace && j < len(runes) && unicode.IsUpper(runes[j]) {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
			i = j - 1
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	cleaned := sentences[:0]
	for _, s := range sentences {
		if utf8.RuneCountInString(s) > minSentenceRunes {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return []string{text}
	}
	return cleaned
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Clause separators tried in order when a single sentence exceeds the budget.
var clausePatterns = []*regexp.Regexp{
	regexp.MustCompile(`,\s+`),
	regexp.MustCompile(`;\s+`),
	regexp.MustCompile(`\s+and\s+`),
	regexp.MustCompile(`\s+or\s+`),
	regexp.MustCompile(`\s+but\s+`),
}

// splitOversized breaks a sentence that exceeds the budget, first along
// clause separators (accepted only when every piece fits) and then word by
// word as a last resort.
func splitOversized(sentence string, cfg Config) []string {
	for _, pattern := range clausePatterns {
		parts := pattern.Split(sentence, -1)
		if len(parts) <= 1 {
			continue
		}

		var pieces []string
		currentPiece := ""
		for _, part := range parts {
			candidate := currentPiece + part
			if token.Estimate(candidate, cfg.Model) <= cfg.MaxTokens {
				currentPiece = candidate
				continue
			}
			if currentPiece != "" {
				pieces = append(pieces, currentPiece)
			}
			currentPiece = part
		}
		if currentPiece != "" {
			pieces = append(pieces, currentPiece)
		}

		fits := true
		for _, p := range pieces {
			if token.Estimate(p, cfg.Model) > cfg.MaxTokens {
				fits = false
				break
			}
		}
		if fits {
			return pieces
		}
	}

	// Word-level fallback.
	var pieces []string
	var currentWords []string
	for _, word := range strings.Fields(sentence) {
		candidate := append(currentWords, word)
		if token.Estimate(strings.Join(candidate, " "), cfg.Model) <= cfg.MaxTokens {
			currentWords = candidate
			continue
		}
		if len(currentWords) > 0 {
			pieces = append(pieces, strings.Join(currentWords, " "))
		}
		currentWords = []string{word}
	}
	if len(currentWords) > 0 {
		pieces = append(pieces, strings.Join(currentWords, " "))
	}
	return pieces
}

// seedSentences picks the tail sentences carried into the next chunk: the
// last 1-2 sentences, at most one-third of the chunk's sentence count, and
// nothing for chunks of two sentences or fewer.
func seedSentences(current []string) []string {
	if len(current) <= 2 {
		return nil
	}
	n := len(current) / 3
	if n > 2 {
		n = 2
	}
	if n == 0 {
		return nil
	}
	return current[len(current)-n:]
}

// overlapExcerpt takes the previous chunk's final sentences as a prefix for
// the next chunk's text, truncated word by word from the end to fit the
// overlap budget.
func overlapExcerpt(existing []Chunk, cfg Config) string {
	if len(existing) == 0 {
		return ""
	}

	prev := SplitSentences(existing[len(existing)-1].Text)
	tail := prev
	if len(prev) >= 2 {
		tail = prev[len(prev)-2:]
	}
	excerpt := strings.Join(tail, " ")

	if token.Estimate(excerpt, cfg.Model) <= cfg.OverlapTokens {
		return excerpt
	}

	words := strings.Fields(excerpt)
	var kept []string
	for i := len(words) - 1; i >= 0; i-- {
		candidate := append([]string{words[i]}, kept...)
		if token.Estimate(strings.Join(candidate, " "), cfg.Model) > cfg.OverlapTokens {
			break
		}
		kept = candidate
	}
	return strings.Join(kept, " ")
}
