package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/extractd/extractd/internal/schema"
)

// SystemPrompt is the default system message for one-shot extraction.
const SystemPrompt = "You are an expert data extraction system. Extract structured data from text according to the provided JSON schema. Return only valid JSON that matches the schema exactly."

// systemForLevel frames a hierarchical pass at a specific nesting level.
func systemForLevel(level int) string {
	return fmt.Sprintf("You are extracting data at hierarchy level %d. Use any previously extracted data as context.", level)
}

// systemForChunk frames a pass over one schema chunk of a larger schema.
func systemForChunk(chunkID, totalChunks int) string {
	return fmt.Sprintf("You are extracting chunk %d of %d. Use provided context from previous extractions.", chunkID+1, totalChunks)
}

// BuildPrompt assembles the user prompt: source text, serialized schema,
// optional context from earlier passes, and the fixed instruction block.
// Context may be a JSON-serializable object or a preformatted string.
func BuildPrompt(text string, node *schema.Node, context any) string {
	var sb strings.Builder
	sb.WriteString("Extract structured data from the following text according to the JSON schema provided.\n")
	sb.WriteString("\nTEXT TO EXTRACT FROM:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nJSON SCHEMA:\n")
	sb.Write(node.JSONIndent())
	sb.WriteString("\n")

	switch c := context.(type) {
	case map[string]any:
		if len(c) > 0 {
			sb.WriteString("\nCONTEXT FROM PREVIOUS EXTRACTIONS:\n")
			sb.WriteString(indentJSON(c))
			sb.WriteString("\n")
		}
	case string:
		if c != "" {
			sb.WriteString("\nCONTEXT:\n")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nINSTRUCTIONS:\n")
	sb.WriteString("1. Extract data that matches the schema exactly\n")
	sb.WriteString("2. Use null for missing required fields\n")
	sb.WriteString("3. Ensure all enum values match exactly\n")
	sb.WriteString("4. Maintain proper data types (string, number, boolean, array, object)\n")
	sb.WriteString("5. Return only valid JSON that conforms to the schema\n")
	sb.WriteString("\nEXTRACTED DATA:")
	return sb.String()
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
