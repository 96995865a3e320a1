package schema

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/extractd/extractd/internal/token"
)

// Chunk priorities, from the share of required fields among chunk members.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// FieldDependency describes one flattened field in the dependency graph.
type FieldDependency struct {
	DependsOn []string `json:"depends_on"`
	Required  bool     `json:"required"`
	Type      string   `json:"type"`
	HasEnum   bool     `json:"has_enum"`
}

// Chunk is a dependency-respecting partition of a schema. Dependencies lists
// field paths the chunk relies on but does not itself define.
type Chunk struct {
	Schema       *Node    `json:"schema"`
	ID           int      `json:"chunk_id"`
	TotalChunks  int      `json:"total_chunks"`
	Dependencies []string `json:"dependencies"`
	Priority     string   `json:"priority"`
}

// DependencyGraph maps every flattened field path to its dependency record.
// References come from resolved $ref pointers and from property names inside
// a field's conditional subschema.
func (a *Analyzer) DependencyGraph(n *Node) map[string]FieldDependency {
	fields := Flatten(n)
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Path] = true
	}

	graph := make(map[string]FieldDependency, len(fields))
	for _, f := range fields {
		graph[f.Path] = FieldDependency{
			DependsOn: fieldReferences(f.Node, known),
			Required:  f.Required,
			Type:      f.Node.Type,
			HasEnum:   f.Node.Enum != nil,
		}
	}
	return graph
}

// fieldReferences resolves a field's $ref pointer and conditional subschema
// into field paths. A $ref is kept only when it names a flattened field.
func fieldReferences(n *Node, known map[string]bool) []string {
	var refs []string

	if n.Ref != "" {
		path := strings.ReplaceAll(strings.ReplaceAll(n.Ref, "#/", ""), "/", ".")
		if known[path] {
			refs = append(refs, path)
		}
	}
	if n.If != nil {
		refs = append(refs, propertyNames(n.If)...)
	}
	return refs
}

// propertyNames collects property names at any depth of a subschema.
func propertyNames(n *Node) []string {
	var names []string
	for _, p := range n.Properties {
		names = append(names, p.Name)
		names = append(names, propertyNames(p.Node)...)
	}
	if n.Items != nil {
		names = append(names, propertyNames(n.Items)...)
	}
	if n.If != nil {
		names = append(names, propertyNames(n.If)...)
	}
	return names
}

// ExtractionOrder returns field paths in depth-first topological order over
// the dependency graph. A field re-entered while still on the DFS stack is a
// cycle; it is skipped rather than revisited, which breaks the cycle by
// omission.
func (a *Analyzer) ExtractionOrder(n *Node) []string {
	graph := a.DependencyGraph(n)
	fields := Flatten(n)

	ordered := make([]string, 0, len(fields))
	visited := make(map[string]bool, len(fields))
	inProgress := make(map[string]bool)

	var visit func(path string)
	visit = func(path string) {
		if inProgress[path] || visited[path] {
			return
		}
		inProgress[path] = true
		for _, dep := range graph[path].DependsOn {
			if _, ok := graph[dep]; ok {
				visit(dep)
			}
		}
		delete(inProgress, path)
		visited[path] = true
		ordered = append(ordered, path)
	}

	for _, f := range fields {
		visit(f.Path)
	}
	return ordered
}

// ChunkSchema partitions a schema into token-bounded chunks, walking fields
// in extraction order. A schema that fits the budget comes back as a single
// high-priority chunk with no dependencies.
func (a *Analyzer) ChunkSchema(n *Node, maxTokens int) []Chunk {
	if maxTokens <= 0 {
		maxTokens = a.maxTokensPerChunk
	}

	if a.EstimateTokens(n) <= maxTokens {
		return []Chunk{{
			Schema:       n,
			ID:           0,
			TotalChunks:  1,
			Dependencies: []string{},
			Priority:     PriorityHigh,
		}}
	}

	graph := a.DependencyGraph(n)
	order := a.ExtractionOrder(n)

	var chunks []Chunk
	current := &Node{Properties: []Property{}}
	var members []string
	currentTokens := 0

	closeChunk := func() {
		chunks = append(chunks, Chunk{
			Schema:       current,
			ID:           len(chunks),
			Dependencies: chunkDependencies(members, graph),
			Priority:     chunkPriority(members, graph),
		})
		current = &Node{Properties: []Property{}}
		members = nil
		currentTokens = 0
	}

	for _, path := range order {
		fieldNode := FieldAt(n, path)
		if fieldNode == nil {
			continue
		}
		cost := a.fieldTokens(path, fieldNode)

		if currentTokens+cost > maxTokens && len(current.Properties) > 0 {
			closeChunk()
		}

		addFieldPath(current, strings.Split(path, "."), fieldNode)
		members = append(members, path)
		currentTokens += cost
	}
	if len(current.Properties) > 0 {
		closeChunk()
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// Subset builds a partial schema restricted to the given field paths, with
// typed-object intermediates. Paths that do not resolve are skipped.
func Subset(root *Node, paths []string) *Node {
	out := &Node{Type: "object", Properties: []Property{}}
	for _, path := range paths {
		fieldNode := FieldAt(root, path)
		if fieldNode == nil {
			continue
		}
		addFieldPath(out, strings.Split(path, "."), fieldNode)
	}
	return out
}

// addFieldPath grafts a leaf schema into a partial tree, creating object
// intermediates along the way.
func addFieldPath(root *Node, parts []string, fieldNode *Node) {
	current := root
	for _, part := range parts[:len(parts)-1] {
		child := current.Property(part)
		if child == nil {
			child = &Node{Type: "object", Properties: []Property{}}
			current.Properties = append(current.Properties, Property{Name: part, Node: child})
		}
		if child.Properties == nil {
			child.Properties = []Property{}
		}
		current = child
	}
	name := parts[len(parts)-1]
	if current.Property(name) == nil {
		current.Properties = append(current.Properties, Property{Name: name, Node: fieldNode})
	}
}

// fieldTokens estimates the serialized cost of one path-keyed field entry.
func (a *Analyzer) fieldTokens(path string, fieldNode *Node) int {
	compact, err := json.Marshal(map[string]*Node{path: fieldNode})
	if err != nil {
		return 1
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return token.Estimate(string(compact), a.model)
	}
	return token.Estimate(out.String(), a.model)
}

func chunkDependencies(members []string, graph map[string]FieldDependency) []string {
	inChunk := make(map[string]bool, len(members))
	for _, m := range members {
		inChunk[m] = true
	}

	seen := make(map[string]bool)
	deps := []string{}
	for _, m := range members {
		for _, dep := range graph[m].DependsOn {
			if !inChunk[dep] && !seen[dep] {
				seen[dep] = true
				deps = append(deps, dep)
			}
		}
	}
	return deps
}

func chunkPriority(members []string, graph map[string]FieldDependency) string {
	if len(members) == 0 {
		return PriorityLow
	}
	required := 0
	for _, m := range members {
		if graph[m].Required {
			required++
		}
	}
	ratio := float64(required) / float64(len(members))
	switch {
	case ratio > 0.7:
		return PriorityHigh
	case ratio > 0.3:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
