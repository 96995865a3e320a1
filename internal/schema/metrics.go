package schema

import "strings"

// Field is a flattened leaf: a dot-delimited path plus the leaf schema.
// Required reflects both the leaf-boolean convention and membership in the
// parent object's required list.
type Field struct {
	Path     string
	Node     *Node
	Required bool
}

// Flatten reduces a schema tree to its leaf fields in declaration order.
// A node counts as a leaf when it carries no properties map; an object with
// an empty properties map contributes nothing.
func Flatten(n *Node) []Field {
	fields := []Field{}
	flattenInto(n, "", &fields)
	return fields
}

func flattenInto(n *Node, prefix string, out *[]Field) {
	required := make(map[string]bool, len(n.Required))
	for _, name := range n.Required {
		required[name] = true
	}

	for _, p := range n.Properties {
		path := p.Name
		if prefix != "" {
			path = prefix + "." + p.Name
		}
		if p.Node.Properties != nil {
			flattenInto(p.Node, path, out)
			continue
		}
		*out = append(*out, Field{
			Path:     path,
			Node:     p.Node,
			Required: p.Node.RequiredFlag || required[p.Name],
		})
	}
}

// FieldAt navigates the schema tree along a dotted path through properties.
// Returns nil when the path does not resolve.
func FieldAt(root *Node, path string) *Node {
	current := root
	for _, part := range strings.Split(path, ".") {
		current = current.Property(part)
		if current == nil {
			return nil
		}
	}
	return current
}

// Depth returns the maximum object-nesting depth: zero for a schema whose
// properties hold no further objects, increasing by one per nested level.
func Depth(n *Node) int {
	return depthFrom(n, 0)
}

func depthFrom(n *Node, current int) int {
	max := current
	for _, p := range n.Properties {
		if p.Node.Properties != nil {
			if d := depthFrom(p.Node, current+1); d > max {
				max = d
			}
		}
	}
	return max
}

// CountObjects counts object-typed children, recursively. A child counts
// when it declares type object or carries a properties map.
func CountObjects(n *Node) int {
	count := 0
	for _, p := range n.Properties {
		if p.Node.Type == "object" || p.Node.Properties != nil {
			count++
			count += CountObjects(p.Node)
		}
	}
	return count
}

// CountEnums totals enum cardinality across the tree, including array item
// schemas and the root itself.
func CountEnums(n *Node) int {
	count := len(n.Enum)
	for _, p := range n.Properties {
		count += CountEnums(p.Node)
	}
	if n.Items != nil {
		count += CountEnums(n.Items)
	}
	return count
}

// CountRequired totals entries of list-form required declarations across
// the tree.
func CountRequired(n *Node) int {
	count := len(n.Required)
	for _, p := range n.Properties {
		count += CountRequired(p.Node)
	}
	return count
}
