// Package schema models JSON-Schema-like extraction schemas as an explicit
// tagged tree, analyzes their complexity, and partitions oversized schemas
// into dependency-ordered chunks.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrNotObject is returned by Parse when the schema root is not a JSON object.
var ErrNotObject = errors.New("schema must be a JSON object")

// Node is one schema tree node. A node is an object when it carries a
// properties map, an array when it carries an items schema, and a leaf
// otherwise. Only the keywords the extraction pipeline interprets are typed;
// everything else is retained in Extra and reserialized as-is.
type Node struct {
	Type       string
	Properties []Property // nil means no "properties" key; empty means "properties": {}
	Items      *Node
	Enum       []any

	// Required holds the object-level "required": [...] list. RequiredFlag
	// holds the leaf-level "required": true convention. Both occur in
	// schemas submitted to this service.
	Required     []string
	RequiredFlag bool

	Pattern          string
	Minimum          *float64
	Maximum          *float64
	ExclusiveMinimum *float64
	ExclusiveMaximum *float64
	MinLength        *int
	MaxLength        *int

	// Ref and If are never dereferenced structurally; dependency analysis
	// resolves them to field-path references.
	Ref string
	If  *Node

	Extra map[string]json.RawMessage
}

// Property is a named child schema. Declaration order is preserved because
// flattening, extraction order, and chunking are all order-sensitive.
type Property struct {
	Name string
	Node *Node
}

// Parse decodes a raw schema document into a Node tree. A root that is not
// a JSON object is rejected before any analysis.
func Parse(raw []byte) (*Node, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &n, nil
}

// Property returns the named child schema, or nil.
func (n *Node) Property(name string) *Node {
	for _, p := range n.Properties {
		if p.Name == name {
			return p.Node
		}
	}
	return nil
}

// UnmarshalJSON decodes a schema node, preserving property declaration order.
func (n *Node) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	for key, raw := range fields {
		var err error
		switch key {
		case "type":
			err = json.Unmarshal(raw, &n.Type)
		case "properties":
			n.Properties, err = parseProperties(raw)
		case "items":
			n.Items = &Node{}
			err = json.Unmarshal(raw, n.Items)
		case "enum":
			err = json.Unmarshal(raw, &n.Enum)
		case "required":
			// Leaf-boolean or object-list convention.
			var flag bool
			if json.Unmarshal(raw, &flag) == nil {
				n.RequiredFlag = flag
			} else {
				err = json.Unmarshal(raw, &n.Required)
			}
		case "pattern":
			err = json.Unmarshal(raw, &n.Pattern)
		case "minimum":
			err = json.Unmarshal(raw, &n.Minimum)
		case "maximum":
			err = json.Unmarshal(raw, &n.Maximum)
		case "exclusiveMinimum":
			err = json.Unmarshal(raw, &n.ExclusiveMinimum)
		case "exclusiveMaximum":
			err = json.Unmarshal(raw, &n.ExclusiveMaximum)
		case "minLength":
			err = json.Unmarshal(raw, &n.MinLength)
		case "maxLength":
			err = json.Unmarshal(raw, &n.MaxLength)
		case "$ref":
			err = json.Unmarshal(raw, &n.Ref)
		case "if":
			n.If = &Node{}
			err = json.Unmarshal(raw, n.If)
		default:
			if n.Extra == nil {
				n.Extra = make(map[string]json.RawMessage)
			}
			n.Extra[key] = raw
		}
		if err != nil {
			return fmt.Errorf("schema key %q: %w", key, err)
		}
	}
	return nil
}

// parseProperties reads a properties object with a token decoder so that
// key order survives the round trip.
func parseProperties(raw json.RawMessage) ([]Property, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("properties must be an object")
	}

	props := []Property{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}

		child := &Node{}
		trimmed := bytes.TrimLeft(value, " \t\r\n")
		if len(trimmed) > 0 && trimmed[0] == '{' {
			if err := json.Unmarshal(value, child); err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
		}
		props = append(props, Property{Name: name, Node: child})
	}
	return props, nil
}

// MarshalJSON reserializes the node with canonical key order and properties
// in declaration order, so prompts and token estimates are deterministic.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true

	writeRaw := func(name string, raw []byte) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(raw)
	}
	writeField := func(name string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeRaw(name, raw)
		return nil
	}

	if n.Type != "" {
		if err := writeField("type", n.Type); err != nil {
			return nil, err
		}
	}
	if n.Properties != nil {
		var pb bytes.Buffer
		pb.WriteByte('{')
		for i, p := range n.Properties {
			if i > 0 {
				pb.WriteByte(',')
			}
			key, _ := json.Marshal(p.Name)
			pb.Write(key)
			pb.WriteByte(':')
			child, err := json.Marshal(p.Node)
			if err != nil {
				return nil, err
			}
			pb.Write(child)
		}
		pb.WriteByte('}')
		writeRaw("properties", pb.Bytes())
	}
	if n.Items != nil {
		if err := writeField("items", n.Items); err != nil {
			return nil, err
		}
	}
	if n.Enum != nil {
		if err := writeField("enum", n.Enum); err != nil {
			return nil, err
		}
	}
	if n.RequiredFlag {
		writeField("required", true)
	} else if n.Required != nil {
		writeField("required", n.Required)
	}
	if n.Pattern != "" {
		writeField("pattern", n.Pattern)
	}
	if n.Minimum != nil {
		writeField("minimum", *n.Minimum)
	}
	if n.Maximum != nil {
		writeField("maximum", *n.Maximum)
	}
	if n.ExclusiveMinimum != nil {
		writeField("exclusiveMinimum", *n.ExclusiveMinimum)
	}
	if n.ExclusiveMaximum != nil {
		writeField("exclusiveMaximum", *n.ExclusiveMaximum)
	}
	if n.MinLength != nil {
		writeField("minLength", *n.MinLength)
	}
	if n.MaxLength != nil {
		writeField("maxLength", *n.MaxLength)
	}
	if n.Ref != "" {
		writeField("$ref", n.Ref)
	}
	if n.If != nil {
		if err := writeField("if", n.If); err != nil {
			return nil, err
		}
	}
	if len(n.Extra) > 0 {
		keys := make([]string, 0, len(n.Extra))
		for k := range n.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeRaw(k, n.Extra[k])
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// JSONIndent returns the node serialized with two-space indentation, the
// form used for prompts and token estimation.
func (n *Node) JSONIndent() []byte {
	compact, err := json.Marshal(n)
	if err != nil {
		return []byte("{}")
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return compact
	}
	return out.Bytes()
}
