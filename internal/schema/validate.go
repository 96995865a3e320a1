package schema

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks extracted data against a schema. The node is reserialized
// with the non-standard constructs stripped (leaf-boolean required, unresolved
// $ref) so compilation reflects data validity. An uncompilable schema yields
// (true, ""): schema defects never penalize the data.
func Validate(data map[string]any, n *Node) (bool, string) {
	raw, err := json.Marshal(n.stripped())
	if err != nil {
		return true, ""
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return true, ""
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return true, ""
	}

	// Round-trip through encoding/json so typed values (ints, structs)
	// validate the same way decoded request payloads do.
	encoded, err := json.Marshal(data)
	if err != nil {
		return false, err.Error()
	}
	var instance any
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return false, err.Error()
	}

	if err := compiled.Validate(instance); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// stripped returns a deep copy without the leaf-boolean required convention
// and without $ref pointers, both of which break standard compilation.
func (n *Node) stripped() *Node {
	out := *n
	out.RequiredFlag = false
	out.Ref = ""

	if n.Properties != nil {
		out.Properties = make([]Property, len(n.Properties))
		for i, p := range n.Properties {
			out.Properties[i] = Property{Name: p.Name, Node: p.Node.stripped()}
		}
	}
	if n.Items != nil {
		out.Items = n.Items.stripped()
	}
	if n.If != nil {
		out.If = n.If.stripped()
	}
	return &out
}
