// Package merge combines partial extraction results into one coherent value
// tree, resolving field-level conflicts deterministically.
package merge

import (
	"reflect"
	"strings"
)

// Deep merges src into dst recursively and returns a new map; neither input
// is mutated. Nested maps merge key-by-key; any other collision takes the
// src value.
func Deep(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if existing, ok := out[k].(map[string]any); ok {
			if incoming, ok := v.(map[string]any); ok {
				out[k] = Deep(existing, incoming)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Flatten reduces a nested value tree to dot-delimited leaf paths.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(m, "", out)
	return out
}

func flattenInto(m map[string]any, prefix string, out map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(nested, path, out)
			continue
		}
		out[path] = v
	}
}

// GetPath returns the value at a dotted path, or nil when the path does not
// resolve.
func GetPath(m map[string]any, path string) any {
	var current any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = obj[key]
		if !ok {
			return nil
		}
	}
	return current
}

// SetPath writes a value at a dotted path, creating intermediate objects.
func SetPath(m map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	current := m
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = value
}

// Resolver merges chunk results in arrival order, tracking per-path value
// history so numeric conflicts can be settled by occurrence count.
type Resolver struct {
	occurrences map[string]int
	history     map[string][]any
}

func NewResolver() *Resolver {
	return &Resolver{
		occurrences: make(map[string]int),
		history:     make(map[string][]any),
	}
}

// Occurrences reports how many chunks contributed a non-null value for path.
func (r *Resolver) Occurrences(path string) int {
	return r.occurrences[path]
}

// Merge folds one chunk's data into the accumulated result. Null values are
// skipped; conflicts resolve pairwise left-to-right by the rule table.
func (r *Resolver) Merge(merged, chunk map[string]any) map[string]any {
	mergedFlat := Flatten(merged)

	for path, value := range Flatten(chunk) {
		if value == nil {
			continue
		}
		r.occurrences[path]++
		r.history[path] = append(r.history[path], value)

		existing, ok := mergedFlat[path]
		if !ok {
			mergedFlat[path] = value
			continue
		}
		mergedFlat[path] = resolveConflict(existing, value, r.history[path])
	}

	out := make(map[string]any)
	for path, value := range mergedFlat {
		SetPath(out, path, value)
	}
	return out
}

// resolveConflict applies the conflict rule table: equal keeps existing,
// strings keep the longer, numbers keep the most frequent value seen so far,
// lists union with order-preserving dedupe, booleans OR, and anything else
// prefers the non-null newcomer.
func resolveConflict(existing, incoming any, history []any) any {
	if reflect.DeepEqual(existing, incoming) {
		return existing
	}

	if es, ok := existing.(string); ok {
		if is, ok := incoming.(string); ok {
			if len(es) >= len(is) {
				return es
			}
			return is
		}
	}

	if isNumber(existing) && isNumber(incoming) {
		return mostFrequent(history)
	}

	if el, ok := existing.([]any); ok {
		if il, ok := incoming.([]any); ok {
			return unionLists(el, il)
		}
	}

	if eb, ok := existing.(bool); ok {
		if ib, ok := incoming.(bool); ok {
			return eb || ib
		}
	}

	if incoming != nil {
		return incoming
	}
	return existing
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64:
		return true
	}
	return false
}

// mostFrequent returns the value with the highest occurrence count in the
// history, ties broken by first occurrence.
func mostFrequent(history []any) any {
	best := history[0]
	bestCount := 0
	for i, candidate := range history {
		count := 0
		for _, v := range history {
			if reflect.DeepEqual(v, candidate) {
				count++
			}
		}
		if count > bestCount {
			best = history[i]
			bestCount = count
		}
	}
	return best
}

// unionLists concatenates and deduplicates, preserving first-seen order.
func unionLists(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	for _, item := range append(append([]any{}, a...), b...) {
		dup := false
		for _, seen := range out {
			if reflect.DeepEqual(seen, item) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return out
}
