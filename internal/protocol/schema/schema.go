// Package schema sanitizes JSON Schema documents (tool definitions,
// response schemas) down to the restricted subset Gemini's function
// declarations accept.
//
// The walk is a full recursive tree rewrite rather than a handful of
// targeted field reads/writes, so it operates on decoded
// map[string]any trees via encoding/json instead of gjson/sjson's
// path-based API; sjson has no primitive for "delete these dozen keys
// at every nesting level and reshape anyOf nodes along the way". The
// tool-argument rewriter next door uses gjson/sjson for exactly the
// point-path renames that API excels at instead.
package schema

import "fmt"

// unsupportedKeywords lists the JSON Schema keywords Gemini's Schema
// message doesn't recognize and which must be stripped entirely.
var unsupportedKeywords = []string{
	"$ref", "$defs", "definitions", "patternProperties", "propertyNames",
	"dependentSchemas", "dependentRequired", "unevaluatedProperties",
	"if", "then", "else", "not", "const", "allOf", "readOnly", "writeOnly",
	"contentEncoding", "contentMediaType", "default", "examples",
	// MCP-specific extensions seen on tool schemas passed through from
	// MCP servers.
	"mcp_server", "mcp_tool_name", "x-mcp",
}

// validationConstraints are validation-only keywords Gemini rejects at
// the server but whose semantic hint is worth preserving as a
// description note.
var validationConstraints = []string{
	"pattern", "minLength", "maxLength", "minimum", "maximum",
	"exclusiveMinimum", "exclusiveMaximum", "multipleOf", "format",
	"minItems", "maxItems",
}

// Sanitize walks schema depth-first, bottom-up, and returns a new tree
// conforming to Gemini's restricted Schema subset. The input is never
// mutated in place.
func Sanitize(node any) any {
	switch v := node.(type) {
	case map[string]any:
		return sanitizeObject(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Sanitize(item)
		}
		return out
	default:
		return v
	}
}

func sanitizeObject(obj map[string]any) map[string]any {
	// Recurse into children first (bottom-up), preserving a `pattern`
	// key whose value is itself a schema object rather than a regex
	// string, per the explicit type-based disambiguation rule below.
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == "pattern" {
			if nested, ok := v.(map[string]any); ok {
				out[k] = sanitizeObject(nested)
				continue
			}
		}
		out[k] = Sanitize(v)
	}

	for _, key := range []string{"properties"} {
		if props, ok := out[key].(map[string]any); ok {
			cleaned := make(map[string]any, len(props))
			for name, v := range props {
				cleaned[name] = Sanitize(v)
			}
			out[key] = cleaned
		}
	}
	if items, ok := out["items"]; ok {
		out["items"] = Sanitize(items)
	}
	if ap, ok := out["additionalProperties"]; ok {
		if apObj, isObj := ap.(map[string]any); isObj {
			out["additionalProperties"] = sanitizeObject(apObj)
		}
	}

	collapseUnion(out)
	collapseTypeArray(out)
	moveValidationConstraintsToDescription(out)
	coerceEnumToStrings(out)

	for _, kw := range unsupportedKeywords {
		delete(out, kw)
	}

	return out
}

// collapseUnion handles anyOf/oneOf: synthesize a type from the
// first non-null alternative if the node has none, and fall back to
// type:string if the alternatives disagree.
func collapseUnion(out map[string]any) {
	var union []any
	unionKey := ""
	if v, ok := out["anyOf"].([]any); ok {
		union, unionKey = v, "anyOf"
	} else if v, ok := out["oneOf"].([]any); ok {
		union, unionKey = v, "oneOf"
	}
	if unionKey == "" {
		return
	}
	delete(out, unionKey)

	if _, hasType := out["type"]; hasType {
		return
	}

	types := make(map[string]bool)
	var firstNonNull string
	for _, alt := range union {
		altObj, ok := alt.(map[string]any)
		if !ok {
			continue
		}
		t, _ := altObj["type"].(string)
		if t == "" || t == "null" {
			continue
		}
		if firstNonNull == "" {
			firstNonNull = t
		}
		types[t] = true
	}

	if len(types) == 1 && firstNonNull != "" {
		out["type"] = firstNonNull
		return
	}
	// Alternatives disagree in a non-trivial way (or none had a usable
	// type): fall back to the least-surprising primitive.
	out["type"] = "string"
}

// collapseTypeArray collapses a JSON Schema 2020-12 style type array
// (e.g. ["string", "null"]) to its first non-null element.
func collapseTypeArray(out map[string]any) {
	arr, ok := out["type"].([]any)
	if !ok {
		return
	}
	for _, t := range arr {
		if s, ok := t.(string); ok && s != "null" {
			out["type"] = s
			return
		}
	}
	out["type"] = "string"
}

// moveValidationConstraintsToDescription appends a short note for each
// stripped validation keyword so the model still sees the intent, then
// removes the keyword itself.
func moveValidationConstraintsToDescription(out map[string]any) {
	var notes []string
	for _, kw := range validationConstraints {
		v, present := out[kw]
		if !present {
			continue
		}
		if _, isNestedSchema := v.(map[string]any); isNestedSchema {
			// A sibling keyword that happens to be named like a
			// validation constraint (e.g. a property literally called
			// "pattern") but holds a schema object, not a constraint
			// value; sanitizeObject already recursed into it.
			continue
		}
		notes = append(notes, fmt.Sprintf("%s: %v", kw, v))
		delete(out, kw)
	}
	if len(notes) == 0 {
		return
	}
	desc, _ := out["description"].(string)
	for _, n := range notes {
		if desc != "" {
			desc += "; "
		}
		desc += n
	}
	out["description"] = desc
}

// coerceEnumToStrings turns non-string enum members into their JSON
// textual form, since Gemini's enum field only accepts strings.
func coerceEnumToStrings(out map[string]any) {
	enum, ok := out["enum"].([]any)
	if !ok {
		return
	}
	coerced := make([]any, len(enum))
	for i, v := range enum {
		switch val := v.(type) {
		case string:
			coerced[i] = val
		case nil:
			coerced[i] = "null"
		case bool:
			coerced[i] = fmt.Sprintf("%t", val)
		case float64:
			coerced[i] = formatNumber(val)
		default:
			coerced[i] = fmt.Sprintf("%v", val)
		}
	}
	out["enum"] = coerced
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
