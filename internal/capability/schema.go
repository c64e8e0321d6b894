// ABOUTME: Helpers for building JSON Schema input shapes.
// ABOUTME: Connectors describe their arguments with these instead of hand-written JSON.

package capability

import "encoding/json"

// Props maps property names to their schemas.
type Props map[string]any

// Object builds an object schema. Unknown properties are allowed and ignored by handlers.
func Object(props Props, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		panic("capability: unencodable schema: " + err.Error())
	}
	return data
}

// String is a string property.
func String(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// NonEmptyString is a string property that must have at least one character.
func NonEmptyString(description string) map[string]any {
	return map[string]any{"type": "string", "minLength": 1, "description": description}
}

// Integer is an integer property bounded to [min, max]. A max of 0 means unbounded.
func Integer(description string, min, max, def int) map[string]any {
	p := map[string]any{"type": "integer", "minimum": min, "default": def, "description": description}
	if max > 0 {
		p["maximum"] = max
	}
	return p
}

// Boolean is a boolean property.
func Boolean(description string, def bool) map[string]any {
	return map[string]any{"type": "boolean", "default": def, "description": description}
}

// Enum is a string property restricted to values.
func Enum(description string, def string, values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values, "default": def, "description": description}
}

// StringArray is an array of strings.
func StringArray(description string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": description}
}

// Record is an object with arbitrary keys whose values match valueSchema.
// A nil valueSchema allows any value.
func Record(description string, valueSchema map[string]any) map[string]any {
	p := map[string]any{"type": "object", "description": description}
	if valueSchema != nil {
		p["additionalProperties"] = valueSchema
	}
	return p
}

// Any accepts any JSON value.
func Any(description string) map[string]any {
	return map[string]any{"description": description}
}
