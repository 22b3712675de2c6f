package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Schema describes the validity contract for a model-backed stage's output:
// size bounds, required fields and enumerated value sets. Plain-text schemas
// validate only bounds.
type Schema struct {
	Name      string
	PlainText bool
	MinBytes  int
	MaxBytes  int
	// Required lists object fields that must be present and non-empty.
	Required []string
	// Enums constrains string fields to a fixed value set.
	Enums map[string][]string
	// ExactArrayLens constrains array fields to an exact length.
	ExactArrayLens map[string]int
}

// Validate checks a raw model response against the schema.
func (s Schema) Validate(raw []byte) error {
	if len(raw) < s.MinBytes {
		return fmt.Errorf("schema %s: response too short (%d bytes)", s.Name, len(raw))
	}
	if s.MaxBytes > 0 && len(raw) > s.MaxBytes {
		return fmt.Errorf("schema %s: response too long (%d bytes)", s.Name, len(raw))
	}

	if s.PlainText {
		if !utf8.Valid(raw) {
			return fmt.Errorf("schema %s: response is not valid UTF-8", s.Name)
		}
		if strings.TrimSpace(string(raw)) == "" {
			return fmt.Errorf("schema %s: response is blank", s.Name)
		}
		return nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("schema %s: response is not a JSON object: %w", s.Name, err)
	}

	for _, field := range s.Required {
		value, ok := obj[field]
		if !ok {
			return fmt.Errorf("schema %s: missing required field %q", s.Name, field)
		}
		if empty(value) {
			return fmt.Errorf("schema %s: required field %q is empty", s.Name, field)
		}
	}

	for field, allowed := range s.Enums {
		value, ok := obj[field]
		if !ok {
			continue
		}
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("schema %s: field %q must be a string", s.Name, field)
		}
		if !contains(allowed, str) {
			return fmt.Errorf("schema %s: field %q has value %q outside %v", s.Name, field, str, allowed)
		}
	}

	for field, wantLen := range s.ExactArrayLens {
		value, ok := obj[field]
		if !ok {
			continue
		}
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("schema %s: field %q must be an array", s.Name, field)
		}
		if len(arr) != wantLen {
			return fmt.Errorf("schema %s: field %q must have exactly %d items, got %d", s.Name, field, wantLen, len(arr))
		}
	}

	return nil
}

func empty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

// extractPayload strips markdown code fences that models wrap around JSON.
func extractPayload(raw string, schema Schema) []byte {
	trimmed := strings.TrimSpace(raw)
	if schema.PlainText {
		return []byte(trimmed)
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if start := strings.Index(trimmed, "{"); start > 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	return []byte(trimmed)
}
