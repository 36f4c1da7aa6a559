package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONObject extracts a JSON object from a model completion. Models wrap
// output in markdown fences or prose despite instructions, so this strips
// fences and falls back to the outermost brace pair.
func ParseJSONObject(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("completion contains no JSON object")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("parse completion JSON: %w", err)
	}
	return obj, nil
}

// DecodeInto parses a completion into a typed result.
func DecodeInto(raw string, out any) error {
	obj, err := ParseJSONObject(raw)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}
