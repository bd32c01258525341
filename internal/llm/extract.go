package llm

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
)

var (
	// fencedJSONPattern matches the first ```json fenced object.
	fencedJSONPattern = regexp.MustCompile("(?si)```json\\s*(\\{.*?\\})\\s*```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON recovers a JSON object from a model reply. It tries, in order:
// the whole trimmed reply when it looks like an object, the first ```json
// fenced block, and the span from the first '{' to the last '}' (strictly,
// then with trailing commas removed). Numbers decode as json.Number.
func ExtractJSON(raw string) (map[string]any, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, false
	}

	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		if obj, ok := decodeStrict(text); ok {
			return obj, true
		}
	}

	if m := fencedJSONPattern.FindStringSubmatch(text); len(m) > 1 {
		if obj, ok := decodeStrict(m[1]); ok {
			return obj, true
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	span := text[start : end+1]
	if obj, ok := decodeStrict(span); ok {
		return obj, true
	}
	return decodeStrict(trailingCommaPattern.ReplaceAllString(span, "$1"))
}

// decodeStrict accepts exactly one JSON object and nothing after it.
func decodeStrict(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return obj, true
}
