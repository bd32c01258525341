package certstate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// SchemaError reports a candidate whose key set or values do not fit the
// fixed record shape.
type SchemaError struct {
	Missing []string
	Extra   []string
	Field   string
	Reason  string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 || len(e.Extra) > 0 {
		return fmt.Sprintf("certstate: key set mismatch (missing: %v, extra: %v)", e.Missing, e.Extra)
	}
	return fmt.Sprintf("certstate: field %q: %s", e.Field, e.Reason)
}

// CoercionKind names a coercion applied during validation.
type CoercionKind string

const (
	CoercedToString      CoercionKind = "stringified"
	CoercedBoolString    CoercionKind = "bool_from_string"
	CoercedNumberString  CoercionKind = "number_from_string"
	CoercedListTrimmed   CoercionKind = "list_item_trimmed"
	CoercedListDropped   CoercionKind = "list_item_dropped"
	CoercedListDuplicate CoercionKind = "list_item_deduplicated"
)

// Coercion records one coercion that fired for a field.
type Coercion struct {
	Field  string       `json:"field"`
	Kind   CoercionKind `json:"kind"`
	Detail string       `json:"detail,omitempty"`
}

// CoercionReport lists every coercion applied by one Validate call.
type CoercionReport []Coercion

// Has reports whether a coercion of kind fired for field.
func (r CoercionReport) Has(field string, kind CoercionKind) bool {
	for _, c := range r {
		if c.Field == field && c.Kind == kind {
			return true
		}
	}
	return false
}

var numericString = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// ValidateCandidate unwraps an optional {"certification_state": {...}}
// envelope and validates the record inside it.
func ValidateCandidate(obj map[string]any) (*State, CoercionReport, error) {
	if len(obj) == 1 {
		if inner, ok := obj[Envelope].(map[string]any); ok {
			obj = inner
		}
	}
	return Validate(obj)
}

// Validate checks that obj has exactly the fixed key set and coerces each
// value to its declared kind. obj is never modified.
func Validate(obj map[string]any) (*State, CoercionReport, error) {
	if err := checkKeys(obj); err != nil {
		return nil, nil, err
	}

	s := &State{values: make(map[string]any, len(Fields))}
	var report CoercionReport
	for _, f := range Fields {
		v, err := coerce(f, obj[f.Name], &report)
		if err != nil {
			return nil, nil, err
		}
		s.values[f.Name] = v
	}
	return s, report, nil
}

func checkKeys(obj map[string]any) error {
	var missing, extra []string
	for _, f := range Fields {
		if _, ok := obj[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	for k := range obj {
		if _, ok := fieldIndex[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	slices.Sort(extra)
	return &SchemaError{Missing: missing, Extra: extra}
}

func coerce(f Field, v any, report *CoercionReport) (any, error) {
	switch f.Kind {
	case KindString:
		return coerceString(f.Name, v, report), nil
	case KindBool:
		return coerceBool(f.Name, v, report)
	case KindNumber:
		return coerceNumber(f.Name, v, report)
	case KindStringList:
		return coerceList(f.Name, v, report)
	}
	return nil, &SchemaError{Field: f.Name, Reason: "unknown field kind"}
}

func coerceString(name string, v any, report *CoercionReport) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	}
	s := stringify(v)
	*report = append(*report, Coercion{Field: name, Kind: CoercedToString, Detail: fmt.Sprintf("%T", v)})
	return s
}

func stringify(v any) string {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		if b, err := json.Marshal(t); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

func coerceBool(name string, v any, report *CoercionReport) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(t) {
		case "true":
			*report = append(*report, Coercion{Field: name, Kind: CoercedBoolString, Detail: t})
			return true, nil
		case "false":
			*report = append(*report, Coercion{Field: name, Kind: CoercedBoolString, Detail: t})
			return false, nil
		}
	}
	return nil, &SchemaError{Field: name, Reason: fmt.Sprintf("must be boolean, got %T", v)}
}

func coerceNumber(name string, v any, report *CoercionReport) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case json.Number:
		return parseNumber(name, t.String())
	case string:
		s := strings.TrimSpace(t)
		if !numericString.MatchString(s) {
			return nil, &SchemaError{Field: name, Reason: fmt.Sprintf("must be number, got %q", t)}
		}
		n, err := parseNumber(name, s)
		if err != nil {
			return nil, err
		}
		*report = append(*report, Coercion{Field: name, Kind: CoercedNumberString, Detail: t})
		return n, nil
	}
	return nil, &SchemaError{Field: name, Reason: fmt.Sprintf("must be number, got %T", v)}
}

// parseNumber yields int64 for integral literals and float64 otherwise.
func parseNumber(name, s string) (any, error) {
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &SchemaError{Field: name, Reason: fmt.Sprintf("must be number, got %q", s)}
	}
	return f, nil
}

func coerceList(name string, v any, report *CoercionReport) (any, error) {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []string:
		items = make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
	default:
		return nil, &SchemaError{Field: name, Reason: fmt.Sprintf("must be list, got %T", v)}
	}

	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			*report = append(*report, Coercion{Field: name, Kind: CoercedListDropped, Detail: fmt.Sprintf("%T", item)})
			continue
		}
		if trimmed := strings.TrimSpace(s); trimmed != s {
			kind := CoercedListTrimmed
			if trimmed == "" {
				kind = CoercedListDropped
			}
			*report = append(*report, Coercion{Field: name, Kind: kind, Detail: s})
		}
	}

	out, dupes := dedupeStrings(items)
	for _, d := range dupes {
		*report = append(*report, Coercion{Field: name, Kind: CoercedListDuplicate, Detail: d})
	}
	return out, nil
}
