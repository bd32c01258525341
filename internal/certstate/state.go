package certstate

import (
	"bytes"
	"encoding/json"
	"reflect"
	"slices"
	"time"

	"github.com/rotisserie/eris"
)

// TimestampLayout is the ISO-8601 UTC layout used for updated_at.
const TimestampLayout = "2006-01-02T15:04:05Z"

// State is a CertificationState: exactly one value per entry in Fields.
// Scalars hold nil or string/bool/int64/float64; lists hold []string.
// The zero value is not usable; construct with New, Validate or Merge.
type State struct {
	values map[string]any
}

// New returns a fresh empty record: scalars null, lists empty. Every call
// returns an independent instance.
func New() *State {
	s := &State{values: make(map[string]any, len(Fields))}
	for _, f := range Fields {
		if f.Kind == KindStringList {
			s.values[f.Name] = []string{}
		} else {
			s.values[f.Name] = nil
		}
	}
	return s
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := &State{values: make(map[string]any, len(s.values))}
	for k, v := range s.values {
		c.values[k] = copyValue(v)
	}
	return c
}

// Get returns the value of the named field. Lists are returned as copies.
// Unknown names return nil.
func (s *State) Get(name string) any {
	return copyValue(s.values[name])
}

// Text returns a string field's value, false when null or not a string field.
func (s *State) Text(name string) (string, bool) {
	v, ok := s.values[name].(string)
	return v, ok
}

// Bool returns a bool field's value, false when null.
func (s *State) Bool(name string) (value, ok bool) {
	value, ok = s.values[name].(bool)
	return value, ok
}

// Number returns a numeric field's value as float64, false when null.
func (s *State) Number(name string) (float64, bool) {
	switch n := s.values[name].(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// List returns a copy of a list field.
func (s *State) List(name string) []string {
	l, _ := s.values[name].([]string)
	return slices.Clone(l)
}

// IsEmpty reports whether the named field holds its empty value.
func (s *State) IsEmpty(name string) bool {
	return isEmptyValue(s.values[name])
}

// EmptyFields returns the names of empty fields in table order, excluding
// updated_at which is only ever set by the run itself.
func (s *State) EmptyFields() []string {
	var out []string
	for _, f := range Fields {
		if f.Name == FieldUpdatedAt {
			continue
		}
		if s.IsEmpty(f.Name) {
			out = append(out, f.Name)
		}
	}
	return out
}

// WithUpdatedAt returns a copy stamped with t in UTC.
func (s *State) WithUpdatedAt(t time.Time) *State {
	c := s.Clone()
	c.values[FieldUpdatedAt] = t.UTC().Format(TimestampLayout)
	return c
}

// Map returns a deep copy of the record as a plain map, suitable for feeding
// back through Validate.
func (s *State) Map() map[string]any {
	m := make(map[string]any, len(s.values))
	for k, v := range s.values {
		if l, ok := v.([]string); ok {
			items := make([]any, len(l))
			for i, item := range l {
				items[i] = item
			}
			m[k] = items
			continue
		}
		m[k] = v
	}
	return m
}

// Equal reports whether both records hold identical values.
func (s *State) Equal(o *State) bool {
	if s == nil || o == nil {
		return s == o
	}
	return reflect.DeepEqual(s.values, o.values)
}

// MarshalJSON encodes every field in table order.
func (s *State) MarshalJSON() ([]byte, error) {
	return s.marshalFields(FieldNames())
}

// MarshalSubset encodes only the named fields, in table order. Unknown names
// are ignored.
func (s *State) MarshalSubset(names []string) ([]byte, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var ordered []string
	for _, f := range Fields {
		if want[f.Name] {
			ordered = append(ordered, f.Name)
		}
	}
	return s.marshalFields(ordered)
}

func (s *State) marshalFields(names []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, eris.Wrapf(err, "certstate: marshal key %s", name)
		}
		buf.Write(key)
		buf.WriteByte(':')

		v := s.values[name]
		if f, ok := Lookup(name); ok && f.Kind == KindStringList && v == nil {
			v = []string{}
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrapf(err, "certstate: marshal field %s", name)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes and validates a record. The certification_state
// envelope is accepted.
func (s *State) UnmarshalJSON(data []byte) error {
	obj, err := DecodeObject(data)
	if err != nil {
		return err
	}
	v, _, err := ValidateCandidate(obj)
	if err != nil {
		return err
	}
	s.values = v.values
	return nil
}

// DecodeObject decodes a JSON object preserving numbers as json.Number.
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "certstate: decode object")
	}
	if obj == nil {
		return nil, eris.New("certstate: decode object: not a JSON object")
	}
	return obj, nil
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	}
	return false
}

func copyValue(v any) any {
	if l, ok := v.([]string); ok {
		return slices.Clone(l)
	}
	return v
}
