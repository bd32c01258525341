// Package certstate owns the canonical certification record: its fixed field
// table, validation/coercion of loosely-typed candidates, and the merge policy
// used to accumulate candidates into a running record.
package certstate

// Kind tags the value type a field holds.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindNumber
	KindStringList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindStringList:
		return "list"
	default:
		return "unknown"
	}
}

// IsScalar reports whether the kind holds a single value (null when empty).
func (k Kind) IsScalar() bool {
	return k != KindStringList
}

// MergePolicy governs how a candidate value is folded into the base value.
type MergePolicy int

const (
	// MergeFill copies the candidate only when the base is empty (or always,
	// under overwrite mode) and the candidate is non-empty.
	MergeFill MergePolicy = iota
	// MergeUnion appends candidate entries to the base list with dedupe.
	MergeUnion
)

// Field describes one top-level key of the record.
type Field struct {
	Name  string
	Kind  Kind
	Merge MergePolicy
}

// Field names referenced outside the table.
const (
	FieldSources   = "sources"
	FieldUpdatedAt = "updated_at"
)

// Envelope is the optional single wrapper key the record may be nested under.
const Envelope = "certification_state"

// Fields is the closed, ordered field set. Order is the JSON encoding order.
var Fields = []Field{
	{Name: "artifact_type", Kind: KindString},
	{Name: "name", Kind: KindString},
	{Name: "aliases", Kind: KindStringList, Merge: MergeUnion},
	{Name: "issuing_body", Kind: KindString},
	{Name: "region", Kind: KindString},
	{Name: "mandatory", Kind: KindBool},
	{Name: "validity_period_months", Kind: KindNumber},
	{Name: "overview", Kind: KindString},
	{Name: "full_description", Kind: KindString},
	{Name: "legal_reference", Kind: KindString},
	{Name: "domain_tags", Kind: KindStringList, Merge: MergeUnion},
	{Name: "scope_tags", Kind: KindStringList, Merge: MergeUnion},
	{Name: "harmonized_standards", Kind: KindStringList, Merge: MergeUnion},
	{Name: "fee", Kind: KindString},
	{Name: "application_process", Kind: KindString},
	{Name: "official_link", Kind: KindString},
	{Name: FieldUpdatedAt, Kind: KindString},
	{Name: FieldSources, Kind: KindStringList, Merge: MergeUnion},
	{Name: "lead_time_days", Kind: KindNumber},
	{Name: "processing_time_days", Kind: KindNumber},
	{Name: "prerequisites", Kind: KindStringList, Merge: MergeUnion},
	{Name: "audit_scope", Kind: KindStringList, Merge: MergeUnion},
	{Name: "test_items", Kind: KindStringList, Merge: MergeUnion},
}

var fieldIndex = func() map[string]Field {
	m := make(map[string]Field, len(Fields))
	for _, f := range Fields {
		m[f.Name] = f
	}
	return m
}()

// Lookup returns the descriptor for name.
func Lookup(name string) (Field, bool) {
	f, ok := fieldIndex[name]
	return f, ok
}

// FieldNames returns the field names in table order.
func FieldNames() []string {
	names := make([]string, len(Fields))
	for i, f := range Fields {
		names[i] = f.Name
	}
	return names
}
