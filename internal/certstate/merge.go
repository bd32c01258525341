package certstate

// Merge folds cand into base and returns the result. Neither input is
// modified.
//
// Scalars follow MergeFill: under fill-only mode a non-empty candidate value
// is copied only into an empty base slot; with preferOverwrite it replaces
// whatever is there. An empty candidate value never clears the base. Lists
// follow MergeUnion: base entries first, then candidate entries, deduplicated
// with DedupeList. A non-empty sourceURL is appended to sources under the same
// rule.
func Merge(base, cand *State, preferOverwrite bool, sourceURL string) *State {
	out := base.Clone()
	for _, f := range Fields {
		cv := cand.values[f.Name]
		switch f.Merge {
		case MergeUnion:
			bl, _ := out.values[f.Name].([]string)
			cl, _ := cv.([]string)
			out.values[f.Name] = DedupeList(bl, cl)
		default:
			if isEmptyValue(cv) {
				continue
			}
			if preferOverwrite || isEmptyValue(out.values[f.Name]) {
				out.values[f.Name] = copyValue(cv)
			}
		}
	}
	if sourceURL != "" {
		srcs, _ := out.values[FieldSources].([]string)
		out.values[FieldSources] = DedupeList(srcs, []string{sourceURL})
	}
	return out
}
