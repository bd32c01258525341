package evidence

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	imageOnlyLine  = regexp.MustCompile(`^\s*!\[.*?\]\(.*?\)\s*$`)
	blankLineRun   = regexp.MustCompile(`\n{3,}`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	numberedStep   = regexp.MustCompile(`^\d+[.)]\s`)
	sentenceEnding = regexp.MustCompile(`[.!?]\s+`)
)

const snippetSplitter = "\n---\n"

// Snippet is the set of keyword windows found for one field on one page.
type Snippet struct {
	Field   string
	Windows []string
}

// Block renders the snippet as a labelled evidence block.
func (s Snippet) Block() string {
	return "### FIELD: " + s.Field + "\n" + strings.Join(s.Windows, snippetSplitter)
}

// Clean removes boilerplate lines and standalone images, then collapses runs
// of blank lines.
func (m *matcher) Clean(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, ln := range lines {
		if imageOnlyLine.MatchString(ln) || m.isBoilerplate(ln) {
			lines[i] = ""
		}
	}
	out := strings.Join(lines, "\n")
	out = blankLineRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func (m *matcher) isBoilerplate(line string) bool {
	for _, re := range m.boilerplate {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// SignalLines keeps headings, list items, numbered steps and keyword lines,
// each once.
func (m *matcher) SignalLines(text string, prefixes []string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		key := strings.TrimSpace(ln)
		if key == "" {
			continue
		}
		if !hasAnyPrefix(key, prefixes) && !numberedStep.MatchString(key) &&
			(m.signal == nil || !m.signal.MatchString(ln)) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ln)
	}
	return strings.Join(out, "\n")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Snippets collects windows of ±window lines around each line matching the
// field's keywords, up to max windows, skipping windows that repeat an
// earlier one after whitespace and Unicode normalization.
func (m *matcher) Snippets(text, field string, window, max int) Snippet {
	s := Snippet{Field: field}
	re := m.fields[field]
	if re == nil || text == "" {
		return s
	}
	lines := strings.Split(text, "\n")
	seen := make(map[string]struct{})
	for i, ln := range lines {
		if !re.MatchString(ln) {
			continue
		}
		start := i - window
		if start < 0 {
			start = 0
		}
		end := i + window + 1
		if end > len(lines) {
			end = len(lines)
		}
		w := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if w == "" {
			continue
		}
		key := norm.NFKC.String(whitespaceRun.ReplaceAllString(w, " "))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		s.Windows = append(s.Windows, w)
		if len(s.Windows) >= max {
			break
		}
	}
	return s
}

// sentenceCuts returns the byte offsets at which text may be cut on a
// sentence boundary, in increasing order, ending with len(text).
func sentenceCuts(text string) []int {
	var cuts []int
	for _, loc := range sentenceEnding.FindAllStringIndex(text, -1) {
		cuts = append(cuts, loc[0]+1)
	}
	if len(cuts) == 0 || cuts[len(cuts)-1] != len(text) {
		cuts = append(cuts, len(text))
	}
	return cuts
}
