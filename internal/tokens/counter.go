// Package tokens estimates model-tokenizer counts and shapes text to fit a
// model's context window.
package tokens

import "unicode"

// Counter counts tokens and cuts text to a token limit.
type Counter interface {
	// Count returns the token count of text. It must be monotonic under
	// concatenation: Count(a) <= Count(a+b).
	Count(text string) int
	// Truncate returns a prefix of text holding at most max tokens.
	Truncate(text string, max int) string
}

// Heuristic is a tokenizer-free Counter. Every maximal run of letters and
// digits costs one token per four runes (rounded up); each CJK rune and each
// punctuation or symbol rune costs one; whitespace is free.
type Heuristic struct{}

// NewHeuristic returns the heuristic counter.
func NewHeuristic() Heuristic { return Heuristic{} }

const runesPerToken = 4

type runeClass int

const (
	classSpace runeClass = iota
	classWord
	classSingle
)

func classify(r rune) runeClass {
	switch {
	case unicode.IsSpace(r):
		return classSpace
	case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
		return classSingle
	case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
		return classWord
	default:
		return classSingle
	}
}

func wordCost(n int) int {
	return (n + runesPerToken - 1) / runesPerToken
}

// Count implements Counter.
func (Heuristic) Count(text string) int {
	total, run := 0, 0
	for _, r := range text {
		switch classify(r) {
		case classWord:
			run++
			continue
		case classSingle:
			total++
		}
		total += wordCost(run)
		run = 0
	}
	return total + wordCost(run)
}

// Truncate implements Counter. The result is the longest prefix whose count
// does not exceed max.
func (h Heuristic) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	closed, run := 0, 0
	for i, r := range text {
		nextClosed, nextRun := closed, run
		switch classify(r) {
		case classWord:
			nextRun++
		case classSingle:
			nextClosed += wordCost(run) + 1
			nextRun = 0
		default:
			nextClosed += wordCost(run)
			nextRun = 0
		}
		if nextClosed+wordCost(nextRun) > max {
			return text[:i]
		}
		closed, run = nextClosed, nextRun
	}
	return text
}
