package ingest

import "fmt"

// PageStage is a step of the per-page state machine.
type PageStage string

const (
	StagePending          PageStage = "pending"
	StagePromptBuilt      PageStage = "prompt_built"
	StageCalled           PageStage = "called"
	StageParsed           PageStage = "parsed"
	StageParseFailed      PageStage = "parse_failed"
	StageValidated        PageStage = "validated"
	StageValidationFailed PageStage = "validation_failed"
	StageMerged           PageStage = "merged"
	StageSkipped          PageStage = "skipped"
)

var transitions = map[PageStage][]PageStage{
	StagePending:          {StagePromptBuilt},
	StagePromptBuilt:      {StageCalled},
	StageCalled:           {StageParsed, StageParseFailed},
	StageParsed:           {StageValidated, StageValidationFailed},
	StageParseFailed:      {StageSkipped},
	StageValidated:        {StageMerged},
	StageValidationFailed: {StageSkipped},
}

// CanTransition reports whether to may follow s.
func (s PageStage) CanTransition(to PageStage) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a page.
func (s PageStage) Terminal() bool {
	return s == StageMerged || s == StageSkipped
}

// pageTracker walks one page through the state machine and records its path.
type pageTracker struct {
	stage PageStage
	trace []string
}

func newPageTracker() *pageTracker {
	return &pageTracker{stage: StagePending, trace: []string{string(StagePending)}}
}

// to advances the page. An illegal transition is a bug in the loop.
func (t *pageTracker) to(next PageStage) {
	if !t.stage.CanTransition(next) {
		panic(fmt.Sprintf("ingest: illegal page transition %s -> %s", t.stage, next))
	}
	t.stage = next
	t.trace = append(t.trace, string(next))
}
