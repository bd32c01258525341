package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageStage_Transitions(t *testing.T) {
	tests := []struct {
		from, to PageStage
		ok       bool
	}{
		{StagePending, StagePromptBuilt, true},
		{StagePromptBuilt, StageCalled, true},
		{StageCalled, StageParsed, true},
		{StageCalled, StageParseFailed, true},
		{StageParsed, StageValidated, true},
		{StageParsed, StageValidationFailed, true},
		{StageValidated, StageMerged, true},
		{StageParseFailed, StageSkipped, true},
		{StageValidationFailed, StageSkipped, true},
		{StagePending, StageCalled, false},
		{StageCalled, StageMerged, false},
		{StageParseFailed, StageParsed, false},
		{StageMerged, StagePending, false},
		{StageSkipped, StagePending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPageStage_Terminal(t *testing.T) {
	assert.True(t, StageMerged.Terminal())
	assert.True(t, StageSkipped.Terminal())
	assert.False(t, StageParsed.Terminal())
	assert.False(t, StagePending.Terminal())
}

func TestPageTracker(t *testing.T) {
	tr := newPageTracker()
	tr.to(StagePromptBuilt)
	tr.to(StageCalled)
	tr.to(StageParseFailed)
	tr.to(StageSkipped)
	assert.Equal(t, StageSkipped, tr.stage)
	assert.Equal(t, []string{"pending", "prompt_built", "called", "parse_failed", "skipped"}, tr.trace)
}

func TestPageTracker_IllegalTransitionPanics(t *testing.T) {
	assert.PanicsWithValue(t, "ingest: illegal page transition pending -> merged", func() {
		newPageTracker().to(StageMerged)
	})
}
