package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []DreamStatus{
		DreamStatusDraft, DreamStatusAnalyzing, DreamStatusAnalyzed,
		DreamStatusGenerating, DreamStatusCompleted, DreamStatusFailed,
	}
	allowed := map[DreamStatus][]DreamStatus{
		DreamStatusDraft:      {DreamStatusAnalyzing},
		DreamStatusAnalyzing:  {DreamStatusAnalyzed, DreamStatusFailed, DreamStatusDraft},
		DreamStatusAnalyzed:   {DreamStatusGenerating},
		DreamStatusGenerating: {DreamStatusCompleted, DreamStatusFailed},
		DreamStatusFailed:     {DreamStatusAnalyzed, DreamStatusDraft},
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCheckInvariants(t *testing.T) {
	ok := DreamRecord{Status: DreamStatusCompleted, Analysis: &Analysis{}, Artifact: &Artifact{SourceURL: "u"}}
	assert.NoError(t, ok.CheckInvariants())

	artifactEarly := DreamRecord{Status: DreamStatusGenerating, Artifact: &Artifact{}}
	assert.ErrorIs(t, artifactEarly.CheckInvariants(), ErrPrecondition)

	analysisEarly := DreamRecord{Status: DreamStatusDraft, Analysis: &Analysis{}}
	assert.ErrorIs(t, analysisEarly.CheckInvariants(), ErrPrecondition)

	unknown := DreamRecord{Status: "sleeping"}
	assert.Error(t, unknown.CheckInvariants())
}

func TestCloneIsDeep(t *testing.T) {
	rec := DreamRecord{
		Analysis: &Analysis{Keywords: []string{"sky"}},
		Artifact: &Artifact{SourceURL: "a"},
	}
	cp := rec.Clone()
	cp.Analysis.Keywords[0] = "sea"
	cp.Artifact.SourceURL = "b"
	assert.Equal(t, "sky", rec.Analysis.Keywords[0])
	assert.Equal(t, "a", rec.Artifact.SourceURL)
}
