package lifecycle

import (
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
)

const (
	maxStageFraction = 0.95
	// analysisWeight is the share of overall progress owned by analysis.
	analysisWeight = 0.2
)

// ProgressTargets are the expected stage durations.
type ProgressTargets struct {
	Analysis   time.Duration
	Generation time.Duration
}

var DefaultTargets = ProgressTargets{Analysis: 15 * time.Second, Generation: 3 * time.Minute}

// Progress is a display estimate. Remaining is meaningful only when
// Estimated is true.
type Progress struct {
	Status        domain.DreamStatus `json:"status"`
	StageFraction float64            `json:"stageFraction"`
	Fraction      float64            `json:"fraction"`
	Remaining     time.Duration      `json:"remaining"`
	Estimated     bool               `json:"estimated"`
}

// EstimateProgress is a pure function of status and time spent in it. Stage
// fractions stop at 0.95 until the terminal transition happens, and once the
// target has passed there is no remaining-time estimate.
func EstimateProgress(status domain.DreamStatus, elapsed time.Duration, targets ProgressTargets) Progress {
	if elapsed < 0 {
		elapsed = 0
	}
	p := Progress{Status: status}
	switch status {
	case domain.DreamStatusAnalyzing:
		p.StageFraction, p.Remaining, p.Estimated = stage(elapsed, targets.Analysis)
		p.Fraction = analysisWeight * p.StageFraction
	case domain.DreamStatusAnalyzed:
		p.StageFraction = 1
		p.Fraction = analysisWeight
	case domain.DreamStatusGenerating:
		p.StageFraction, p.Remaining, p.Estimated = stage(elapsed, targets.Generation)
		p.Fraction = analysisWeight + (1-analysisWeight)*p.StageFraction
	case domain.DreamStatusCompleted:
		p.StageFraction = 1
		p.Fraction = 1
	}
	return p
}

func stage(elapsed, target time.Duration) (float64, time.Duration, bool) {
	if target <= 0 {
		return 0, 0, false
	}
	fraction := float64(elapsed) / float64(target)
	if fraction > maxStageFraction {
		fraction = maxStageFraction
	}
	if elapsed >= target {
		return fraction, 0, false
	}
	return fraction, target - elapsed, true
}
