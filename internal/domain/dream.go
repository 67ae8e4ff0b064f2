package domain

import "time"

// DreamStatus enumerates the lifecycle states of a dream.
type DreamStatus string

const (
	DreamStatusDraft      DreamStatus = "draft"
	DreamStatusAnalyzing  DreamStatus = "analyzing"
	DreamStatusAnalyzed   DreamStatus = "analyzed"
	DreamStatusGenerating DreamStatus = "generating"
	DreamStatusCompleted  DreamStatus = "completed"
	DreamStatusFailed     DreamStatus = "failed"
)

// Valid reports whether s is a known status.
func (s DreamStatus) Valid() bool {
	switch s {
	case DreamStatusDraft, DreamStatusAnalyzing, DreamStatusAnalyzed,
		DreamStatusGenerating, DreamStatusCompleted, DreamStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no automatic transition leaves s.
func (s DreamStatus) Terminal() bool {
	return s == DreamStatusCompleted || s == DreamStatusFailed
}

// InFlight reports whether s waits on a remote provider.
func (s DreamStatus) InFlight() bool {
	return s == DreamStatusAnalyzing || s == DreamStatusGenerating
}

// CanTransition enforces the allowed lifecycle edges. failed -> analyzed and
// failed -> draft are only reachable through an explicit retry.
func CanTransition(from, to DreamStatus) bool {
	switch from {
	case DreamStatusDraft:
		return to == DreamStatusAnalyzing
	case DreamStatusAnalyzing:
		return to == DreamStatusAnalyzed || to == DreamStatusFailed || to == DreamStatusDraft
	case DreamStatusAnalyzed:
		return to == DreamStatusGenerating
	case DreamStatusGenerating:
		return to == DreamStatusCompleted || to == DreamStatusFailed
	case DreamStatusFailed:
		return to == DreamStatusAnalyzed || to == DreamStatusDraft
	default:
		return false
	}
}

// Analysis is the structured output of the text-analysis stage.
type Analysis struct {
	Keywords          []string `json:"keywords"`
	Emotions          []string `json:"emotions"`
	Symbols           []string `json:"symbols"`
	VisualDescription string   `json:"visualDescription"`
	Interpretation    string   `json:"interpretation"`
}

// Clone returns a deep copy.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	out := *a
	out.Keywords = cloneStrings(a.Keywords)
	out.Emotions = cloneStrings(a.Emotions)
	out.Symbols = cloneStrings(a.Symbols)
	return &out
}

// DreamRecord is one user-submitted description tracked through analysis and
// generation.
type DreamRecord struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Status          DreamStatus `json:"status"`
	StatusChangedAt time.Time   `json:"statusChangedAt"`
	CreatedAt       time.Time   `json:"createdAt"`
	Analysis        *Analysis   `json:"analysis,omitempty"`
	Artifact        *Artifact   `json:"artifact,omitempty"`
	// ErrorMessage is displayed verbatim by the UI while Status is failed.
	ErrorMessage string `json:"errorMessage,omitempty"`
	FailureKind  string `json:"failureKind,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (d DreamRecord) Clone() DreamRecord {
	d.Analysis = d.Analysis.Clone()
	if d.Artifact != nil {
		artifact := *d.Artifact
		d.Artifact = &artifact
	}
	return d
}

// Text is the input sent to the analysis provider.
func (d DreamRecord) Text() string {
	if d.Title == "" {
		return d.Description
	}
	return d.Title + "\n\n" + d.Description
}

// CheckInvariants reports records whose optional fields disagree with status.
func (d DreamRecord) CheckInvariants() error {
	if !d.Status.Valid() {
		return PreconditionError("unknown status %q", d.Status)
	}
	if d.Artifact != nil && d.Status != DreamStatusCompleted {
		return PreconditionError("artifact present while %s", d.Status)
	}
	if d.Analysis != nil {
		switch d.Status {
		case DreamStatusDraft, DreamStatusAnalyzing:
			return PreconditionError("analysis present while %s", d.Status)
		}
	}
	return nil
}

// GenerationRequest is what the generation provider receives for one dream.
type GenerationRequest struct {
	DreamID     string
	Description string
	Analysis    Analysis
	Prompt      string
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
