// Package jobs drives remote generation jobs to a terminal state: it maps
// provider status vocabulary onto a small canonical set, computes poll
// backoff, and runs the poll loop.
package jobs

import (
	"strings"

	"golang.org/x/text/cases"
)

// Status is the canonical job state the poller reasons about.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusUnclassified Status = "unclassified"
)

// Terminal reports whether the poll loop should stop on s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// JobState is one provider status reading mapped to canonical form.
type JobState struct {
	Status Status
	// Raw is the provider's own status string.
	Raw string
	// ArtifactURL is set only when Status is StatusSucceeded.
	ArtifactURL string
	// Format is the provider-declared artifact format, if any.
	Format  string
	Message string
}

var vocabulary = map[string]Status{
	"pending":     StatusPending,
	"queued":      StatusPending,
	"queue":       StatusPending,
	"in_queue":    StatusPending,
	"waiting":     StatusPending,
	"wait":        StatusPending,
	"submitted":   StatusPending,
	"created":     StatusPending,
	"accepted":    StatusPending,
	"scheduled":   StatusPending,
	"processing":  StatusProcessing,
	"process":     StatusProcessing,
	"running":     StatusProcessing,
	"run":         StatusProcessing,
	"in_progress": StatusProcessing,
	"progress":    StatusProcessing,
	"started":     StatusProcessing,
	"generating":  StatusProcessing,
	"working":     StatusProcessing,
	"rendering":   StatusProcessing,
	"succeeded":   StatusSucceeded,
	"success":     StatusSucceeded,
	"successful":  StatusSucceeded,
	"completed":   StatusSucceeded,
	"complete":    StatusSucceeded,
	"done":        StatusSucceeded,
	"finished":    StatusSucceeded,
	"ready":       StatusSucceeded,
	"failed":      StatusFailed,
	"fail":        StatusFailed,
	"failure":     StatusFailed,
	"error":       StatusFailed,
	"errored":     StatusFailed,
	"cancelled":   StatusFailed,
	"canceled":    StatusFailed,
	"expired":     StatusFailed,
	"rejected":    StatusFailed,
	"aborted":     StatusFailed,
}

var folder = cases.Fold()

// statusPrefixes are the namespaces providers put in front of a plain
// status word. Other compound strings stay unclassified.
var statusPrefixes = []string{"task_status_", "job_status_", "status_", "job.", "task."}

// ClassifyStatus maps a free-form provider status onto the canonical set.
// Matching is case-insensitive and treats '-' and ' ' like '_'. Anything
// unrecognised is StatusUnclassified, never success or failure.
func ClassifyStatus(raw string) Status {
	key := normalizeStatus(raw)
	if key == "" {
		return StatusUnclassified
	}
	if status, ok := vocabulary[key]; ok {
		return status
	}
	// Prefixed vocabularies such as "TASK_STATUS_DONE" or "job.running".
	for _, prefix := range statusPrefixes {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		if status, ok := vocabulary[rest]; ok {
			return status
		}
	}
	return StatusUnclassified
}

func normalizeStatus(raw string) string {
	key := folder.String(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	return strings.Trim(key, "_")
}
