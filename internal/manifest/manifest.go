// Package manifest maintains models.json, the list of generated models that
// offline conversion tooling picks up.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
	"github.com/wujiajunhahah/dreamvision/internal/lifecycle"
	"github.com/wujiajunhahah/dreamvision/internal/storage"
)

// Model is one manifest row.
type Model struct {
	Name        string           `json:"name"`
	DreamID     string           `json:"dream_id"`
	URL         string           `json:"url"`
	LocalPath   string           `json:"local_path,omitempty"`
	Format      string           `json:"format,omitempty"`
	Description string           `json:"description"`
	Analysis    *domain.Analysis `json:"analysis,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	TaskID      string           `json:"task_id,omitempty"`
}

type document struct {
	Models []Model `json:"models"`
}

// Writer appends completed dreams to the manifest file.
type Writer struct {
	path   string
	now    func() time.Time
	logger *infra.Logger
	mu     sync.Mutex
}

var _ lifecycle.CompletionHook = (*Writer)(nil)

func NewWriter(path string, logger *infra.Logger) (*Writer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("manifest: path is required")
	}
	return &Writer{path: path, now: time.Now, logger: infra.OrDiscard(logger)}, nil
}

// OnCompleted records c. A dream already listed is replaced, so replays
// do not duplicate rows.
func (w *Writer) OnCompleted(ctx context.Context, c lifecycle.Completion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record := c.Record
	if record.Artifact == nil {
		return fmt.Errorf("manifest: dream %s has no artifact", record.ID)
	}
	row := Model{
		Name:        modelName(record),
		DreamID:     record.ID,
		URL:         record.Artifact.SourceURL,
		LocalPath:   record.Artifact.LocalPath,
		Format:      record.Artifact.Format,
		Description: record.Description,
		Analysis:    record.Analysis.Clone(),
		Timestamp:   w.now().UTC(),
		TaskID:      c.JobID,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	doc, err := w.read()
	if err != nil {
		return err
	}
	replaced := false
	for i := range doc.Models {
		if doc.Models[i].DreamID == row.DreamID {
			doc.Models[i] = row
			replaced = true
		}
	}
	if !replaced {
		doc.Models = append(doc.Models, row)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	if err := storage.WriteFileAtomic(w.path, data, 0o644); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	w.logger.Info().Str("dream_id", row.DreamID).Int("models", len(doc.Models)).Msg("manifest: updated")
	return nil
}

// Models returns the current manifest rows.
func (w *Writer) Models() ([]Model, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, err := w.read()
	if err != nil {
		return nil, err
	}
	return doc.Models, nil
}

func (w *Writer) read() (document, error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return document{Models: []Model{}}, nil
	}
	if err != nil {
		return document{}, fmt.Errorf("manifest: read: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("manifest: %w: %v", domain.ErrStorageCorruption, err)
	}
	if doc.Models == nil {
		doc.Models = []Model{}
	}
	return doc, nil
}

func modelName(record domain.DreamRecord) string {
	var b strings.Builder
	for _, r := range strings.ToLower(record.Title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "dream"
	}
	short := record.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return name + "_" + short
}
