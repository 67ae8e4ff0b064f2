// Package store persists dream records. JSONStore keeps the flat collection
// in one file; PostgresStore keeps one row per record.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
	"github.com/wujiajunhahah/dreamvision/internal/storage"
)

const fileVersion = 1

type fileDocument struct {
	Version int                  `json:"version"`
	Dreams  []domain.DreamRecord `json:"dreams"`
}

// JSONStore rewrites the whole collection atomically on every mutation.
type JSONStore struct {
	path   string
	logger *infra.Logger

	mu      sync.Mutex
	records map[string]domain.DreamRecord
}

var _ domain.DreamRepository = (*JSONStore)(nil)

func NewJSONStore(path string, logger *infra.Logger) (*JSONStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: json path is required")
	}
	return &JSONStore{
		path:    path,
		logger:  infra.OrDiscard(logger),
		records: map[string]domain.DreamRecord{},
	}, nil
}

// Load reads the file. A file that cannot be decoded is moved aside to
// <path>.corrupt and the store starts empty; records that fail their own
// invariants are dropped individually.
func (s *JSONStore) Load(ctx context.Context) ([]domain.DreamRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = map[string]domain.DreamRecord{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.DreamRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.quarantine(fmt.Errorf("%w: %v", domain.ErrStorageCorruption, err))
		return []domain.DreamRecord{}, nil
	}
	for _, record := range doc.Dreams {
		if record.ID == "" {
			s.logger.Warn().Err(domain.ErrStorageCorruption).Msg("store: dropping record without id")
			continue
		}
		if err := record.CheckInvariants(); err != nil {
			s.logger.Warn().
				Err(fmt.Errorf("%w: %v", domain.ErrStorageCorruption, err)).
				Str("dream_id", record.ID).
				Msg("store: dropping inconsistent record")
			continue
		}
		s.records[record.ID] = record
	}
	return s.snapshot(), nil
}

func (s *JSONStore) quarantine(cause error) {
	aside := s.path + ".corrupt"
	if err := os.Rename(s.path, aside); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("store: move corrupt file aside")
	}
	s.logger.Warn().Err(cause).Str("moved_to", aside).Msg("store: unreadable dream file, starting empty")
}

func (s *JSONStore) Save(ctx context.Context, record domain.DreamRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.records[record.ID]
	s.records[record.ID] = record.Clone()
	if err := s.flush(); err != nil {
		if existed {
			s.records[record.ID] = prev
		} else {
			delete(s.records, record.ID)
		}
		return err
	}
	return nil
}

func (s *JSONStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.records[id]
	if !existed {
		return nil
	}
	delete(s.records, id)
	if err := s.flush(); err != nil {
		s.records[id] = prev
		return err
	}
	return nil
}

func (s *JSONStore) flush() error {
	data, err := json.MarshalIndent(fileDocument{Version: fileVersion, Dreams: s.snapshot()}, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	if err := storage.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func (s *JSONStore) snapshot() []domain.DreamRecord {
	out := make([]domain.DreamRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sortRecords(out)
	return out
}

func sortRecords(records []domain.DreamRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
