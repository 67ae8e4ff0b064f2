package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
	"github.com/wujiajunhahah/dreamvision/internal/sqlinline"
)

// PostgresStore keeps one row per dream, with analysis and artifact as jsonb.
type PostgresStore struct {
	sql    *infra.SQLRunner
	logger *infra.Logger
}

var _ domain.DreamRepository = (*PostgresStore)(nil)

// NewPostgresStore creates the dreams table if it is missing.
func NewPostgresStore(ctx context.Context, db infra.SQLExecutor, logger *infra.Logger) (*PostgresStore, error) {
	log := infra.OrDiscard(logger)
	runner := infra.NewSQLRunner(db, *log)
	if _, err := runner.Exec(ctx, sqlinline.QCreateDreamsTable); err != nil {
		return nil, fmt.Errorf("store: ensure dreams table: %w", err)
	}
	return &PostgresStore{sql: runner, logger: log}, nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]domain.DreamRecord, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListDreams)
	if err != nil {
		return nil, fmt.Errorf("store: list dreams: %w", err)
	}
	defer rows.Close()

	records := []domain.DreamRecord{}
	for rows.Next() {
		var (
			record               domain.DreamRecord
			status               string
			analysisRaw, artRaw  []byte
			changedAt, createdAt time.Time
		)
		if err := rows.Scan(
			&record.ID,
			&record.Title,
			&record.Description,
			&status,
			&changedAt,
			&createdAt,
			&analysisRaw,
			&artRaw,
			&record.ErrorMessage,
			&record.FailureKind,
		); err != nil {
			return nil, fmt.Errorf("store: scan dream: %w", err)
		}
		record.Status = domain.DreamStatus(status)
		record.StatusChangedAt = changedAt.UTC()
		record.CreatedAt = createdAt.UTC()
		if err := decodeOptional(analysisRaw, &record.Analysis); err != nil {
			s.dropCorrupt(record.ID, err)
			continue
		}
		if err := decodeOptional(artRaw, &record.Artifact); err != nil {
			s.dropCorrupt(record.ID, err)
			continue
		}
		if err := record.CheckInvariants(); err != nil {
			s.dropCorrupt(record.ID, err)
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list dreams: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Save(ctx context.Context, record domain.DreamRecord) error {
	analysis, err := encodeOptional(record.Analysis)
	if err != nil {
		return err
	}
	artifact, err := encodeOptional(record.Artifact)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertDream,
		record.ID,
		record.Title,
		record.Description,
		string(record.Status),
		record.StatusChangedAt,
		record.CreatedAt,
		analysis,
		artifact,
		record.ErrorMessage,
		record.FailureKind,
	)
	if err != nil {
		return fmt.Errorf("store: save dream %s: %w", record.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QDeleteDream, id); err != nil {
		return fmt.Errorf("store: delete dream %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) dropCorrupt(id string, cause error) {
	s.logger.Warn().
		Err(fmt.Errorf("%w: %v", domain.ErrStorageCorruption, cause)).
		Str("dream_id", id).
		Msg("store: dropping unreadable row")
}

// encodeOptional returns nil for a nil pointer so the column stays NULL.
func encodeOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return data, nil
}

func decodeOptional[T any](raw []byte, dst **T) error {
	if len(raw) == 0 {
		*dst = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}
