package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/assetcache"
	"github.com/wujiajunhahah/dreamvision/internal/domain"
)

type memStore struct {
	mu       sync.Mutex
	records  map[string]domain.DreamRecord
	failSave atomic.Bool
	saves    atomic.Int32
}

func newMemStore(records ...domain.DreamRecord) *memStore {
	s := &memStore{records: map[string]domain.DreamRecord{}}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *memStore) Load(ctx context.Context) ([]domain.DreamRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DreamRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *memStore) Save(ctx context.Context, record domain.DreamRecord) error {
	if s.failSave.Load() {
		return errors.New("disk full")
	}
	s.saves.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *memStore) get(id string) (domain.DreamRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

type fakeAnalyzer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, text string) (*domain.Analysis, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (*domain.Analysis, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, text)
	}
	return sampleAnalysis(), nil
}

type fakeSubmitter struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req domain.GenerationRequest) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "job-" + req.DreamID, nil
}

type fakeWaiter struct {
	calls atomic.Int32
	fn    func(ctx context.Context, jobID string) (string, error)
}

func (f *fakeWaiter) Wait(ctx context.Context, jobID string) (string, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, jobID)
	}
	return "https://cdn.example/" + jobID + ".usdz", nil
}

type fakeAssets struct {
	calls atomic.Int32
	err   error
}

func (f *fakeAssets) Fetch(ctx context.Context, sourceURL string) (assetcache.Entry, error) {
	f.calls.Add(1)
	if f.err != nil {
		return assetcache.Entry{}, f.err
	}
	return assetcache.Entry{SourceURL: sourceURL, Path: "/cache/abc.usdz", Format: "usdz", Size: 10}, nil
}

type harness struct {
	svc       *Service
	store     *memStore
	analyzer  *fakeAnalyzer
	submitter *fakeSubmitter
	waiter    *fakeWaiter
	assets    *fakeAssets
	hookCalls chan Completion
}

func sampleAnalysis() *domain.Analysis {
	return &domain.Analysis{
		Keywords:          []string{"flying", "clouds"},
		Emotions:          []string{"free"},
		Symbols:           []string{"sky"},
		VisualDescription: "a figure soaring through clouds",
		Interpretation:    "longing for freedom",
	}
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

var frozenNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
