// Package lifecycle owns the dream state machine: it drives analysis and
// generation, persists every transition, and publishes events for the UI.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wujiajunhahah/dreamvision/internal/assetcache"
	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
)

const (
	defaultTitle   = "Untitled dream"
	persistTimeout = 10 * time.Second
	hookTimeout    = 30 * time.Second
)

type Analyzer interface {
	Analyze(ctx context.Context, text string) (*domain.Analysis, error)
}

type JobSubmitter interface {
	Submit(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// JobWaiter blocks until a submitted job is terminal and returns its
// artifact URL.
type JobWaiter interface {
	Wait(ctx context.Context, jobID string) (string, error)
}

type AssetFetcher interface {
	Fetch(ctx context.Context, sourceURL string) (assetcache.Entry, error)
}

// Completion is handed to hooks once a completed record is persisted.
type Completion struct {
	Record domain.DreamRecord
	JobID  string
}

// CompletionHook runs after a dream completes. Its errors are logged and
// never change the record.
type CompletionHook interface {
	OnCompleted(ctx context.Context, c Completion) error
}

// HookFunc adapts a function to CompletionHook.
type HookFunc func(ctx context.Context, c Completion) error

func (f HookFunc) OnCompleted(ctx context.Context, c Completion) error {
	return f(ctx, c)
}

type Options struct {
	Store     domain.DreamRepository
	Analyzer  Analyzer
	Submitter JobSubmitter
	Waiter    JobWaiter
	Assets    AssetFetcher
	Hooks     []CompletionHook
	Events    *EventBus
	Targets   ProgressTargets
	// AnalysisTimeout bounds one Analyze call; zero means no extra bound.
	AnalysisTimeout time.Duration
	Clock           func() time.Time
	Logger          *infra.Logger
}

type entry struct {
	mu      sync.Mutex
	record  domain.DreamRecord
	busy    bool
	epoch   uint64
	cancel  context.CancelFunc
	deleted bool
}

// Service is the single owner of dream records. Each record has its own
// lock; network calls run without it and re-check the record's epoch
// before applying their result.
type Service struct {
	store     domain.DreamRepository
	analyzer  Analyzer
	submitter JobSubmitter
	waiter    JobWaiter
	assets    AssetFetcher
	hooks     []CompletionHook
	events    *EventBus
	targets   ProgressTargets
	timeout   time.Duration
	clock     func() time.Time
	logger    *infra.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	baseCtx    context.Context
	baseCancel context.CancelFunc
	inflight   sync.WaitGroup
}

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	if opts.Analyzer == nil || opts.Submitter == nil || opts.Waiter == nil || opts.Assets == nil {
		return nil, errors.New("lifecycle: analyzer, submitter, waiter and asset fetcher are required")
	}
	if opts.Events == nil {
		opts.Events = NewEventBus(0)
	}
	if opts.Targets == (ProgressTargets{}) {
		opts.Targets = DefaultTargets
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Service{
		store:      opts.Store,
		analyzer:   opts.Analyzer,
		submitter:  opts.Submitter,
		waiter:     opts.Waiter,
		assets:     opts.Assets,
		hooks:      opts.Hooks,
		events:     opts.Events,
		targets:    opts.Targets,
		timeout:    opts.AnalysisTimeout,
		clock:      opts.Clock,
		logger:     infra.OrDiscard(opts.Logger),
		entries:    map[string]*entry{},
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}, nil
}

// Events exposes the bus for observers.
func (s *Service) Events() *EventBus {
	return s.events
}

// Create stores a new draft.
func (s *Service) Create(ctx context.Context, title, description string) (domain.DreamRecord, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return domain.DreamRecord{}, domain.PreconditionError("description is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}
	now := s.now()
	record := domain.DreamRecord{
		ID:              uuid.NewString(),
		Title:           title,
		Description:     description,
		Status:          domain.DreamStatusDraft,
		StatusChangedAt: now,
		CreatedAt:       now,
	}
	if err := s.persist(ctx, record); err != nil {
		return domain.DreamRecord{}, err
	}
	s.mu.Lock()
	s.entries[record.ID] = &entry{record: record}
	s.mu.Unlock()
	s.events.Publish(Event{DreamID: record.ID, Type: EventCreated, Status: record.Status})
	s.logger.Info().Str("dream_id", record.ID).Msg("lifecycle: dream created")
	return record.Clone(), nil
}

// Update edits the text of a draft.
func (s *Service) Update(ctx context.Context, id, title, description string) (domain.DreamRecord, error) {
	e, err := s.lookup(id)
	if err != nil {
		return domain.DreamRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.DreamRecord{}, notFound(id)
	}
	if e.record.Status != domain.DreamStatusDraft {
		return domain.DreamRecord{}, domain.PreconditionError("dream %s is %s; only drafts can be edited", id, e.record.Status)
	}
	next := e.record.Clone()
	if title = strings.TrimSpace(title); title != "" {
		next.Title = title
	}
	if description = strings.TrimSpace(description); description != "" {
		next.Description = description
	}
	prev := e.record
	e.record = next
	if err := s.persist(ctx, next); err != nil {
		e.record = prev
		return domain.DreamRecord{}, err
	}
	s.events.Publish(Event{DreamID: id, Type: EventUpdated, Status: next.Status})
	return next.Clone(), nil
}

// Get returns a snapshot of one record.
func (s *Service) Get(id string) (domain.DreamRecord, error) {
	e, err := s.lookup(id)
	if err != nil {
		return domain.DreamRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.DreamRecord{}, notFound(id)
	}
	return e.record.Clone(), nil
}

// List returns snapshots of all records, oldest first.
func (s *Service) List() []domain.DreamRecord {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.DreamRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.record.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Progress estimates how far the record is through its pipeline.
func (s *Service) Progress(id string) (Progress, error) {
	record, err := s.Get(id)
	if err != nil {
		return Progress{}, err
	}
	return EstimateProgress(record.Status, s.clock().Sub(record.StatusChangedAt), s.targets), nil
}

// Cancel abandons an in-flight analysis and returns the record to draft.
// The late result of the cancelled request is discarded.
func (s *Service) Cancel(ctx context.Context, id string) (domain.DreamRecord, error) {
	e, err := s.lookup(id)
	if err != nil {
		return domain.DreamRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.DreamRecord{}, notFound(id)
	}
	if e.record.Status != domain.DreamStatusAnalyzing {
		return domain.DreamRecord{}, domain.PreconditionError("dream %s is %s; only analysis can be cancelled", id, e.record.Status)
	}
	s.abandon(e)
	err = s.transition(ctx, e, domain.DreamStatusDraft, func(r *domain.DreamRecord) {
		r.Analysis = nil
	})
	s.logger.Info().Str("dream_id", id).Msg("lifecycle: analysis cancelled")
	return e.record.Clone(), err
}

// Retry moves a failed record back to the last stable state so the failed
// stage can be run again.
func (s *Service) Retry(ctx context.Context, id string) (domain.DreamRecord, error) {
	e, err := s.lookup(id)
	if err != nil {
		return domain.DreamRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.DreamRecord{}, notFound(id)
	}
	if e.record.Status != domain.DreamStatusFailed {
		return domain.DreamRecord{}, domain.PreconditionError("dream %s is %s; only failed dreams can be retried", id, e.record.Status)
	}
	if e.busy {
		return domain.DreamRecord{}, domain.PreconditionError("dream %s has an operation in flight", id)
	}
	to := domain.DreamStatusDraft
	if e.record.Analysis != nil {
		to = domain.DreamStatusAnalyzed
	}
	err = s.transition(ctx, e, to, nil)
	return e.record.Clone(), err
}

// Delete removes the record from memory and storage. Any in-flight
// operation is cancelled and its result discarded.
func (s *Service) Delete(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return notFound(id)
	}
	s.abandon(e)
	e.deleted = true
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()

	pctx, cancel := s.persistContext(ctx)
	defer cancel()
	if err := s.store.Delete(pctx, id); err != nil {
		s.logger.Error().Err(err).Str("dream_id", id).Msg("lifecycle: delete from storage failed")
		return fmt.Errorf("lifecycle: delete %s: %w", id, err)
	}
	s.events.Publish(Event{DreamID: id, Type: EventDeleted})
	s.logger.Info().Str("dream_id", id).Msg("lifecycle: dream deleted")
	return nil
}

// Shutdown cancels background operations and waits for them to unwind.
// Records they leave in flight are reconciled on the next Load.
func (s *Service) Shutdown(ctx context.Context) error {
	s.baseCancel()
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return e, nil
}

// abandon invalidates the current operation. Callers hold e.mu.
func (s *Service) abandon(e *entry) {
	e.epoch++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.busy = false
}

// transition validates and applies one edge, stamps it and persists it.
// The in-memory record keeps the new state even if persistence fails; the
// error is logged and returned. Callers hold e.mu.
func (s *Service) transition(ctx context.Context, e *entry, to domain.DreamStatus, mutate func(*domain.DreamRecord)) error {
	next, err := s.prepare(e, to, mutate)
	if err != nil {
		return err
	}
	from := e.record.Status
	e.record = next
	err = s.persist(ctx, next)
	s.announce(from, next)
	return err
}

// prepare builds the record that results from moving e to status to.
func (s *Service) prepare(e *entry, to domain.DreamStatus, mutate func(*domain.DreamRecord)) (domain.DreamRecord, error) {
	from := e.record.Status
	if !domain.CanTransition(from, to) {
		return domain.DreamRecord{}, domain.PreconditionError("cannot move dream %s from %s to %s", e.record.ID, from, to)
	}
	next := e.record.Clone()
	if mutate != nil {
		mutate(&next)
	}
	next.Status = to
	next.StatusChangedAt = s.stamp(e.record.StatusChangedAt)
	if to != domain.DreamStatusFailed {
		next.ErrorMessage = ""
		next.FailureKind = ""
	}
	if err := next.CheckInvariants(); err != nil {
		return domain.DreamRecord{}, err
	}
	return next, nil
}

func (s *Service) announce(from domain.DreamStatus, next domain.DreamRecord) {
	s.events.Publish(Event{
		DreamID:     next.ID,
		Type:        EventTransition,
		From:        from,
		Status:      next.Status,
		FailureKind: next.FailureKind,
		Message:     next.ErrorMessage,
	})
	s.logger.Info().
		Str("dream_id", next.ID).
		Str("from", string(from)).
		Str("to", string(next.Status)).
		Str("failure_kind", next.FailureKind).
		Msg("lifecycle: transition")
}

// fail records err on the record. Callers hold e.mu.
func (s *Service) fail(ctx context.Context, e *entry, cause error) error {
	kind, message := domain.Describe(cause)
	return s.transition(ctx, e, domain.DreamStatusFailed, func(r *domain.DreamRecord) {
		r.FailureKind = kind
		r.ErrorMessage = message
	})
}

func (s *Service) persist(ctx context.Context, record domain.DreamRecord) error {
	pctx, cancel := s.persistContext(ctx)
	defer cancel()
	if err := s.store.Save(pctx, record); err != nil {
		s.logger.Error().Err(err).Str("dream_id", record.ID).Str("status", string(record.Status)).Msg("lifecycle: persist failed")
		return fmt.Errorf("lifecycle: persist %s: %w", record.ID, err)
	}
	return nil
}

// persistContext detaches from ctx so a cancelled operation still records
// its final state.
func (s *Service) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// stamp returns a timestamp strictly after prev. Microsecond resolution
// survives both storage backends.
func (s *Service) stamp(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func notFound(id string) error {
	return fmt.Errorf("dream %s: %w", id, domain.ErrNotFound)
}
