package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
)

// operation is one claimed network stage for a record.
type operation struct {
	entry    *entry
	epoch    uint64
	ctx      context.Context
	parent   context.Context
	cancel   context.CancelFunc
	snapshot domain.DreamRecord
}

// Analyze runs the analysis stage and blocks until it settles.
func (s *Service) Analyze(ctx context.Context, id string) (domain.DreamRecord, error) {
	op, err := s.beginAnalyze(ctx, id)
	if err != nil {
		return domain.DreamRecord{}, err
	}
	return s.runAnalyze(op)
}

// StartAnalyze claims the record and runs analysis in the background. The
// returned snapshot is already in analyzing.
func (s *Service) StartAnalyze(id string) (domain.DreamRecord, error) {
	op, err := s.beginAnalyze(s.baseCtx, id)
	if err != nil {
		return domain.DreamRecord{}, err
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_, _ = s.runAnalyze(op)
	}()
	return op.snapshot, nil
}

// Generate runs submission, polling and asset download and blocks until the
// record is completed or failed.
func (s *Service) Generate(ctx context.Context, id string) (domain.DreamRecord, error) {
	op, req, err := s.beginGenerate(ctx, id)
	if err != nil {
		return domain.DreamRecord{}, err
	}
	return s.runGenerate(op, req)
}

// StartGenerate claims the record and runs generation in the background.
func (s *Service) StartGenerate(id string) (domain.DreamRecord, error) {
	op, req, err := s.beginGenerate(s.baseCtx, id)
	if err != nil {
		return domain.DreamRecord{}, err
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_, _ = s.runGenerate(op, req)
	}()
	return op.snapshot, nil
}

func (s *Service) beginAnalyze(ctx context.Context, id string) (*operation, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, notFound(id)
	}
	if e.record.Status != domain.DreamStatusDraft {
		return nil, domain.PreconditionError("dream %s is %s; analysis needs a draft", id, e.record.Status)
	}
	if e.busy {
		return nil, domain.PreconditionError("dream %s has an operation in flight", id)
	}
	return s.claim(ctx, e, domain.DreamStatusAnalyzing, s.timeout)
}

func (s *Service) beginGenerate(ctx context.Context, id string) (*operation, domain.GenerationRequest, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, domain.GenerationRequest{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, domain.GenerationRequest{}, notFound(id)
	}
	if e.record.Status != domain.DreamStatusAnalyzed || e.record.Analysis == nil {
		return nil, domain.GenerationRequest{}, domain.PreconditionError("dream %s is %s; generation needs an analyzed dream", id, e.record.Status)
	}
	if e.busy {
		return nil, domain.GenerationRequest{}, domain.PreconditionError("dream %s has an operation in flight", id)
	}
	req := domain.GenerationRequest{
		DreamID:     e.record.ID,
		Description: e.record.Description,
		Analysis:    *e.record.Analysis.Clone(),
	}
	op, err := s.claim(ctx, e, domain.DreamStatusGenerating, 0)
	return op, req, err
}

// claim persists the in-flight status and marks e busy. If that status
// cannot be persisted nothing changes and no network call is made.
// Callers hold e.mu.
func (s *Service) claim(ctx context.Context, e *entry, to domain.DreamStatus, timeout time.Duration) (*operation, error) {
	next, err := s.prepare(e, to, nil)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, next); err != nil {
		return nil, err
	}
	from := e.record.Status
	e.record = next
	s.announce(from, next)
	var (
		opCtx  context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		opCtx, cancel = context.WithCancel(ctx)
	}
	e.epoch++
	e.busy = true
	e.cancel = cancel
	return &operation{
		entry:    e,
		epoch:    e.epoch,
		ctx:      opCtx,
		parent:   ctx,
		cancel:   cancel,
		snapshot: e.record.Clone(),
	}, nil
}

// settle re-acquires the record lock. It reports false, with the lock
// released, when the operation was cancelled or the record deleted.
func (s *Service) settle(op *operation) bool {
	e := op.entry
	e.mu.Lock()
	if e.deleted || e.epoch != op.epoch {
		e.mu.Unlock()
		return false
	}
	e.busy = false
	e.cancel = nil
	return true
}

// interrupted reports whether the caller's context, not the provider, ended
// the operation. The record is then left for startup reconciliation.
func (op *operation) interrupted() bool {
	return op.parent.Err() != nil
}

func (s *Service) runAnalyze(op *operation) (domain.DreamRecord, error) {
	defer op.cancel()
	id := op.snapshot.ID
	started := time.Now()
	analysis, err := s.analyzer.Analyze(op.ctx, op.snapshot.Text())
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !op.interrupted() {
		err = &domain.ProviderError{
			Kind:     domain.ErrProviderServer,
			Provider: "analysis",
			Message:  fmt.Sprintf("no answer within %s", s.timeout),
		}
	}

	if !s.settle(op) {
		s.logger.Info().Str("dream_id", id).Msg("lifecycle: discarding analysis result of cancelled operation")
		return domain.DreamRecord{}, fmt.Errorf("dream %s: %w", id, domain.ErrJobCancelled)
	}
	e := op.entry
	defer e.mu.Unlock()

	if err != nil && op.interrupted() {
		s.logger.Warn().Err(err).Str("dream_id", id).Msg("lifecycle: analysis interrupted")
		return e.record.Clone(), fmt.Errorf("dream %s: %w", id, domain.ErrJobCancelled)
	}
	if err != nil {
		if perr := s.fail(op.parent, e, err); perr != nil {
			err = errors.Join(err, perr)
		}
		return e.record.Clone(), err
	}
	terr := s.transition(op.parent, e, domain.DreamStatusAnalyzed, func(r *domain.DreamRecord) {
		r.Analysis = analysis.Clone()
	})
	s.logger.Debug().Str("dream_id", id).Dur("took", time.Since(started)).Msg("lifecycle: analysis finished")
	return e.record.Clone(), terr
}

func (s *Service) runGenerate(op *operation, req domain.GenerationRequest) (domain.DreamRecord, error) {
	defer op.cancel()
	id := op.snapshot.ID
	log := s.logger.With().Str("dream_id", id).Logger()

	var (
		jobID string
		asset domain.Artifact
	)
	err := func() error {
		var err error
		jobID, err = s.submitter.Submit(op.ctx, req)
		if err != nil {
			return err
		}
		log.Info().Str("job_id", jobID).Msg("lifecycle: generation submitted")
		artifactURL, err := s.waiter.Wait(op.ctx, jobID)
		if err != nil {
			return err
		}
		cached, err := s.assets.Fetch(op.ctx, artifactURL)
		if err != nil {
			return err
		}
		asset = domain.Artifact{SourceURL: cached.SourceURL, LocalPath: cached.Path, Format: cached.Format}
		return nil
	}()

	if !s.settle(op) {
		log.Info().Msg("lifecycle: discarding generation result of cancelled operation")
		return domain.DreamRecord{}, fmt.Errorf("dream %s: %w", id, domain.ErrJobCancelled)
	}
	e := op.entry

	if err != nil && op.interrupted() {
		log.Warn().Err(err).Str("job_id", jobID).Msg("lifecycle: generation interrupted, leaving record for reconciliation")
		record := e.record.Clone()
		e.mu.Unlock()
		return record, fmt.Errorf("dream %s: %w", id, domain.ErrJobCancelled)
	}
	if err != nil {
		if perr := s.fail(op.parent, e, err); perr != nil {
			err = errors.Join(err, perr)
		}
		record := e.record.Clone()
		e.mu.Unlock()
		return record, err
	}
	terr := s.transition(op.parent, e, domain.DreamStatusCompleted, func(r *domain.DreamRecord) {
		r.Artifact = &asset
	})
	record := e.record.Clone()
	e.mu.Unlock()

	if terr == nil {
		s.runHooks(op.parent, Completion{Record: record, JobID: jobID})
	}
	return record, terr
}

func (s *Service) runHooks(ctx context.Context, c Completion) {
	for _, hook := range s.hooks {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
		err := hook.OnCompleted(hctx, c)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("dream_id", c.Record.ID).Msg("lifecycle: completion hook failed")
		}
	}
}

// Load replaces the in-memory records with the stored ones and reconciles
// records a previous process left in flight: analyzing returns to draft,
// generating becomes failed with kind interrupted.
func (s *Service) Load(ctx context.Context) error {
	records, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: load: %w", err)
	}
	entries := make(map[string]*entry, len(records))
	for _, record := range records {
		e := &entry{record: record.Clone()}
		entries[record.ID] = e
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	reconciled := 0
	for _, e := range entries {
		e.mu.Lock()
		switch e.record.Status {
		case domain.DreamStatusAnalyzing:
			reconciled++
			if err := s.transition(ctx, e, domain.DreamStatusDraft, func(r *domain.DreamRecord) { r.Analysis = nil }); err != nil {
				s.logger.Error().Err(err).Str("dream_id", e.record.ID).Msg("lifecycle: reconcile analyzing")
			}
		case domain.DreamStatusGenerating:
			reconciled++
			if err := s.fail(ctx, e, domain.ErrInterrupted); err != nil {
				s.logger.Error().Err(err).Str("dream_id", e.record.ID).Msg("lifecycle: reconcile generating")
			}
		}
		e.mu.Unlock()
	}
	s.logger.Info().Int("dreams", len(entries)).Int("reconciled", reconciled).Msg("lifecycle: loaded")
	return nil
}
