package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
)

// StatusQuerier reads the current state of a submitted job.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, jobID string) (JobState, error)
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Backoff BackoffOptions
	// MaxTotalTime bounds one Wait call from first poll to giving up.
	MaxTotalTime time.Duration
	// CallTimeout bounds a single status query.
	CallTimeout time.Duration
	// MaxTransientErrors is how many consecutive transient query failures are
	// tolerated before Wait gives up.
	MaxTransientErrors int
	Logger             *infra.Logger
}

// Poller drives a StatusQuerier until the job is terminal, the deadline
// passes, or the caller cancels.
type Poller struct {
	client       StatusQuerier
	backoff      BackoffOptions
	maxTotalTime time.Duration
	callTimeout  time.Duration
	maxTransient int
	logger       *infra.Logger
}

// NewPoller constructs a poller with defaults for zero options.
func NewPoller(client StatusQuerier, opts PollerOptions) *Poller {
	if opts.Backoff == (BackoffOptions{}) {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxTotalTime <= 0 {
		opts.MaxTotalTime = 30 * time.Minute
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 20 * time.Second
	}
	if opts.MaxTransientErrors < 0 {
		opts.MaxTransientErrors = 0
	}
	return &Poller{
		client:       client,
		backoff:      opts.Backoff,
		maxTotalTime: opts.MaxTotalTime,
		callTimeout:  opts.CallTimeout,
		maxTransient: opts.MaxTransientErrors,
		logger:       infra.OrDiscard(opts.Logger),
	}
}

// Wait polls jobID and returns the artifact URL once the job succeeds.
// Errors: domain.ErrJobFailed when the provider reports failure,
// domain.ErrJobTimeout when MaxTotalTime elapses, domain.ErrJobCancelled when
// ctx is cancelled, and provider errors that are not transient or that
// exhausted MaxTransientErrors.
func (p *Poller) Wait(ctx context.Context, jobID string) (string, error) {
	if jobID == "" {
		return "", domain.PreconditionError("job id is required")
	}
	started := time.Now()
	deadlineCtx, cancel := context.WithTimeout(ctx, p.maxTotalTime)
	defer cancel()

	backoff := NewBackoff(p.backoff)
	transient := 0
	log := p.logger.With().Str("job_id", jobID).Logger()

	for polls := 1; ; polls++ {
		state, err := p.query(deadlineCtx, jobID)
		switch {
		case err != nil && deadlineCtx.Err() != nil:
			return "", p.stopReason(ctx, jobID, started)
		case err != nil && domain.Transient(err):
			transient++
			if transient > p.maxTransient {
				return "", fmt.Errorf("jobs: poll %s: giving up after %d consecutive errors: %w", jobID, transient, err)
			}
			log.Warn().Err(err).Int("poll", polls).Int("transient_errors", transient).Msg("jobs: transient poll error")
		case err != nil:
			return "", fmt.Errorf("jobs: poll %s: %w", jobID, err)
		default:
			transient = 0
			log.Debug().Int("poll", polls).Str("raw_status", state.Raw).Str("status", string(state.Status)).Msg("jobs: polled")
			switch state.Status {
			case StatusSucceeded:
				if state.ArtifactURL == "" {
					return "", fmt.Errorf("jobs: job %s succeeded without an artifact: %w", jobID, domain.ErrProviderMalformed)
				}
				log.Info().Int("polls", polls).Dur("elapsed", time.Since(started)).Msg("jobs: job succeeded")
				return state.ArtifactURL, nil
			case StatusFailed:
				log.Warn().Str("raw_status", state.Raw).Str("message", state.Message).Msg("jobs: job failed")
				return "", &domain.ProviderError{Kind: domain.ErrJobFailed, Message: failureMessage(state)}
			case StatusUnclassified:
				log.Warn().Str("raw_status", state.Raw).Msg("jobs: unclassified status treated as processing")
			}
		}

		if err := sleep(deadlineCtx, backoff.Next()); err != nil {
			return "", p.stopReason(ctx, jobID, started)
		}
	}
}

func (p *Poller) query(ctx context.Context, jobID string) (JobState, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	state, err := p.client.QueryStatus(callCtx, jobID)
	if err != nil {
		// A hung call that hit its own timeout is transient as long as the
		// overall budget is not spent.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return JobState{}, &domain.ProviderError{Kind: domain.ErrProviderServer, Message: "status query timed out"}
		}
		return JobState{}, err
	}
	return state, nil
}

// stopReason distinguishes caller cancellation from the poll deadline.
func (p *Poller) stopReason(parent context.Context, jobID string, started time.Time) error {
	if parent.Err() != nil {
		p.logger.Info().Str("job_id", jobID).Msg("jobs: polling abandoned")
		return fmt.Errorf("jobs: poll %s: %w", jobID, domain.ErrJobCancelled)
	}
	p.logger.Warn().Str("job_id", jobID).Dur("elapsed", time.Since(started)).Msg("jobs: polling deadline exceeded")
	return fmt.Errorf("jobs: poll %s after %s: %w", jobID, p.maxTotalTime, domain.ErrJobTimeout)
}

func failureMessage(state JobState) string {
	if state.Message != "" {
		return state.Message
	}
	return "provider reported status " + state.Raw
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
