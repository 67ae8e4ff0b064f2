// Package bootstrap wires exactly one instance of every collaborator the
// dream pipeline needs, from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wujiajunhahah/dreamvision/internal/assetcache"
	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/http/handlers"
	"github.com/wujiajunhahah/dreamvision/internal/http/httpapi"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
	"github.com/wujiajunhahah/dreamvision/internal/jobs"
	"github.com/wujiajunhahah/dreamvision/internal/lifecycle"
	"github.com/wujiajunhahah/dreamvision/internal/manifest"
	"github.com/wujiajunhahah/dreamvision/internal/providers/analysis"
	"github.com/wujiajunhahah/dreamvision/internal/providers/generation"
	"github.com/wujiajunhahah/dreamvision/internal/providers/providerhttp"
	"github.com/wujiajunhahah/dreamvision/internal/store"
)

// Overrides replaces remote collaborators, mainly for tests and the
// pipeline CLI's dry runs. Nil fields are built from configuration.
type Overrides struct {
	Analyzer   lifecycle.Analyzer
	Submitter  lifecycle.JobSubmitter
	Querier    jobs.StatusQuerier
	HTTPClient *http.Client
}

// App is the assembled process.
type App struct {
	Service  *lifecycle.Service
	Assets   *assetcache.Cache
	Manifest *manifest.Writer
	Handler  http.Handler

	logger  *infra.Logger
	closers []func()
}

// Build constructs the store, provider clients, poller, asset cache,
// manifest hook and lifecycle service, then loads and reconciles stored
// dreams.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger, over Overrides) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	logger = infra.OrDiscard(logger)
	app := &App{logger: logger}

	repo, err := app.openStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	retry := &providerhttp.RetryPolicy{MaxRetries: cfg.RequestRetries, Delay: cfg.RequestRetryDelay}

	analyzer := over.Analyzer
	if analyzer == nil {
		client, err := analysis.NewClient(analysis.Options{
			APIKey:     cfg.AnalysisAPIKey,
			Model:      cfg.AnalysisModel,
			BaseURL:    cfg.AnalysisBaseURL,
			HTTPClient: over.HTTPClient,
			Retry:      retry,
			Logger:     logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("bootstrap: analysis client: %w", err)
		}
		analyzer = client
	}

	submitter, querier := over.Submitter, over.Querier
	if submitter == nil || querier == nil {
		client, err := generation.NewClient(generation.Options{
			APIKey:     cfg.GenerationAPIKey,
			BaseURL:    cfg.GenerationBaseURL,
			Quality:    cfg.GenerationQuality,
			Format:     cfg.GenerationFormat,
			Timeout:    cfg.PollCallTimeout,
			HTTPClient: over.HTTPClient,
			Retry:      retry,
			Logger:     logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("bootstrap: generation client: %w", err)
		}
		if submitter == nil {
			submitter = client
		}
		if querier == nil {
			querier = client
		}
	}

	poller := jobs.NewPoller(querier, jobs.PollerOptions{
		Backoff: jobs.BackoffOptions{
			Base:       cfg.PollBase,
			Floor:      cfg.PollFloor,
			MaxAttempt: cfg.PollMaxAttempt,
		},
		MaxTotalTime:       cfg.PollMaxTotalTime,
		CallTimeout:        cfg.PollCallTimeout,
		MaxTransientErrors: cfg.PollMaxTransient,
		Logger:             logger,
	})

	app.Assets, err = assetcache.Open(assetcache.Options{
		Dir:             cfg.CacheDir,
		PreferredFormat: cfg.PreferredFormat,
		RejectedFormats: cfg.RejectedFormats,
		HTTPClient:      over.HTTPClient,
		Timeout:         cfg.DownloadTimeout,
		MaxBytes:        cfg.DownloadMaxBytes,
		Retry:           retry,
		Logger:          logger,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("bootstrap: asset cache: %w", err)
	}

	app.Manifest, err = manifest.NewWriter(cfg.ManifestPath, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("bootstrap: manifest: %w", err)
	}

	app.Service, err = lifecycle.NewService(lifecycle.Options{
		Store:     repo,
		Analyzer:  analyzer,
		Submitter: submitter,
		Waiter:    poller,
		Assets:    app.Assets,
		Hooks:     []lifecycle.CompletionHook{app.Manifest},
		Targets: lifecycle.ProgressTargets{
			Analysis:   cfg.AnalysisTarget,
			Generation: cfg.GenerationTarget,
		},
		AnalysisTimeout: cfg.AnalysisTimeout,
		Logger:          logger,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("bootstrap: lifecycle: %w", err)
	}
	if err := app.Service.Load(ctx); err != nil {
		app.Close()
		return nil, err
	}

	app.Handler = httpapi.NewRouter(
		handlers.NewApp(app.Service, app.Assets, app.Manifest, logger),
		httpapi.Options{
			AllowedOrigins:  cfg.CORSAllowedOrigins,
			RateLimitPerMin: cfg.RateLimitPerMin,
			Logger:          logger,
		},
	)

	logger.Info().
		Str("store", cfg.StoreDriver).
		Str("cache_dir", cfg.CacheDir).
		Strs("rejected_formats", cfg.RejectedFormats).
		Msg("bootstrap: ready")
	return app, nil
}

func (a *App) openStore(ctx context.Context, cfg *infra.Config) (domain.DreamRepository, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		repo, err := store.NewPostgresStore(ctx, pool, a.logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return repo, nil
	default:
		repo, err := store.NewJSONStore(cfg.StorePath, a.logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return repo, nil
	}
}

// Shutdown stops in-flight operations, leaving their records for the next
// start to reconcile, and releases the store.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.Service != nil {
		err = a.Service.Shutdown(ctx)
	}
	a.Close()
	return err
}

// Close releases resources without waiting for in-flight work.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
