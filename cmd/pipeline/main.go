// Command pipeline runs one dream through analysis, generation and download
// without the HTTP server, then prints the completed record.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/bootstrap"
	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
)

func main() {
	var (
		titleFlag       string
		descriptionFlag string
		resumeFlag      string
		keepFlag        bool
	)

	flag.StringVar(&titleFlag, "title", "", "dream title")
	flag.StringVar(&descriptionFlag, "description", "", "dream description; read from stdin when empty or -")
	flag.StringVar(&resumeFlag, "resume", "", "id of a stored dream to continue instead of creating one")
	flag.BoolVar(&keepFlag, "keep", true, "keep the dream in the store after a failure")
	flag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "pipeline").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, &logger, bootstrap.Overrides{})
	if err != nil {
		exitWithError(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Shutdown(shutdownCtx)
	}()

	record, err := start(ctx, app, titleFlag, descriptionFlag, resumeFlag)
	if err != nil {
		exitWithError(err)
	}
	logger.Info().Str("dream_id", record.ID).Str("status", string(record.Status)).Msg("pipeline: starting")

	if record.Status == domain.DreamStatusDraft {
		record, err = app.Service.Analyze(ctx, record.ID)
		if err != nil {
			fail(ctx, app, record, keepFlag, err)
		}
		logger.Info().Strs("keywords", record.Analysis.Keywords).Msg("pipeline: analyzed")
	}
	if record.Status == domain.DreamStatusAnalyzed {
		record, err = app.Service.Generate(ctx, record.ID)
		if err != nil {
			fail(ctx, app, record, keepFlag, err)
		}
	}
	if record.Status != domain.DreamStatusCompleted {
		exitWithError(fmt.Errorf("dream %s ended in %s", record.ID, record.Status))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(record)
}

func start(ctx context.Context, app *bootstrap.App, title, description, resume string) (domain.DreamRecord, error) {
	if resume = strings.TrimSpace(resume); resume != "" {
		record, err := app.Service.Get(resume)
		if err != nil {
			return domain.DreamRecord{}, err
		}
		if record.Status == domain.DreamStatusFailed {
			return app.Service.Retry(ctx, record.ID)
		}
		return record, nil
	}
	if description == "" || description == "-" {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
		if err != nil {
			return domain.DreamRecord{}, fmt.Errorf("read description: %w", err)
		}
		description = string(data)
	}
	if strings.TrimSpace(description) == "" {
		return domain.DreamRecord{}, errors.New("a description is required (-description or stdin)")
	}
	return app.Service.Create(ctx, title, description)
}

func fail(ctx context.Context, app *bootstrap.App, record domain.DreamRecord, keep bool, err error) {
	_, message := domain.Describe(err)
	if !keep && record.ID != "" {
		_ = app.Service.Delete(context.WithoutCancel(ctx), record.ID)
	}
	exitWithError(fmt.Errorf("%s\n%w", message, err))
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
