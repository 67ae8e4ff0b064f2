package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/bootstrap"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, &logger, bootstrap.Overrides{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble application")
	}

	server := infra.NewHTTPServer(cfg, app.Handler)
	logger.Info().Str("addr", server.Addr()).Msg("API listening")
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
	}

	// In-flight dreams are left for reconciliation if they do not unwind in time.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("in-flight dreams did not stop in time")
	}
	logger.Info().Msg("server stopped")
}
