package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wujiajunhahah/dreamvision/internal/assetcache"
	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
	"github.com/wujiajunhahah/dreamvision/internal/lifecycle"
	"github.com/wujiajunhahah/dreamvision/internal/manifest"
)

// App holds the collaborators the HTTP handlers drive.
type App struct {
	Dreams   *lifecycle.Service
	Assets   *assetcache.Cache
	Manifest *manifest.Writer
	Logger   *infra.Logger
}

func NewApp(dreams *lifecycle.Service, assets *assetcache.Cache, models *manifest.Writer, logger *infra.Logger) *App {
	return &App{Dreams: dreams, Assets: assets, Manifest: models, Logger: infra.OrDiscard(logger)}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{"error": map[string]string{"code": code, "message": message}})
}

// fail maps lifecycle errors onto HTTP statuses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrPrecondition):
		a.error(w, http.StatusConflict, domain.KindPrecondition, err.Error())
	default:
		kind, message := domain.Describe(err)
		zerolog.Ctx(r.Context()).Error().Err(err).Str("kind", kind).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, kind, message)
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
