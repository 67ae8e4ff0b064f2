package handlers

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

var formatContentTypes = map[string]string{
	"usdz":    "model/vnd.usdz+zip",
	"usda":    "model/vnd.usda",
	"usdc":    "model/vnd.usdc",
	"usd":     "model/vnd.usd",
	"reality": "model/vnd.reality",
}

// DreamAsset hands the cached model file of a completed dream to the
// renderer.
func (a *App) DreamAsset(w http.ResponseWriter, r *http.Request) {
	record, err := a.Dreams.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if record.Artifact == nil {
		a.error(w, http.StatusConflict, "not_ready", "dream has no generated model yet")
		return
	}
	if _, err := os.Stat(record.Artifact.LocalPath); err != nil {
		a.error(w, http.StatusGone, "asset_missing", "cached model file is missing")
		return
	}
	if ct, ok := formatContentTypes[record.Artifact.Format]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Asset-Format", record.Artifact.Format)
	http.ServeFile(w, r, record.Artifact.LocalPath)
}

// ListAssets reports what the on-disk asset cache holds.
func (a *App) ListAssets(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Assets.Entries()})
}

// ListModels returns the manifest consumed by offline conversion tooling.
func (a *App) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := a.Manifest.Models()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"models": models})
}
