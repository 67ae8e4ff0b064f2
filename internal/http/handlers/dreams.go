package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wujiajunhahah/dreamvision/internal/domain"
)

type dreamRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (a *App) DreamsCreate(w http.ResponseWriter, r *http.Request) {
	var req dreamRequest
	if !a.decode(w, r, &req) {
		return
	}
	record, err := a.Dreams.Create(r.Context(), req.Title, req.Description)
	if errors.Is(err, domain.ErrPrecondition) {
		a.error(w, http.StatusBadRequest, "invalid_dream", err.Error())
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, record)
}

func (a *App) DreamsList(w http.ResponseWriter, r *http.Request) {
	items := a.Dreams.List()
	if status := domain.DreamStatus(r.URL.Query().Get("status")); status != "" {
		if !status.Valid() {
			a.error(w, http.StatusBadRequest, "bad_request", "unknown status")
			return
		}
		filtered := make([]domain.DreamRecord, 0, len(items))
		for _, item := range items {
			if item.Status == status {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) DreamGet(w http.ResponseWriter, r *http.Request) {
	record, err := a.Dreams.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, record)
}

func (a *App) DreamUpdate(w http.ResponseWriter, r *http.Request) {
	var req dreamRequest
	if !a.decode(w, r, &req) {
		return
	}
	record, err := a.Dreams.Update(r.Context(), chi.URLParam(r, "id"), req.Title, req.Description)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, record)
}

// DreamAnalyze starts analysis and answers once the record is analyzing.
func (a *App) DreamAnalyze(w http.ResponseWriter, r *http.Request) {
	record, err := a.Dreams.StartAnalyze(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, record)
}

func (a *App) DreamGenerate(w http.ResponseWriter, r *http.Request) {
	record, err := a.Dreams.StartGenerate(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, record)
}

func (a *App) DreamCancel(w http.ResponseWriter, r *http.Request) {
	record, err := a.Dreams.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, record)
}

func (a *App) DreamRetry(w http.ResponseWriter, r *http.Request) {
	record, err := a.Dreams.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, record)
}

func (a *App) DreamDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.Dreams.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) DreamProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := a.Dreams.Progress(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	body := map[string]any{
		"status":        progress.Status,
		"stageFraction": progress.StageFraction,
		"fraction":      progress.Fraction,
	}
	if progress.Estimated {
		body["remainingSeconds"] = progress.Remaining.Seconds()
	}
	a.json(w, http.StatusOK, body)
}
