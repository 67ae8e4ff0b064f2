package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const eventsKeepAlive = 25 * time.Second

// Events returns lifecycle events after the since cursor.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	since, ok := a.cursor(w, r.URL.Query().Get("since"))
	if !ok {
		return
	}
	events := a.Dreams.Events().Since(since)
	next := since
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	a.json(w, http.StatusOK, map[string]any{"events": events, "next": next})
}

// EventStream pushes lifecycle events as server-sent events, starting with
// any buffered events after Last-Event-ID or the since cursor.
func (a *App) EventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("since")
	}
	since, ok := a.cursor(w, raw)
	if !ok {
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	bus := a.Dreams.Events()
	live, detach := bus.Subscribe(0)
	defer detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	last := since
	for _, event := range bus.Since(since) {
		if err := writeEvent(w, event.Seq, event); err != nil {
			return
		}
		last = event.Seq
	}
	flusher.Flush()

	ticker := time.NewTicker(eventsKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-live:
			if !open {
				return
			}
			if event.Seq <= last {
				continue
			}
			if err := writeEvent(w, event.Seq, event); err != nil {
				return
			}
			last = event.Seq
			flusher.Flush()
		}
	}
}

func (a *App) cursor(w http.ResponseWriter, raw string) (int64, bool) {
	if raw == "" {
		return 0, true
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "since must be a non-negative integer")
		return 0, false
	}
	return since, true
}

func writeEvent(w http.ResponseWriter, seq int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: dream\ndata: %s\n\n", seq, data)
	return err
}
