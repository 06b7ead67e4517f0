package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"schedgraph/internal/sched"
)

func (a *App) handleSpans(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := a.page(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var thread sql.NullInt64
	if s := r.URL.Query().Get("thread_id"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid thread_id %q", s), http.StatusBadRequest)
			return
		}
		thread = sql.NullInt64{Int64: v, Valid: true}
	}
	spans, err := a.ds.SpansPage(r.Context(), thread, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, spans)
}

func (a *App) handleSpan(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid span id %q", idStr), http.StatusBadRequest)
		return
	}
	s, err := a.ds.Span(id)
	if err != nil {
		if errors.Is(err, errSpanNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, s)
}

func (a *App) handleDescendants(w http.ResponseWriter, r *http.Request) {
	start, limit, err := a.traversalParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows := a.ds.Descendants(start, limit)
	a.metrics.traversalRows.WithLabelValues("descendants").Observe(float64(len(rows)))
	writeJSON(w, rows)
}

func (a *App) handleAncestors(w http.ResponseWriter, r *http.Request) {
	start, limit, err := a.traversalParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows := a.ds.Ancestors(start, limit)
	a.metrics.traversalRows.WithLabelValues("ancestors").Observe(float64(len(rows)))
	writeJSON(w, rows)
}

func (a *App) handleSpurious(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := a.page(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := a.ds.Spurious(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleThreadStateSpan(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid thread state id %q", idStr), http.StatusBadRequest)
		return
	}
	writeJSON(w, a.ds.SpanOf(id))
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	meta, err := a.ds.Meta(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	states, err := a.ds.ThreadStates(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"meta":          meta,
		"summary":       a.ds.Summary(),
		"thread_states": states,
	})
}

// traversalParams parses the optional span_id and limit of a traversal.
func (a *App) traversalParams(r *http.Request) (sql.Null[sched.SpanID], int, error) {
	var start sql.Null[sched.SpanID]
	if s := r.URL.Query().Get("span_id"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return start, 0, fmt.Errorf("invalid span_id %q", s)
		}
		start = sql.Null[sched.SpanID]{V: sched.SpanID(v), Valid: true}
	}
	limit, err := intParam(r, "limit", a.maxRows)
	if err != nil {
		return start, 0, err
	}
	return start, a.capRows(limit), nil
}

// page parses limit and offset of a paged listing.
func (a *App) page(r *http.Request) (limit, offset int, err error) {
	if limit, err = intParam(r, "limit", defaultPageSize); err != nil {
		return 0, 0, err
	}
	if offset, err = intParam(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	return a.capRows(limit), offset, nil
}

func (a *App) capRows(limit int) int {
	if a.maxRows > 0 && (limit <= 0 || limit > a.maxRows) {
		return a.maxRows
	}
	return limit
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
