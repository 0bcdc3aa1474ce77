package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"creditos/internal/dashboard"
	"creditos/internal/filter"
	"creditos/internal/log"
	"creditos/internal/middleware/trace"
)

// stage is the template model of one step of the filter trace.
type stage struct {
	Filter string
	Rows   string
}

// pageData is shared by the full page and the panels partial.
type pageData struct {
	Source     string
	SnapshotID string
	FetchedAt  string
	Total      string
	Rows       string
	Empty      bool
	Controls   []control
	Stages     []stage
	Panels     []panel
	Problems   []string
}

// selection resolves the filter set of r against snap. A rejected selection
// is returned as a *filter.ValidationError or wraps errBadRequest.
func (s *Server) selection(r *http.Request, snap *dashboard.Snapshot) (filter.Set, error) {
	values, err := selectionValues(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return s.cfg.ParseQuery(values, snap.Options)
}

// page computes the template model for snap under set.
func (s *Server) page(r *http.Request, snap *dashboard.Snapshot, set filter.Set) (pageData, error) {
	charts, err := s.renderCharts(r.Context(), snap, s.cfg.Views, set)
	if err != nil {
		return pageData{}, err
	}

	data := pageData{
		Source:     snap.Source,
		SnapshotID: snap.ID,
		FetchedAt:  snap.FetchedAt.Local().Format("2006-01-02 15:04"),
		Total:      formatCount(len(snap.Data)),
		Controls:   buildControls(s.cfg, snap.Options, set),
	}
	steps := snap.Trace(set)
	rows := len(snap.Data)
	if len(steps) > 0 {
		rows = steps[len(steps)-1].Rows
	}
	data.Rows = formatCount(rows)
	data.Empty = rows == 0
	for _, st := range steps {
		data.Stages = append(data.Stages, stage{Filter: st.Filter, Rows: formatCount(st.Rows)})
	}
	for _, c := range charts {
		data.Panels = append(data.Panels, buildPanel(c))
	}
	return data, nil
}

// execute renders a template into a buffer first so a failing template never
// leaves a half written response.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err,
			"template", name)
		InternalServerError("Error interno").Write(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// fail reports err as an HTML fragment, or as the error page on full page
// loads.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	s.logFailure(r, status, err)

	var verr *filter.ValidationError
	problems := []string(nil)
	if errors.As(err, &verr) {
		msg = "La selección de filtros no es válida."
		problems = verr.Problems
	}
	data := map[string]any{
		"Status":    status,
		"Message":   msg,
		"Problems":  problems,
		"RequestID": trace.GetRequestID(r.Context()),
	}
	if r.Header.Get("HX-Request") == "true" {
		s.execute(w, r, status, "error-fragment", data)
		return
	}
	s.execute(w, r, status, "error.html", data)
}

func (s *Server) logFailure(r *http.Request, status int, err error) {
	logger := log.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", log.FieldError, err, log.FieldPath, r.URL.Path)
		return
	}
	logger.InfoContext(r.Context(), "Request rejected", log.FieldError, err, log.FieldPath, r.URL.Path)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap, err := s.loader.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	set, err := s.selection(r, snap)
	var problems []string
	if err != nil {
		// A stale bookmark should still open the dashboard.
		var verr *filter.ValidationError
		if !errors.As(err, &verr) {
			s.fail(w, r, err)
			return
		}
		problems = verr.Problems
		set = s.cfg.DefaultSet(snap.Options)
	}

	data, err := s.page(r, snap, set)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data.Problems = problems
	s.execute(w, r, http.StatusOK, "index.html", data)
}

// handlePanels renders the summary, the filter trace and every chart for the
// selection in the query string. It backs the sidebar form.
func (s *Server) handlePanels(w http.ResponseWriter, r *http.Request) {
	snap, err := s.loader.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	set, err := s.selection(r, snap)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, err := s.page(r, snap, set)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	push := "/"
	if q := s.cfg.EncodeQuery(set, snap.Options).Encode(); q != "" {
		push += "?" + q
	}
	w.Header().Set("HX-Push-Url", push)
	s.execute(w, r, http.StatusOK, "panels", data)
}

// handleRefresh reloads the dataset from the source. HTMX callers get a
// trigger that reloads the page; other callers get the snapshot summary.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.charts.Purge()
	snap, err := s.loader.Refresh(r.Context())
	htmx := r.Header.Get("HX-Request") == "true"
	if err != nil {
		status, msg := errorStatus(err)
		s.logFailure(r, status, err)
		if htmx {
			ErrorResponse(status, msg).TriggerErrorNotification(msg).Write(w)
			return
		}
		writeJSONError(w, err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Dataset refreshed on request",
		log.FieldSnapshotID, snap.ID,
		log.FieldSource, snap.Source,
		log.FieldRows, len(snap.Data))

	if htmx {
		NewHTMXResponse().
			TriggerDatasetRefreshed(snap.ID, len(snap.Data)).
			TriggerSuccessNotification(fmt.Sprintf("Datos actualizados: %s filas", formatCount(len(snap.Data)))).
			Status(http.StatusNoContent).
			Write(w)
		return
	}
	_ = writeJSON(w, http.StatusOK, snapshotInfo(snap))
}

type snapshotSummary struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	FetchedAt time.Time      `json:"fetched_at"`
	Rows      int            `json:"rows"`
	Malformed map[string]int `json:"malformed,omitempty"`
}

func snapshotInfo(snap *dashboard.Snapshot) snapshotSummary {
	out := snapshotSummary{ID: snap.ID, Source: snap.Source, FetchedAt: snap.FetchedAt, Rows: len(snap.Data)}
	for col, n := range snap.Report.Malformed {
		if n == 0 {
			continue
		}
		if out.Malformed == nil {
			out.Malformed = make(map[string]int)
		}
		out.Malformed[string(col)] = n
	}
	return out
}

// optionsResponse lists the controls and the values each one accepts.
type optionsResponse struct {
	Snapshot snapshotSummary       `json:"snapshot"`
	Filters  []dashboard.FilterDef `json:"filters"`
	Options  filter.Options        `json:"options"`
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	snap, err := s.loader.Snapshot(r.Context())
	if err != nil {
		s.logFailure(r, writeJSONError(w, err), err)
		return
	}
	_ = writeJSON(w, http.StatusOK, optionsResponse{
		Snapshot: snapshotInfo(snap),
		Filters:  s.cfg.Filters,
		Options:  snap.Options,
	})
}

// viewsResponse is every chart for one selection.
type viewsResponse struct {
	Snapshot snapshotSummary   `json:"snapshot"`
	Query    string            `json:"query"`
	Trace    []filter.Stage    `json:"trace"`
	Charts   []dashboard.Chart `json:"charts"`
}

// handleViews lists the configured views without computing them.
func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]any{"views": s.cfg.Views})
}

// handleCharts computes every view for one selection.
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	s.serveViews(w, r, s.cfg.Views)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	v, ok := s.cfg.View(r.PathValue("id"))
	if !ok {
		_ = writeJSON(w, http.StatusNotFound, errorBody{Error: "vista desconocida: " + r.PathValue("id")})
		return
	}
	s.serveViews(w, r, []dashboard.View{v})
}

func (s *Server) serveViews(w http.ResponseWriter, r *http.Request, views []dashboard.View) {
	snap, err := s.loader.Snapshot(r.Context())
	if err != nil {
		s.logFailure(r, writeJSONError(w, err), err)
		return
	}
	set, err := s.selection(r, snap)
	if err != nil {
		s.logFailure(r, writeJSONError(w, err), err)
		return
	}
	charts, err := s.renderCharts(r.Context(), snap, views, set)
	if err != nil {
		s.logFailure(r, writeJSONError(w, err), err)
		return
	}
	_ = writeJSON(w, http.StatusOK, viewsResponse{
		Snapshot: snapshotInfo(snap),
		Query:    s.cfg.EncodeQuery(set, snap.Options).Encode(),
		Trace:    snap.Trace(set),
		Charts:   charts,
	})
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady reports ready once a snapshot has loaded at least once. It never triggers a
// fetch itself.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{
		"templates":    "ok",
		"chart_cache":  map[string]any{"entries": s.charts.Size()},
		"rate_limiter": map[string]any{"active_clients": s.limiter.ActiveClients()},
		"requests":     s.tracer.TotalRequests(),
		"suspicious":   s.detector.SuspiciousRequests(),
	}
	status, code := "ready", http.StatusOK
	// Ready once any snapshot has loaded; an expired one reloads on demand.
	if snap, ok := s.loader.LastLoaded(); ok {
		_, cached := s.loader.Current()
		checks["snapshot"] = map[string]any{"last": snapshotInfo(snap), "cached": cached}
	} else {
		checks["snapshot"] = "not_loaded"
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			checks[name] = map[string]any{"status": "failed", "error": err.Error()}
			status, code = "not_ready", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	_ = writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}
