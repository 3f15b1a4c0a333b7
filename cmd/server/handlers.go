package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/graphmend"
	"github.com/brunobiangulo/graphmend/export"
)

type handler struct {
	engine graphmend.Engine
}

func newHandler(e graphmend.Engine) *handler {
	return &handler{engine: e}
}

// POST /extract
// Accepts JSON {"text": ..., "source": ..., "budget": ...} or a
// multipart upload with a "file" part.
func (h *handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		h.extractUpload(ctx, w, r)
		return
	}

	var req struct {
		Text   string `json:"text"`
		Source string `json:"source,omitempty"`
		Budget *int   `json:"budget,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected JSON with 'text' or a multipart file")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	source := req.Source
	if source == "" {
		source = "http"
	}

	rep, err := h.engine.Extract(ctx, req.Text, runOpts(source, req.Budget)...)
	writeRunReport(w, "extract", rep, err)
}

func (h *handler) extractUpload(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(100 << 20); err != nil { // 100MB max
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' part")
		return
	}
	defer file.Close()

	var budget *int
	if v := r.FormValue("budget"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid budget")
			return
		}
		budget = &n
	}

	// Keep the original base name: the loader dispatches on the
	// extension, and the name becomes the run's source label.
	safeName := filepath.Base(header.Filename)
	if safeName == "." || safeName == string(filepath.Separator) {
		safeName = "upload"
	}

	dir, err := os.MkdirTemp("", "graphmend-upload-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating upload dir", "error", err)
		return
	}
	defer os.RemoveAll(dir)

	tmpPath := filepath.Join(dir, safeName)
	dst, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating temp file", "error", err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to save file")
		slog.Error("saving uploaded file", "error", err)
		return
	}
	dst.Close()

	rep, err := h.engine.ExtractFile(ctx, tmpPath, runOpts(safeName, budget)...)
	writeRunReport(w, "extract", rep, err)
}

// POST /runs/{id}/resume
func (h *handler) handleResume(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		Budget *int `json:"budget,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	rep, err := h.engine.Resume(ctx, r.PathValue("id"), runOpts("", req.Budget)...)
	writeRunReport(w, "resume", rep, err)
}

// GET /runs
func (h *handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.engine.ListRuns(r.Context())
	if err != nil {
		writeRunError(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GET /runs/{id}
func (h *handler) handleRunReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.RunReport(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRunError(w, "run report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GET /runs/{id}/graphml
func (h *handler) handleRunGraphML(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.RunReport(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRunError(w, "graphml export", err)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := export.GraphML(w, rep.Graph); err != nil {
		slog.Error("graphml export error", "run_id", rep.RunID, "error", err)
	}
}

// GET /runs/{id}/xlsx
func (h *handler) handleRunWorkbook(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.RunReport(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRunError(w, "xlsx export", err)
		return
	}

	f, err := export.Workbook(*rep)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "xlsx export failed")
		slog.Error("building workbook", "run_id", rep.RunID, "error", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="run-`+rep.RunID+`.xlsx"`)
	if err := f.Write(w); err != nil {
		slog.Error("writing workbook", "run_id", rep.RunID, "error", err)
	}
}

// DELETE /runs/{id}
func (h *handler) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		writeRunError(w, "delete run", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /search?q=
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be in 1..100")
			return
		}
		limit = n
	}

	hits, err := h.engine.SearchEntities(r.Context(), q, limit)
	if err != nil {
		writeRunError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "hits": hits})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func runOpts(source string, budget *int) []graphmend.RunOption {
	var opts []graphmend.RunOption
	if source != "" {
		opts = append(opts, graphmend.WithSource(source))
	}
	if budget != nil {
		opts = append(opts, graphmend.WithBudget(*budget))
	}
	return opts
}

// writeRunReport renders a pipeline result. Halted and aborted runs
// still carry a report; the state field tells the caller what happened.
func writeRunReport(w http.ResponseWriter, op string, rep *export.Report, err error) {
	if rep == nil {
		writeRunError(w, op, err)
		return
	}
	if err != nil {
		slog.Error(op+" run error", "run_id", rep.RunID, "state", rep.State, "error", err)
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeRunError(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, op+" failed")
		slog.Error(op+" error", "error", err)
		return
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, graphmend.ErrEmptyInput),
		errors.Is(err, graphmend.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, graphmend.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, graphmend.ErrRunFinished):
		return http.StatusConflict
	case errors.Is(err, graphmend.ErrPersistenceDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
