package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	extraction "github.com/brianjwalters/entity-extraction-service-sub000"
	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
	"github.com/brianjwalters/entity-extraction-service-sub000/merge"
)

type handler struct {
	engine extraction.Engine
}

func newHandler(e extraction.Engine) *handler {
	return &handler{engine: e}
}

// POST /extract
func (h *handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req extraction.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.engine.Extract(ctx, req)
	if err != nil {
		writeExtractError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// POST /extract-file
// Accepts multipart file upload or JSON with file path.
func (h *handler) handleExtractFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal. The original
			// name survives only as the document ID; the upload lands at
			// a unique temp path so concurrent same-name uploads cannot
			// clobber each other. The extension is preserved because the
			// loader registry dispatches on it.
			safeName := filepath.Base(header.Filename)

			dst, err := os.CreateTemp("", "upload-*"+filepath.Ext(safeName))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", err)
				return
			}
			tmpPath := dst.Name()
			defer os.Remove(tmpPath)
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}
			dst.Close()

			res, err := h.engine.ExtractFile(ctx, tmpPath, extraction.Request{DocumentID: safeName})
			if err != nil {
				writeExtractError(w, err)
				return
			}

			writeJSON(w, http.StatusOK, res)
			return
		}
	}

	// Try JSON body with path
	var req struct {
		Path string `json:"path"`
		extraction.Request
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	// Validate that path is a real file (prevents directory traversal probing).
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	res, err := h.engine.ExtractFile(ctx, absPath, req.Request)
	if err != nil {
		writeExtractError(w, err)
		slog.Error("extract-file error", "path", absPath, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// POST /merge
// Deduplicates a caller-supplied entity batch without running
// extraction. The batch must use the exact wire field names.
func (h *handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entities            json.RawMessage `json:"entities"`
		SimilarityThreshold float64         `json:"similarity_threshold,omitempty"`
		CrossTypeDedup      bool            `json:"cross_type_dedup,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Entities) == 0 {
		writeError(w, http.StatusBadRequest, "entities is required")
		return
	}

	entities, err := extractor.DecodeWire(req.Entities)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	threshold := req.SimilarityThreshold
	if threshold == 0 {
		threshold = 0.85
	}
	merger := merge.New(merge.Config{
		SimilarityThreshold: threshold,
		CrossTypeDedup:      req.CrossTypeDedup,
	})
	merged := merger.Merge(entities)

	writeJSON(w, http.StatusOK, map[string]any{
		"entities":      merged,
		"input_count":   len(entities),
		"output_count":  len(merged),
		"removed_count": len(entities) - len(merged),
	})
}

// GET /runs
func (h *handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s := h.engine.Store()
	if s == nil {
		writeError(w, http.StatusNotImplemented, "persistence is not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		slog.Error("list runs error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GET /runs/{id}
func (h *handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	s := h.engine.Store()
	if s == nil {
		writeError(w, http.StatusNotImplemented, "persistence is not configured")
		return
	}

	run, err := s.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load run")
		slog.Error("get run error", "run_id", r.PathValue("id"), "error", err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// GET /runs/{id}/entities
func (h *handler) handleRunEntities(w http.ResponseWriter, r *http.Request) {
	s := h.engine.Store()
	if s == nil {
		writeError(w, http.StatusNotImplemented, "persistence is not configured")
		return
	}

	id := r.PathValue("id")
	if _, err := s.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load run")
		slog.Error("get run error", "run_id", id, "error", err)
		return
	}

	entities, err := s.ListRunEntities(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load entities")
		slog.Error("list run entities error", "run_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   id,
		"entities": entities,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeExtractError maps pipeline errors to HTTP statuses.
func writeExtractError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, extraction.ErrEmptyDocument),
		errors.Is(err, extraction.ErrUnknownStrategy):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, extraction.ErrDocumentTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, extraction.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, extraction.ErrExtractionFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "extraction failed")
		slog.Error("extract error", "error", err)
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
