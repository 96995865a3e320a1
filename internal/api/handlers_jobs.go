package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/extractd/extractd/internal/parser"
	"github.com/extractd/extractd/internal/pipeline"
	"github.com/extractd/extractd/internal/schema"
)

// handleCreateJob accepts a multipart form with a schema plus either an
// uploaded file or inline text, and queues it for asynchronous extraction.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	schemaRaw := r.FormValue("schema")
	if schemaRaw == "" {
		jsonError(w, "Missing required field: schema", http.StatusBadRequest)
		return
	}
	// Reject malformed schemas up front so the failure is synchronous.
	if _, err := schema.Parse([]byte(schemaRaw)); err != nil {
		jsonError(w, "Schema must be a valid JSON object", http.StatusBadRequest)
		return
	}

	var job *pipeline.Job
	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()

		filename := sanitizeFilename(header.Filename)
		if !parser.IsSupportedExtension(filename) {
			jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
		if err != nil {
			jsonError(w, "failed to read file", http.StatusInternalServerError)
			return
		}
		if int64(len(data)) > s.cfg.MaxUploadBytes {
			jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		job = pipeline.NewJob(json.RawMessage(schemaRaw), "", data, filename)
	} else {
		text := r.FormValue("text")
		if text == "" {
			jsonError(w, "Missing required field: file or text", http.StatusBadRequest)
			return
		}
		job = pipeline.NewJob(json.RawMessage(schemaRaw), text, nil, "")
	}

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"poll_url": fmt.Sprintf("/extract/jobs/%s", job.ID),
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job.Snapshot())
}
