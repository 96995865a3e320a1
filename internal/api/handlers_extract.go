package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/extractd/extractd/internal/extract"
	"github.com/extractd/extractd/internal/parser"
	"github.com/extractd/extractd/internal/schema"
)

type extractRequest struct {
	Schema json.RawMessage `json:"schema"`
	Text   string          `json:"text"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Schema) == 0 || req.Text == "" {
		jsonError(w, "Missing required fields: schema and text", http.StatusBadRequest)
		return
	}

	node, err := schema.Parse(req.Schema)
	if err != nil {
		jsonError(w, "Schema must be a valid JSON object", http.StatusBadRequest)
		return
	}

	result := s.engine.ExtractDocument(r.Context(), req.Text, node)
	s.writeExtractResponse(w, result, start)
}

func (s *Server) handleExtractFile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead
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
	node, err := schema.Parse([]byte(schemaRaw))
	if err != nil {
		jsonError(w, "Schema must be a valid JSON object", http.StatusBadRequest)
		return
	}

	text, status, err := s.readUploadedText(r)
	if err != nil {
		jsonError(w, err.Error(), status)
		return
	}

	result := s.engine.ExtractDocument(r.Context(), text, node)
	s.writeExtractResponse(w, result, start)
}

func (s *Server) handleAnalyzeSchema(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Schema json.RawMessage `json:"schema"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Schema) == 0 {
		jsonError(w, "Missing required field: schema", http.StatusBadRequest)
		return
	}

	node, err := schema.Parse(req.Schema)
	if err != nil {
		jsonError(w, "Schema must be a valid JSON object", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.analyzer.Analyze(node))
}

func (s *Server) writeExtractResponse(w http.ResponseWriter, result *extract.DocumentResult, start time.Time) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":               result.Data,
		"confidence":         result.Confidence,
		"strategy":           result.Strategy,
		"token_usage":        result.TokenUsage,
		"schema_analysis":    result.Analysis,
		"document_info":      result.Document,
		"processing_time_ms": time.Since(start).Milliseconds(),
	})
}

// readUploadedText pulls the "file" part out of an already-parsed multipart
// form, enforces the size cap, and parses it into plain text. The returned
// status accompanies a non-nil error.
func (s *Server) readUploadedText(r *http.Request) (string, int, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", http.StatusBadRequest, fmt.Errorf("file is required: %w", err)
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		return "", http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return "", http.StatusInternalServerError, errors.New("failed to read file")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return "", http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)
	}

	p, err := parser.ForFile(filename)
	if err != nil {
		return "", http.StatusBadRequest, err
	}
	if pdf, ok := p.(*parser.PDFParser); ok {
		pdf.FallbackPdftotext = s.cfg.PDFFallbackPdftotext
	}
	tree, err := p.Parse(bytes.NewReader(data), filename)
	if err != nil {
		return "", http.StatusBadRequest, fmt.Errorf("parse %s: %w", filename, err)
	}
	return tree.FlattenText(), 0, nil
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
