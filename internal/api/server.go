// Package api exposes the extraction service over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/extractd/extractd/internal/config"
	"github.com/extractd/extractd/internal/extract"
	"github.com/extractd/extractd/internal/pipeline"
	"github.com/extractd/extractd/internal/schema"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

// Server is the HTTP API for the extraction service.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	engine       *extract.Engine
	analyzer     *schema.Analyzer
	oracle       *extract.OpenAIClient
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, engine *extract.Engine, analyzer *schema.Analyzer, oracle *extract.OpenAIClient, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		engine:       engine,
		analyzer:     analyzer,
		oracle:       oracle,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Post("/extract", s.handleExtract)
	r.Post("/extract/file", s.handleExtractFile)
	r.Post("/analyze-schema", s.handleAnalyzeSchema)

	r.Post("/extract/jobs", s.handleCreateJob)
	r.Get("/extract/jobs/{jobID}", s.handleJobStatus)

	r.Get("/stats/llm", s.handleLLMStats)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonError(w, "Endpoint not found", http.StatusNotFound)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	oracleStatus := "ready"
	if !s.oracle.Configured() {
		oracleStatus = "not_configured"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"version": Version,
		"components": map[string]string{
			"schema_analyzer":    "ready",
			"document_segmenter": "ready",
			"extraction_engine":  "ready",
			"confidence_scorer":  "ready",
			"oracle":             oracleStatus,
		},
	})
}
