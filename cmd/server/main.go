package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/extractd/extractd/internal/api"
	"github.com/extractd/extractd/internal/chunker"
	"github.com/extractd/extractd/internal/config"
	"github.com/extractd/extractd/internal/extract"
	"github.com/extractd/extractd/internal/pipeline"
	"github.com/extractd/extractd/internal/schema"
	"github.com/extractd/extractd/internal/score"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	for _, warning := range cfg.Warnings() {
		log.Warn(warning)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire the extraction stack.
	oracle := extract.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OracleTimeout, log)
	analyzer := schema.NewAnalyzer(cfg.MaxSchemaTokens, cfg.OpenAIModel)
	scorer := score.NewScorer(cfg.ConfidenceThreshold)
	engine := extract.NewEngine(oracle, analyzer, scorer, chunker.Config{
		MaxTokens:     cfg.MaxDocumentTokens,
		OverlapTokens: cfg.OverlapTokens,
		Model:         cfg.OpenAIModel,
	}, cfg.MaxParallelChunks, log)

	// Async job pool.
	orch := pipeline.NewOrchestrator(cfg, engine, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, engine, analyzer, oracle, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		oracle.Close()
	}()

	log.Info("starting extraction service", "port", cfg.Port, "model", cfg.OpenAIModel)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
