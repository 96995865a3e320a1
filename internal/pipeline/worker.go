package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/extractd/extractd/internal/extract"
	"github.com/extractd/extractd/internal/parser"
	"github.com/extractd/extractd/internal/schema"
)

// Worker processes a single extraction job.
type Worker struct {
	engine      *extract.Engine
	log         *slog.Logger
	pdfFallback bool
}

func NewWorker(engine *extract.Engine, log *slog.Logger, pdfFallback bool) *Worker {
	return &Worker{
		engine:      engine,
		log:         log,
		pdfFallback: pdfFallback,
	}
}

// Process runs the full pipeline for a job: resolve the input text (parsing
// an uploaded file when present), parse the schema, extract, store the
// result.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)

	// Phase 1: resolve input text.
	job.SetStatus(StatusParsing, "parsing")
	text, err := w.resolveText(job)
	if err != nil {
		log.Error("input parsing failed", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	if text == "" {
		job.AddError("no extractable content")
		job.SetStatus(StatusFailed, "parsing")
		return
	}

	// Phase 2: parse and analyze the schema.
	job.SetStatus(StatusAnalyzing, "analyzing")
	node, err := schema.Parse(job.schemaRaw)
	if err != nil {
		log.Error("schema rejected", "error", err)
		job.AddError(fmt.Sprintf("schema: %s", err))
		job.SetStatus(StatusFailed, "analyzing")
		return
	}

	// Phase 3: run extraction. Chunk-level failures are absorbed inside the
	// engine; reaching here means the job itself completes.
	job.SetStatus(StatusExtracting, "extracting")
	result := w.engine.ExtractDocument(ctx, text, node)
	job.SetResult(result)

	log.Info("extraction complete",
		"strategy", result.Strategy,
		"tokens", result.TokenUsage,
		"overall_confidence", result.Confidence.Overall)
	job.SetStatus(StatusCompleted, "done")
}

// resolveText returns the job's inline text, or parses the uploaded file
// into a flattened document.
func (w *Worker) resolveText(job *Job) (string, error) {
	if job.fileData == nil {
		return job.text, nil
	}

	p, err := parser.ForFile(job.Filename)
	if err != nil {
		return "", err
	}
	if pdf, ok := p.(*parser.PDFParser); ok {
		pdf.FallbackPdftotext = w.pdfFallback
	}

	tree, err := p.Parse(bytes.NewReader(job.fileData), job.Filename)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", job.Filename, err)
	}
	return tree.FlattenText(), nil
}
