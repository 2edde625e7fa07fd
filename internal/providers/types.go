// Package providers implements the external collaborators of the pipeline:
// text extractors (GROBID, local PDF tooling) and analyzers (OpenAI, Gemini),
// plus mocks for tests and dry runs.
package providers

import (
	"context"

	"github.com/jackzampolin/stacks/internal/work"
)

// Extractor pulls full text and metadata out of an item's source document.
type Extractor interface {
	// Name returns the extractor identifier (e.g. "grobid", "pdf").
	Name() string

	// Extract returns the document text for one item. Errors are classified
	// through the failure taxonomy so the caller can decide retry vs fallback.
	Extract(ctx context.Context, item work.Item) (*work.ExtractionResult, error)
}

// AnalysisRequest carries one item's extracted text to an analyzer.
type AnalysisRequest struct {
	ItemID string
	Title  string
	Text   string
}

// Analyzer produces a structured summary of extracted text via an external
// model service.
type Analyzer interface {
	// Name returns the analyzer identifier (e.g. "openai", "gemini").
	Name() string

	// Analyze summarizes one item. Implementations rate-limit themselves;
	// callers only bound concurrency.
	Analyze(ctx context.Context, req *AnalysisRequest) (*work.AnalysisResult, error)
}

// HealthChecker is implemented by providers that can verify reachability
// before a session starts.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
