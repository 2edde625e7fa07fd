package providers

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

const PDFExtractorName = "pdf"

// PDFExtractor extracts text from local PDF files using pdftotext
// (poppler-utils), with pdfcpu supplying page counts. It needs no external
// service, which makes it the fallback when GROBID is unavailable.
type PDFExtractor struct {
	binary string
	logger *slog.Logger
}

// NewPDFExtractor creates a local PDF extractor.
func NewPDFExtractor(logger *slog.Logger) *PDFExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFExtractor{binary: "pdftotext", logger: logger}
}

// Name returns the extractor identifier.
func (e *PDFExtractor) Name() string {
	return PDFExtractorName
}

// HealthCheck verifies the pdftotext binary is on PATH.
func (e *PDFExtractor) HealthCheck(_ context.Context) error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return errdefs.WrapInfrastructure(err, "pdftotext not found; install poppler-utils")
	}
	return nil
}

// Extract implements Extractor.
func (e *PDFExtractor) Extract(ctx context.Context, item work.Item) (*work.ExtractionResult, error) {
	source, err := sourcePath(item)
	if err != nil {
		return nil, err
	}

	pages := e.pageCount(source)

	cmd := exec.CommandContext(ctx, e.binary, "-enc", "UTF-8", source, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, lookErr := exec.LookPath(e.binary); lookErr != nil {
			return nil, errdefs.WrapInfrastructure(lookErr, "pdftotext not found; install poppler-utils")
		}
		// pdftotext exits nonzero on unreadable documents.
		return nil, errdefs.ContentUnavailable("pdftotext failed for %s: %s", item.ID, firstLine(stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return nil, errdefs.ContentUnavailable("document %s has no extractable text", item.ID)
	}

	return &work.ExtractionResult{
		Text:   text,
		Source: source,
		Pages:  pages,
		Metadata: map[string]string{
			"extractor": PDFExtractorName,
		},
	}, nil
}

// pageCount reads the page count; failures are logged, not fatal, since the
// count is advisory metadata.
func (e *PDFExtractor) pageCount(source string) int {
	f, err := os.Open(source)
	if err != nil {
		return 0
	}
	defer f.Close()

	count, err := api.PageCount(f, nil)
	if err != nil {
		e.logger.Debug("page count failed", "source", source, "error", err)
		return 0
	}
	return count
}

// sourcePath validates that the item names a readable source document.
func sourcePath(item work.Item) (string, error) {
	if item.Source == "" {
		return "", errdefs.ContentUnavailable("item %s has no source document", item.ID)
	}
	if _, err := os.Stat(item.Source); err != nil {
		return "", errdefs.ContentUnavailable("source for %s unreadable: %v", item.ID, err)
	}
	return item.Source, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ Extractor = (*PDFExtractor)(nil)
