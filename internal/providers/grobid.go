package providers

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

const (
	GrobidExtractorName = "grobid"

	// DefaultGrobidURL matches the port published by the managed container.
	DefaultGrobidURL = "http://localhost:8070"

	grobidFulltextPath = "/api/processFulltextDocument"
	grobidAlivePath    = "/api/isalive"
)

// GrobidExtractor extracts structured full text from scholarly PDFs via a
// GROBID service.
type GrobidExtractor struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// GrobidConfig holds configuration for the GROBID extractor.
type GrobidConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client // Optional (tests)
	Logger     *slog.Logger
}

// NewGrobidExtractor creates a GROBID-backed extractor.
func NewGrobidExtractor(cfg GrobidConfig) *GrobidExtractor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGrobidURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GrobidExtractor{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

// Name returns the extractor identifier.
func (e *GrobidExtractor) Name() string {
	return GrobidExtractorName
}

// HealthCheck verifies the GROBID service responds on its liveness endpoint.
func (e *GrobidExtractor) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+grobidAlivePath, nil)
	if err != nil {
		return errdefs.WrapInfrastructure(err, "grobid health request failed")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return errdefs.WrapInfrastructure(err, "grobid unreachable at "+e.baseURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errdefs.Infrastructure("grobid not ready (status %d)", resp.StatusCode)
	}
	return nil
}

// Extract implements Extractor. The PDF is posted to GROBID's fulltext
// endpoint and the TEI response reduced to plain text plus header metadata.
func (e *GrobidExtractor) Extract(ctx context.Context, item work.Item) (*work.ExtractionResult, error) {
	source, err := sourcePath(item)
	if err != nil {
		return nil, err
	}

	body, contentType, err := buildGrobidRequest(source)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+grobidFulltextPath, body)
	if err != nil {
		return nil, errdefs.WrapInfrastructure(err, "grobid request build failed")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/xml")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errdefs.WrapTransient(err, "grobid request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Parsed below.
	case http.StatusNoContent:
		return nil, errdefs.ContentUnavailable("grobid extracted no content from %s", item.ID)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &RateLimitError{
			Message:    fmt.Sprintf("grobid busy (status %d)", resp.StatusCode),
			RetryAfter: retryAfter,
			StatusCode: resp.StatusCode,
		}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errdefs.FromHTTPStatus(resp.StatusCode, "grobid error (status %d): %s", resp.StatusCode, firstLine(string(msg)))
	}

	doc, err := parseTEI(resp.Body)
	if err != nil {
		return nil, err
	}
	if doc.Body == "" {
		return nil, errdefs.ContentUnavailable("document %s has no extractable text", item.ID)
	}

	e.logger.Debug("grobid extraction complete",
		"item", item.ID,
		"chars", len(doc.Body),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	metadata := map[string]string{"extractor": GrobidExtractorName}
	if doc.Title != "" {
		metadata["title"] = doc.Title
	}
	if doc.Abstract != "" {
		metadata["abstract"] = doc.Abstract
	}

	return &work.ExtractionResult{
		Text:     doc.Body,
		Source:   source,
		Metadata: metadata,
	}, nil
}

// buildGrobidRequest assembles the multipart form GROBID expects.
func buildGrobidRequest(source string) (*bytes.Buffer, string, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, "", errdefs.ContentUnavailable("source unreadable: %v", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("input", filepath.Base(source))
	if err != nil {
		return nil, "", errdefs.WrapInfrastructure(err, "multipart build failed")
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", errdefs.WrapInfrastructure(err, "source read failed")
	}
	if err := writer.Close(); err != nil {
		return nil, "", errdefs.WrapInfrastructure(err, "multipart finalize failed")
	}
	return body, writer.FormDataContentType(), nil
}

// teiDocument is the subset of a TEI response the pipeline uses.
type teiDocument struct {
	Title    string
	Abstract string
	Body     string
}

// parseTEI walks TEI XML and collects the header title, abstract, and body
// text. Paragraph boundaries become blank lines.
func parseTEI(r io.Reader) (*teiDocument, error) {
	dec := xml.NewDecoder(r)

	var doc teiDocument
	var stack []string
	var title, abstract, body strings.Builder
	titleDone := false

	inside := func(name string) bool {
		for _, el := range stack {
			if el == name {
				return true
			}
		}
		return false
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errdefs.WrapTransient(err, "TEI parse failed")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
		case xml.EndElement:
			if t.Name.Local == "title" && inside("titleStmt") && title.Len() > 0 {
				titleDone = true
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if (t.Name.Local == "p" || t.Name.Local == "head") && inside("body") {
				body.WriteString("\n\n")
			}
		case xml.CharData:
			text := string(t)
			switch {
			case inside("body"):
				body.WriteString(text)
			case inside("abstract"):
				abstract.WriteString(text)
			case inside("titleStmt") && inside("title") && !titleDone:
				title.WriteString(text)
			}
		}
	}

	doc.Title = strings.TrimSpace(title.String())
	doc.Abstract = strings.TrimSpace(abstract.String())
	doc.Body = strings.TrimSpace(body.String())
	return &doc, nil
}

var _ Extractor = (*GrobidExtractor)(nil)
var _ HealthChecker = (*GrobidExtractor)(nil)
