package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

const sampleTEI = `<?xml version="1.0" encoding="UTF-8"?>
<TEI xmlns="http://www.tei-c.org/ns/1.0">
  <teiHeader>
    <fileDesc>
      <titleStmt>
        <title level="a" type="main">Adaptive Batch Scheduling</title>
      </titleStmt>
    </fileDesc>
    <profileDesc>
      <abstract>
        <div><p>We study batch scheduling under memory pressure.</p></div>
      </abstract>
    </profileDesc>
  </teiHeader>
  <text xml:lang="en">
    <body>
      <div><head>Introduction</head><p>Scheduling is hard.</p></div>
      <div><head>Methods</head><p>We measured throughput under load.</p></div>
    </body>
  </text>
</TEI>`

func writeTempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc-1.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatalf("write temp pdf: %v", err)
	}
	return path
}

func TestGrobidExtractSuccess(t *testing.T) {
	var gotPath, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("input"); err != nil {
			t.Fatalf("missing input file part: %v", err)
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sampleTEI))
	}))
	defer server.Close()

	extractor := NewGrobidExtractor(GrobidConfig{BaseURL: server.URL})
	item := work.Item{ID: "doc-1", Source: writeTempPDF(t)}

	result, err := extractor.Extract(context.Background(), item)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if gotPath != "/api/processFulltextDocument" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotContentType == "" {
		t.Error("missing multipart content type")
	}
	if result.Metadata["title"] != "Adaptive Batch Scheduling" {
		t.Errorf("title = %q", result.Metadata["title"])
	}
	if result.Metadata["abstract"] == "" {
		t.Error("abstract not captured")
	}
	for _, want := range []string{"Scheduling is hard.", "We measured throughput under load."} {
		if !strings.Contains(result.Text, want) {
			t.Errorf("body missing %q in %q", want, result.Text)
		}
	}
	// Header material must not leak into the body text.
	if strings.Contains(result.Text, "memory pressure") {
		t.Errorf("abstract leaked into body: %q", result.Text)
	}
}

func TestGrobidExtractNoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	extractor := NewGrobidExtractor(GrobidConfig{BaseURL: server.URL})
	item := work.Item{ID: "doc-1", Source: writeTempPDF(t)}

	_, err := extractor.Extract(context.Background(), item)
	if err == nil {
		t.Fatal("expected error for 204 response")
	}
	if !errdefs.IsContentUnavailable(err) {
		t.Errorf("error kind = %v, want content_unavailable", errdefs.KindOf(err))
	}
}

func TestGrobidExtractBusy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	extractor := NewGrobidExtractor(GrobidConfig{BaseURL: server.URL})
	item := work.Item{ID: "doc-1", Source: writeTempPDF(t)}

	_, err := extractor.Extract(context.Background(), item)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !errdefs.IsRetryable(err) {
		t.Errorf("503 should be retryable, got kind %v", errdefs.KindOf(err))
	}
	rle, ok := IsRateLimitError(err)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if rle.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", rle.RetryAfter)
	}
}

func TestGrobidExtractMissingSource(t *testing.T) {
	extractor := NewGrobidExtractor(GrobidConfig{BaseURL: "http://localhost:1"})

	_, err := extractor.Extract(context.Background(), work.Item{ID: "doc-1"})
	if err == nil {
		t.Fatal("expected error for item without source")
	}
	if !errdefs.IsContentUnavailable(err) {
		t.Errorf("error kind = %v, want content_unavailable", errdefs.KindOf(err))
	}
}

func TestGrobidHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/isalive" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("true"))
	}))
	defer server.Close()

	extractor := NewGrobidExtractor(GrobidConfig{BaseURL: server.URL})
	if err := extractor.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}

