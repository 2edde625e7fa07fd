package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ExtractorSettings selects and configures an extractor.
type ExtractorSettings struct {
	Type       string // "grobid", "pdf", "mock"
	GrobidURL  string
	Timeout    time.Duration
	HTTPClient *http.Client // Optional (tests)
	Logger     *slog.Logger
}

// AnalyzerSettings selects and configures an analyzer.
type AnalyzerSettings struct {
	Type              string // "openai", "gemini", "mock"
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
	Timeout           time.Duration
	BaseURL           string       // Optional (tests)
	HTTPClient        *http.Client // Optional (tests)
}

// NewExtractor creates the extractor named by settings.Type.
func NewExtractor(settings ExtractorSettings) (Extractor, error) {
	switch settings.Type {
	case GrobidExtractorName:
		return NewGrobidExtractor(GrobidConfig{
			BaseURL:    settings.GrobidURL,
			Timeout:    settings.Timeout,
			HTTPClient: settings.HTTPClient,
			Logger:     settings.Logger,
		}), nil
	case PDFExtractorName:
		return NewPDFExtractor(settings.Logger), nil
	case MockName:
		return NewMockExtractor(), nil
	default:
		return nil, fmt.Errorf("unknown extractor type: %s", settings.Type)
	}
}

// NewAnalyzer creates the analyzer named by settings.Type. The context is
// used for client construction only.
func NewAnalyzer(ctx context.Context, settings AnalyzerSettings) (Analyzer, error) {
	switch settings.Type {
	case OpenAIAnalyzerName:
		return NewOpenAIAnalyzer(OpenAIConfig{
			APIKey:            settings.APIKey,
			Model:             settings.Model,
			Temperature:       settings.Temperature,
			MaxTokens:         settings.MaxTokens,
			RequestsPerMinute: settings.RequestsPerMinute,
			Timeout:           settings.Timeout,
			BaseURL:           settings.BaseURL,
			HTTPClient:        settings.HTTPClient,
		}), nil
	case GeminiAnalyzerName:
		return NewGeminiAnalyzer(ctx, GeminiConfig{
			APIKey:            settings.APIKey,
			Model:             settings.Model,
			Temperature:       settings.Temperature,
			RequestsPerMinute: settings.RequestsPerMinute,
		})
	case MockName:
		return NewMockAnalyzer(), nil
	default:
		return nil, fmt.Errorf("unknown analyzer type: %s", settings.Type)
	}
}
