package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

const (
	GeminiAnalyzerName = "gemini"
	geminiDefaultModel = "gemini-2.0-flash"
	geminiDefaultRPM   = 60
)

// GeminiConfig holds configuration for the Gemini analyzer.
type GeminiConfig struct {
	APIKey            string
	Model             string
	Temperature       float64
	RequestsPerMinute int
}

// GeminiAnalyzer implements Analyzer using Google's generative AI SDK.
type GeminiAnalyzer struct {
	modelName string
	client    *genai.Client
	model     *genai.GenerativeModel
	limiter   *RateLimiter
}

// NewGeminiAnalyzer creates a Gemini-backed analyzer. Close must be called
// when the analyzer is no longer needed.
func NewGeminiAnalyzer(ctx context.Context, cfg GeminiConfig) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, errdefs.Infrastructure("gemini API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = geminiDefaultRPM
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, errdefs.WrapInfrastructure(err, "gemini client create failed")
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.Temperature))
	model.ResponseMIMEType = "application/json"

	return &GeminiAnalyzer{
		modelName: cfg.Model,
		client:    client,
		model:     model,
		limiter:   NewRateLimiter(cfg.RequestsPerMinute),
	}, nil
}

// Name returns the analyzer identifier.
func (a *GeminiAnalyzer) Name() string {
	return GeminiAnalyzerName
}

// Limiter exposes the rate limiter for status reporting.
func (a *GeminiAnalyzer) Limiter() *RateLimiter {
	return a.limiter
}

// Close releases the underlying gRPC connection.
func (a *GeminiAnalyzer) Close() error {
	return a.client.Close()
}

// Analyze implements Analyzer.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, req *AnalysisRequest) (*work.AnalysisResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("%s\n\n%s",
		fmt.Sprintf(analysisSystemPrompt, AnalysisSchema),
		analysisUserPrompt(req),
	)

	resp, err := a.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, a.mapError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errdefs.Transient("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	result, err := ParseAnalysis(sb.String())
	if err != nil {
		return nil, err
	}

	result.Model = a.modelName
	if resp.UsageMetadata != nil {
		result.Tokens = int64(resp.UsageMetadata.TotalTokenCount)
		result.CostUSD = estimateGeminiCostUSD(a.modelName,
			int64(resp.UsageMetadata.PromptTokenCount),
			int64(resp.UsageMetadata.CandidatesTokenCount))
	}
	return result, nil
}

// mapError classifies SDK errors into the failure taxonomy.
func (a *GeminiAnalyzer) mapError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return errdefs.WrapTransient(err, "gemini request failed")
	}

	switch apiErr.Code {
	case http.StatusTooManyRequests:
		a.limiter.Record429(time.Second)
		return errdefs.WrapTransient(apiErr, "gemini rate limited")
	case http.StatusUnauthorized, http.StatusForbidden:
		return errdefs.WrapInfrastructure(apiErr, "gemini auth failed")
	default:
		return errdefs.FromHTTPStatus(apiErr.Code, "gemini error (status %d): %s", apiErr.Code, apiErr.Message)
	}
}

// estimateGeminiCostUSD approximates request cost from published per-1M-token
// prices. Unknown models fall back to flash rates.
func estimateGeminiCostUSD(model string, promptTokens, completionTokens int64) float64 {
	type price struct{ in, out float64 }
	prices := map[string]price{
		"gemini-2.0-flash": {0.10, 0.40},
		"gemini-1.5-flash": {0.075, 0.30},
		"gemini-1.5-pro":   {1.25, 5.00},
	}
	p, ok := prices[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		p = prices["gemini-2.0-flash"]
	}
	return float64(promptTokens)*(p.in/1_000_000.0) + float64(completionTokens)*(p.out/1_000_000.0)
}

var _ Analyzer = (*GeminiAnalyzer)(nil)
