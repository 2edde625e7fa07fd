package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

const (
	OpenAIAnalyzerName  = "openai"
	openAIDefaultModel  = "gpt-4o-mini"
	openAIDefaultRPM    = 120
	openAIDefaultTokens = 1024

	// Analyzer input is truncated to keep prompts inside context windows.
	maxAnalysisChars = 48000
)

const analysisSystemPrompt = `You summarize scholarly documents. Respond with ONLY a JSON object (no markdown, no commentary) matching this schema:

%s

"summary" is a 2-4 sentence overview. "segments" are the document's distinct topical passages in reading order, each a self-contained paragraph of source text. "confidence" reflects how well the text supported the analysis.`

// OpenAIConfig holds configuration for the OpenAI analyzer.
type OpenAIConfig struct {
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
	Timeout           time.Duration
	BaseURL           string       // Optional (tests)
	HTTPClient        *http.Client // Optional (tests)
}

// OpenAIAnalyzer implements Analyzer using the official OpenAI SDK.
type OpenAIAnalyzer struct {
	model       string
	temperature float64
	maxTokens   int
	limiter     *RateLimiter
	client      openai.Client
}

// NewOpenAIAnalyzer creates an OpenAI-backed analyzer.
func NewOpenAIAnalyzer(cfg OpenAIConfig) *OpenAIAnalyzer {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = openAIDefaultTokens
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = openAIDefaultRPM
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// The pipeline owns retries; the SDK should not add its own layer.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIAnalyzer{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     NewRateLimiter(cfg.RequestsPerMinute),
		client:      openai.NewClient(opts...),
	}
}

// Name returns the analyzer identifier.
func (a *OpenAIAnalyzer) Name() string {
	return OpenAIAnalyzerName
}

// Limiter exposes the rate limiter for status reporting.
func (a *OpenAIAnalyzer) Limiter() *RateLimiter {
	return a.limiter
}

// HealthCheck verifies the API is reachable and the key is valid.
func (a *OpenAIAnalyzer) HealthCheck(ctx context.Context) error {
	page, err := a.client.Models.List(ctx)
	if err != nil {
		return errdefs.WrapInfrastructure(a.mapError(err), "openai health check failed")
	}
	if page == nil {
		return errdefs.Infrastructure("openai models list returned nil response")
	}
	return nil
}

// Analyze implements Analyzer.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req *AnalysisRequest) (*work.AnalysisResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	system := fmt.Sprintf(analysisSystemPrompt, AnalysisSchema)
	user := analysisUserPrompt(req)

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(a.temperature),
		MaxTokens:   openai.Int(int64(a.maxTokens)),
	})
	if err != nil {
		return nil, a.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errdefs.Transient("openai returned no choices")
	}

	result, err := ParseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	result.Model = a.model
	result.Tokens = resp.Usage.TotalTokens
	result.CostUSD = estimateOpenAICostUSD(a.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return result, nil
}

// mapError classifies SDK errors into the failure taxonomy. Rate limits also
// drain the local token bucket so in-flight workers pause.
func (a *OpenAIAnalyzer) mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return errdefs.WrapTransient(err, "openai request failed")
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if apiErr.Response != nil {
			retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		a.limiter.Record429(retryAfter)
		return errdefs.WrapTransient(&RateLimitError{
			Message:    fmt.Sprintf("openai rate limited: %s", apiErr.Message),
			RetryAfter: retryAfter,
			StatusCode: apiErr.StatusCode,
		}, "openai rate limited")
	case http.StatusUnauthorized, http.StatusForbidden:
		return errdefs.Infrastructure("openai auth failed (status %d): %s", apiErr.StatusCode, apiErr.Message)
	default:
		return errdefs.FromHTTPStatus(apiErr.StatusCode, "openai error (status %d): %s", apiErr.StatusCode, apiErr.Message)
	}
}

// analysisUserPrompt renders the item for the model, truncating oversized text.
func analysisUserPrompt(req *AnalysisRequest) string {
	text := req.Text
	if len(text) > maxAnalysisChars {
		text = text[:maxAnalysisChars] + "\n...[truncated]"
	}

	var b strings.Builder
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", req.Title)
	}
	b.WriteString("Document text:\n")
	b.WriteString(text)
	return b.String()
}

// estimateOpenAICostUSD approximates request cost from published per-1M-token
// prices. Unknown models fall back to gpt-4o-mini rates.
func estimateOpenAICostUSD(model string, promptTokens, completionTokens int64) float64 {
	type price struct{ in, out float64 }
	prices := map[string]price{
		"gpt-4o-mini": {0.15, 0.60},
		"gpt-4o":      {2.50, 10.00},
		"gpt-4.1":     {2.00, 8.00},
	}
	p, ok := prices[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		p = prices["gpt-4o-mini"]
	}
	return float64(promptTokens)*(p.in/1_000_000.0) + float64(completionTokens)*(p.out/1_000_000.0)
}

var _ Analyzer = (*OpenAIAnalyzer)(nil)
var _ HealthChecker = (*OpenAIAnalyzer)(nil)
