package config

import (
	"fmt"
	"time"

	"github.com/jackzampolin/stacks/internal/engine"
	"github.com/jackzampolin/stacks/internal/fault"
	"github.com/jackzampolin/stacks/internal/planner"
	"github.com/jackzampolin/stacks/internal/providers"
)

// Config holds stacks configuration.
// Stored at: ~/.stacks/config.yaml
type Config struct {
	Extractor ExtractorCfg   `mapstructure:"extractor" yaml:"extractor"`
	Analyzer  AnalyzerCfg    `mapstructure:"analyzer" yaml:"analyzer"`
	Engine    EngineCfg      `mapstructure:"engine" yaml:"engine"`
	Planner   planner.Tuning `mapstructure:"planner" yaml:"planner"`
	Fault     FaultCfg       `mapstructure:"fault" yaml:"fault"`
	Grobid    GrobidCfg      `mapstructure:"grobid" yaml:"grobid"`
	Log       LogCfg         `mapstructure:"log" yaml:"log"`
}

// ExtractorCfg selects and configures the text extractor.
type ExtractorCfg struct {
	Type           string `mapstructure:"type" yaml:"type"` // "grobid", "pdf", "mock"
	GrobidURL      string `mapstructure:"grobid_url" yaml:"grobid_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// AnalyzerCfg selects and configures the content analyzer.
type AnalyzerCfg struct {
	Type              string  `mapstructure:"type" yaml:"type"` // "openai", "gemini", "mock"
	Model             string  `mapstructure:"model" yaml:"model"`
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// EngineCfg configures the session orchestrator.
type EngineCfg struct {
	MaxConcurrentBatches  int `mapstructure:"max_concurrent_batches" yaml:"max_concurrent_batches"`
	SampleIntervalSeconds int `mapstructure:"sample_interval_seconds" yaml:"sample_interval_seconds"`
}

// FaultCfg configures retry behavior.
type FaultCfg struct {
	MaxRetries       int   `mapstructure:"max_retries" yaml:"max_retries"`
	DelaysSeconds    []int `mapstructure:"delays_seconds" yaml:"delays_seconds"`
	OpTimeoutSeconds int   `mapstructure:"op_timeout_seconds" yaml:"op_timeout_seconds"`
}

// GrobidCfg holds GROBID container configuration.
type GrobidCfg struct {
	// ContainerName is the Docker container name (default: stacks-grobid)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 8070)
	Port string `mapstructure:"port" yaml:"port"`
}

// LogCfg configures logging output.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// Validate checks the configuration before a session can use it.
func (c *Config) Validate() error {
	switch c.Extractor.Type {
	case providers.GrobidExtractorName, providers.PDFExtractorName, providers.MockName:
	default:
		return fmt.Errorf("unknown extractor type: %q", c.Extractor.Type)
	}
	switch c.Analyzer.Type {
	case providers.OpenAIAnalyzerName, providers.GeminiAnalyzerName, providers.MockName:
	default:
		return fmt.Errorf("unknown analyzer type: %q", c.Analyzer.Type)
	}
	if c.Engine.MaxConcurrentBatches < 1 {
		return fmt.Errorf("engine.max_concurrent_batches must be at least 1, got %d", c.Engine.MaxConcurrentBatches)
	}
	if c.Fault.MaxRetries < 0 {
		return fmt.Errorf("fault.max_retries must not be negative, got %d", c.Fault.MaxRetries)
	}
	return c.Planner.Validate()
}

// SessionConfig converts the file configuration into a session config for
// the engine.
func (c *Config) SessionConfig() engine.Config {
	delays := make([]time.Duration, len(c.Fault.DelaysSeconds))
	for i, s := range c.Fault.DelaysSeconds {
		delays[i] = time.Duration(s) * time.Second
	}
	return engine.Config{
		MaxConcurrentBatches: c.Engine.MaxConcurrentBatches,
		SampleInterval:       time.Duration(c.Engine.SampleIntervalSeconds) * time.Second,
		Tuning:               c.Planner,
		Fault: fault.Config{
			MaxRetries: c.Fault.MaxRetries,
			Delays:     delays,
			OpTimeout:  time.Duration(c.Fault.OpTimeoutSeconds) * time.Second,
		},
	}
}

// ExtractorSettings converts the extractor section for the provider
// registry.
func (c *Config) ExtractorSettings() providers.ExtractorSettings {
	return providers.ExtractorSettings{
		Type:      c.Extractor.Type,
		GrobidURL: c.Extractor.GrobidURL,
		Timeout:   time.Duration(c.Extractor.TimeoutSeconds) * time.Second,
	}
}

// AnalyzerSettings converts the analyzer section for the provider registry.
// The API key's ${ENV_VAR} reference is resolved here.
func (c *Config) AnalyzerSettings() providers.AnalyzerSettings {
	return providers.AnalyzerSettings{
		Type:              c.Analyzer.Type,
		APIKey:            ResolveEnvVars(c.Analyzer.APIKey),
		Model:             c.Analyzer.Model,
		Temperature:       c.Analyzer.Temperature,
		MaxTokens:         c.Analyzer.MaxTokens,
		RequestsPerMinute: c.Analyzer.RequestsPerMinute,
		Timeout:           time.Duration(c.Analyzer.TimeoutSeconds) * time.Second,
	}
}
