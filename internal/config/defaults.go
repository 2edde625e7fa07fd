package config

import "github.com/jackzampolin/stacks/internal/planner"

// DefaultConfig returns the configuration stacks ships with. API keys are
// ${ENV_VAR} references resolved at provider construction.
func DefaultConfig() *Config {
	return &Config{
		Extractor: ExtractorCfg{
			Type:           "grobid",
			GrobidURL:      "http://localhost:8070",
			TimeoutSeconds: 120,
		},
		Analyzer: AnalyzerCfg{
			Type:              "openai",
			Model:             "gpt-4o-mini",
			APIKey:            "${OPENAI_API_KEY}",
			Temperature:       0.1,
			MaxTokens:         4096,
			RequestsPerMinute: 60,
			TimeoutSeconds:    60,
		},
		Engine: EngineCfg{
			MaxConcurrentBatches:  2,
			SampleIntervalSeconds: 1,
		},
		Planner: planner.DefaultTuning(),
		Fault: FaultCfg{
			MaxRetries:       3,
			DelaysSeconds:    []int{1, 2, 4, 8, 16},
			OpTimeoutSeconds: 120,
		},
		Grobid: GrobidCfg{
			ContainerName: "stacks-grobid",
			Image:         "lfoppiano/grobid:0.8.0",
			Port:          "8070",
		},
		Log: LogCfg{
			Level:  "info",
			Format: "text",
		},
	}
}
