package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Fault.MaxRetries != 3 {
		t.Errorf("fault.max_retries = %d, want 3", cfg.Fault.MaxRetries)
	}
	if got, want := len(cfg.Fault.DelaysSeconds), 5; got != want {
		t.Errorf("len(fault.delays_seconds) = %d, want %d", got, want)
	}
}

func TestValidateRejectsUnknownTypes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Extractor.Type = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown extractor type")
	}

	cfg = DefaultConfig()
	cfg.Analyzer.Type = "psychic"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown analyzer type")
	}

	cfg = DefaultConfig()
	cfg.Engine.MaxConcurrentBatches = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max_concurrent_batches")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("STACKS_TEST_KEY", "secret-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"env reference", "${STACKS_TEST_KEY}", "secret-value"},
		{"plain string", "literal-key", "literal-key"},
		{"empty string", "", ""},
		{"missing var", "${STACKS_TEST_MISSING_VAR}", ""},
		{"embedded", "prefix-${STACKS_TEST_KEY}-suffix", "prefix-secret-value-suffix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveEnvVars(tt.input); got != tt.want {
				t.Errorf("ResolveEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestManagerLoadsFileOverDefaults(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
analyzer:
  type: gemini
  model: gemini-1.5-flash
engine:
  max_concurrent_batches: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := cm.Get()

	if cfg.Analyzer.Type != "gemini" {
		t.Errorf("analyzer.type = %q, want %q", cfg.Analyzer.Type, "gemini")
	}
	if cfg.Analyzer.Model != "gemini-1.5-flash" {
		t.Errorf("analyzer.model = %q, want %q", cfg.Analyzer.Model, "gemini-1.5-flash")
	}
	if cfg.Engine.MaxConcurrentBatches != 4 {
		t.Errorf("engine.max_concurrent_batches = %d, want 4", cfg.Engine.MaxConcurrentBatches)
	}
	// Untouched sections keep their defaults.
	if cfg.Extractor.Type != "grobid" {
		t.Errorf("extractor.type = %q, want default %q", cfg.Extractor.Type, "grobid")
	}
	if cfg.Fault.MaxRetries != 3 {
		t.Errorf("fault.max_retries = %d, want default 3", cfg.Fault.MaxRetries)
	}
}

func TestManagerMissingFileUsesDefaults(t *testing.T) {
	resetViper(t)

	cm, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := cm.Get()
	if cfg.Analyzer.Type != "openai" {
		t.Errorf("analyzer.type = %q, want default %q", cfg.Analyzer.Type, "openai")
	}
}

func TestSessionConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fault.DelaysSeconds = []int{1, 2, 4}
	cfg.Engine.SampleIntervalSeconds = 5

	sc := cfg.SessionConfig()

	if sc.MaxConcurrentBatches != cfg.Engine.MaxConcurrentBatches {
		t.Errorf("MaxConcurrentBatches = %d, want %d", sc.MaxConcurrentBatches, cfg.Engine.MaxConcurrentBatches)
	}
	if sc.SampleInterval != 5*time.Second {
		t.Errorf("SampleInterval = %v, want 5s", sc.SampleInterval)
	}
	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(sc.Fault.Delays) != len(wantDelays) {
		t.Fatalf("len(Delays) = %d, want %d", len(sc.Fault.Delays), len(wantDelays))
	}
	for i, want := range wantDelays {
		if sc.Fault.Delays[i] != want {
			t.Errorf("Delays[%d] = %v, want %v", i, sc.Fault.Delays[i], want)
		}
	}
}

func TestAnalyzerSettingsResolvesAPIKey(t *testing.T) {
	t.Setenv("STACKS_TEST_ANALYZER_KEY", "sk-test-123")

	cfg := DefaultConfig()
	cfg.Analyzer.APIKey = "${STACKS_TEST_ANALYZER_KEY}"

	settings := cfg.AnalyzerSettings()
	if settings.APIKey != "sk-test-123" {
		t.Errorf("APIKey = %q, want %q", settings.APIKey, "sk-test-123")
	}
	if settings.Timeout != time.Duration(cfg.Analyzer.TimeoutSeconds)*time.Second {
		t.Errorf("Timeout = %v, want %ds", settings.Timeout, cfg.Analyzer.TimeoutSeconds)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# Stacks configuration") {
		t.Error("written config should start with a header comment")
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager on written default: %v", err)
	}
	if err := cm.Get().Validate(); err != nil {
		t.Errorf("written default config should validate: %v", err)
	}
}
