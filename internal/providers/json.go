package providers

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

// AnalysisSchema is the JSON schema every analyzer response must satisfy.
// It is sent to providers that support structured output and enforced
// locally for the ones that do not.
const AnalysisSchema = `{
  "type": "object",
  "required": ["summary", "segments", "confidence"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "segments": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var analysisSchema = jsonschema.MustCompileString("analysis.json", AnalysisSchema)

// analysisPayload is the wire shape of an analyzer response.
type analysisPayload struct {
	Summary    string   `json:"summary"`
	Segments   []string `json:"segments"`
	Confidence float64  `json:"confidence"`
}

// ParseAnalysis parses and validates model output into an AnalysisResult.
// Model output is messy; markdown code fences and prose around the JSON are
// tolerated. Failures are transient so the caller's retry loop can ask the
// model again.
func ParseAnalysis(content string) (*work.AnalysisResult, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errdefs.WrapTransient(err, "analysis output is not valid JSON")
	}
	if err := analysisSchema.Validate(doc); err != nil {
		return nil, errdefs.WrapTransient(err, "analysis output does not match schema")
	}

	var payload analysisPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errdefs.WrapTransient(err, "analysis output decode failed")
	}

	return &work.AnalysisResult{
		Summary:    payload.Summary,
		Segments:   payload.Segments,
		Confidence: payload.Confidence,
	}, nil
}

// extractJSON finds the JSON document in model output, trying the raw text,
// then code-fence stripping, then outermost-brace extraction.
func extractJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errdefs.Transient("empty analysis output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := braceSpan(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, errdefs.Transient("no JSON document in analysis output")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop the opening fence line and any closing fence.
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// braceSpan returns the text between the first "{" and last "}".
func braceSpan(content string) string {
	start := strings.Index(content, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(content, "}")
	if end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}
