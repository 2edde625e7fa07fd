package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/work"
)

const MockName = "mock"

// MockExtractor is an Extractor for tests and dry runs. Failure behavior is
// configured before use; counters are safe to read concurrently.
type MockExtractor struct {
	Latency   time.Duration
	Text      string
	FailTimes int              // fail the first N attempts per item with a transient error
	FailFor   map[string]error // per-item unconditional failures

	mu           sync.Mutex
	perItemCalls map[string]int
	requestCount atomic.Int64
}

// NewMockExtractor creates a mock extractor with canned text.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{
		Text:         "Mock document body. Methods were applied and results observed.",
		perItemCalls: make(map[string]int),
	}
}

// Name returns the extractor identifier.
func (m *MockExtractor) Name() string {
	return MockName
}

// Extract implements Extractor.
func (m *MockExtractor) Extract(ctx context.Context, item work.Item) (*work.ExtractionResult, error) {
	m.requestCount.Add(1)
	attempt := m.bump(item.ID)

	if err, ok := m.FailFor[item.ID]; ok {
		return nil, err
	}
	if attempt <= m.FailTimes {
		return nil, errdefs.Transient("mock extraction failure %d for %s", attempt, item.ID)
	}
	if err := sleep(ctx, m.Latency); err != nil {
		return nil, err
	}

	return &work.ExtractionResult{
		Text:     fmt.Sprintf("%s\n\n(item %s)", m.Text, item.ID),
		Source:   item.Source,
		Pages:    1,
		Metadata: map[string]string{"extractor": MockName},
	}, nil
}

// Calls reports how many times Extract ran for an item.
func (m *MockExtractor) Calls(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perItemCalls[itemID]
}

// RequestCount reports total Extract invocations.
func (m *MockExtractor) RequestCount() int64 {
	return m.requestCount.Load()
}

func (m *MockExtractor) bump(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perItemCalls[itemID]++
	return m.perItemCalls[itemID]
}

// MockAnalyzer is an Analyzer for tests and dry runs.
type MockAnalyzer struct {
	Latency   time.Duration
	FailTimes int              // fail the first N attempts per item with a transient error
	FailFor   map[string]error // per-item unconditional failures
	Result    *work.AnalysisResult

	mu           sync.Mutex
	perItemCalls map[string]int
	requestCount atomic.Int64
}

// NewMockAnalyzer creates a mock analyzer with a canned result.
func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{
		perItemCalls: make(map[string]int),
	}
}

// Name returns the analyzer identifier.
func (m *MockAnalyzer) Name() string {
	return MockName
}

// Analyze implements Analyzer.
func (m *MockAnalyzer) Analyze(ctx context.Context, req *AnalysisRequest) (*work.AnalysisResult, error) {
	m.requestCount.Add(1)
	attempt := m.bump(req.ItemID)

	if err, ok := m.FailFor[req.ItemID]; ok {
		return nil, err
	}
	if attempt <= m.FailTimes {
		return nil, errdefs.Transient("mock analysis failure %d for %s", attempt, req.ItemID)
	}
	if err := sleep(ctx, m.Latency); err != nil {
		return nil, err
	}

	if m.Result != nil {
		out := *m.Result
		return &out, nil
	}

	// Derive a plausible result from the input so structuring has material.
	segments := strings.Split(req.Text, "\n\n")
	if len(segments) > 3 {
		segments = segments[:3]
	}
	return &work.AnalysisResult{
		Summary:    fmt.Sprintf("Mock analysis of %s.", req.ItemID),
		Segments:   segments,
		Confidence: 0.9,
		Model:      MockName,
		Tokens:     int64(len(req.Text) / 4),
	}, nil
}

// Calls reports how many times Analyze ran for an item.
func (m *MockAnalyzer) Calls(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perItemCalls[itemID]
}

// RequestCount reports total Analyze invocations.
func (m *MockAnalyzer) RequestCount() int64 {
	return m.requestCount.Load()
}

func (m *MockAnalyzer) bump(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perItemCalls[itemID]++
	return m.perItemCalls[itemID]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Extractor = (*MockExtractor)(nil)
var _ Analyzer = (*MockAnalyzer)(nil)
