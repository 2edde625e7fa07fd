// Package planner turns a resource snapshot and an item count into a
// concurrency plan: phase parallelism caps, batch size, and a duration
// estimate. The tuned constants live in Tuning so deployments can
// recalibrate them through configuration.
package planner

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackzampolin/stacks/internal/resource"
)

// LoadThresholds maps utilization bands to concurrency scale factors.
type LoadThresholds struct {
	HighCPU float64 `mapstructure:"high_cpu" yaml:"high_cpu"`
	HighMem float64 `mapstructure:"high_mem" yaml:"high_mem"`
	MidCPU  float64 `mapstructure:"mid_cpu" yaml:"mid_cpu"`
	MidMem  float64 `mapstructure:"mid_mem" yaml:"mid_mem"`
	LowCPU  float64 `mapstructure:"low_cpu" yaml:"low_cpu"`
	LowMem  float64 `mapstructure:"low_mem" yaml:"low_mem"`

	HighFactor float64 `mapstructure:"high_factor" yaml:"high_factor"`
	MidFactor  float64 `mapstructure:"mid_factor" yaml:"mid_factor"`
	LowFactor  float64 `mapstructure:"low_factor" yaml:"low_factor"`
}

// Tuning holds the planner's calibration constants.
type Tuning struct {
	// PerItemMemoryBudget is the working-set estimate for one in-flight
	// extraction, in bytes.
	PerItemMemoryBudget uint64 `mapstructure:"per_item_memory_budget" yaml:"per_item_memory_budget"`

	// HardCap bounds extraction concurrency regardless of host size.
	HardCap int `mapstructure:"hard_cap" yaml:"hard_cap"`

	// ExternalRateCap bounds analysis concurrency to what the analyzer
	// provider tolerates.
	ExternalRateCap int `mapstructure:"external_rate_cap" yaml:"external_rate_cap"`

	MinBatchSize int `mapstructure:"min_batch_size" yaml:"min_batch_size"`
	MaxBatchSize int `mapstructure:"max_batch_size" yaml:"max_batch_size"`

	AvgExtractionSeconds float64 `mapstructure:"avg_extraction_seconds" yaml:"avg_extraction_seconds"`
	AvgAnalysisSeconds   float64 `mapstructure:"avg_analysis_seconds" yaml:"avg_analysis_seconds"`
	FixedOverheadSeconds float64 `mapstructure:"fixed_overhead_seconds" yaml:"fixed_overhead_seconds"`

	Load LoadThresholds `mapstructure:"load" yaml:"load"`
}

// DefaultTuning returns the calibration the engine ships with.
func DefaultTuning() Tuning {
	return Tuning{
		PerItemMemoryBudget:  512 << 20,
		HardCap:              8,
		ExternalRateCap:      10,
		MinBatchSize:         10,
		MaxBatchSize:         50,
		AvgExtractionSeconds: 2.0,
		AvgAnalysisSeconds:   3.0,
		FixedOverheadSeconds: 10.0,
		Load: LoadThresholds{
			HighCPU: 80, HighMem: 85,
			MidCPU: 60, MidMem: 70,
			LowCPU: 30, LowMem: 50,
			HighFactor: 0.5,
			MidFactor:  0.7,
			LowFactor:  1.2,
		},
	}
}

// Validate rejects tunings that would produce a degenerate plan.
func (t Tuning) Validate() error {
	if t.PerItemMemoryBudget == 0 {
		return fmt.Errorf("per_item_memory_budget must be positive")
	}
	if t.HardCap < 1 {
		return fmt.Errorf("hard_cap must be at least 1, got %d", t.HardCap)
	}
	if t.ExternalRateCap < 1 {
		return fmt.Errorf("external_rate_cap must be at least 1, got %d", t.ExternalRateCap)
	}
	if t.MinBatchSize < 1 {
		return fmt.Errorf("min_batch_size must be at least 1, got %d", t.MinBatchSize)
	}
	if t.MaxBatchSize < t.MinBatchSize {
		return fmt.Errorf("max_batch_size %d is below min_batch_size %d", t.MaxBatchSize, t.MinBatchSize)
	}
	if t.AvgExtractionSeconds <= 0 || t.AvgAnalysisSeconds <= 0 {
		return fmt.Errorf("phase time estimates must be positive")
	}
	return nil
}

// Plan is the concurrency plan for one session.
type Plan struct {
	ExtractionConcurrency int               `json:"extraction_concurrency"`
	AnalysisConcurrency   int               `json:"analysis_concurrency"`
	BatchSize             int               `json:"batch_size"`
	EstimatedDuration     time.Duration     `json:"estimated_duration_ns"`
	LoadFactor            float64           `json:"load_factor"`
	Snapshot              resource.Snapshot `json:"snapshot"`
}

// Planner computes plans from snapshots.
type Planner struct {
	tuning Tuning
	logger *slog.Logger
}

// New creates a planner.
func New(tuning Tuning, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{tuning: tuning, logger: logger}
}

// Tuning returns the planner's calibration.
func (p *Planner) Tuning() Tuning {
	return p.tuning
}

// Compute derives the plan for itemCount items given the snapshot.
func (p *Planner) Compute(snap resource.Snapshot, itemCount int) Plan {
	t := p.tuning

	memSlots := int(snap.AvailableMem / t.PerItemMemoryBudget)
	extraction := min(memSlots, snap.Cores, t.HardCap)
	analysis := min(t.ExternalRateCap, itemCount/8, extraction*2)

	factor := p.loadFactor(snap)
	extraction = scaled(extraction, factor)
	analysis = scaled(analysis, factor)

	batchSize := clamp(
		t.MinBatchSize,
		max(t.MinBatchSize, extraction*3),
		min(t.MaxBatchSize, int(snap.AvailableMemGB()*2)),
	)

	plan := Plan{
		ExtractionConcurrency: extraction,
		AnalysisConcurrency:   analysis,
		BatchSize:             batchSize,
		EstimatedDuration:     p.estimate(itemCount, extraction, analysis),
		LoadFactor:            factor,
		Snapshot:              snap,
	}

	p.logger.Debug("computed concurrency plan",
		"items", itemCount,
		"extraction", plan.ExtractionConcurrency,
		"analysis", plan.AnalysisConcurrency,
		"batch_size", plan.BatchSize,
		"load_factor", plan.LoadFactor,
		"estimated", plan.EstimatedDuration.Round(time.Second),
	)
	return plan
}

// loadFactor buckets the snapshot into the configured utilization bands.
func (p *Planner) loadFactor(snap resource.Snapshot) float64 {
	l := p.tuning.Load
	switch {
	case snap.CPUPercent > l.HighCPU || snap.MemPercent > l.HighMem:
		return l.HighFactor
	case snap.CPUPercent > l.MidCPU || snap.MemPercent > l.MidMem:
		return l.MidFactor
	case snap.CPUPercent < l.LowCPU && snap.MemPercent < l.LowMem:
		return l.LowFactor
	default:
		return 1.0
	}
}

// estimate projects the wall-clock duration. Extraction and analysis overlap
// for most of a run, so the longer phase dominates with a pipelining
// discount, plus fixed startup/finalization overhead.
func (p *Planner) estimate(itemCount, extraction, analysis int) time.Duration {
	t := p.tuning
	extractionTime := float64(itemCount) * t.AvgExtractionSeconds / float64(extraction)
	analysisTime := float64(itemCount) * t.AvgAnalysisSeconds / float64(analysis)
	seconds := math.Max(extractionTime, analysisTime)*0.85 + t.FixedOverheadSeconds
	return time.Duration(seconds * float64(time.Second))
}

// scaled applies the load factor and floors the result at one permit.
func scaled(n int, factor float64) int {
	return max(1, int(float64(n)*factor))
}

// clamp bounds v to [lo, hi]. A hi below lo collapses to lo: the memory
// ceiling never pushes a batch under the configured minimum.
func clamp(lo, v, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
