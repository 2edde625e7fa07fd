package planner

import (
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/stacks/internal/resource"
)

func snap(cpu, mem float64, availableGB float64, cores int) resource.Snapshot {
	return resource.Snapshot{
		CPUPercent:   cpu,
		MemPercent:   mem,
		AvailableMem: uint64(availableGB * float64(1<<30)),
		TotalMem:     32 << 30,
		Cores:        cores,
		At:           time.Now(),
	}
}

func TestComputePlan(t *testing.T) {
	p := New(DefaultTuning(), nil)

	// 16 GB available, 8 cores, neutral load: memory allows 32 slots, cores
	// and the hard cap both bound extraction at 8.
	plan := p.Compute(snap(40, 55, 16, 8), 100)

	if plan.ExtractionConcurrency != 8 {
		t.Errorf("extraction concurrency = %d, want 8", plan.ExtractionConcurrency)
	}
	// min(rate cap 10, 100/8=12, 8*2=16)
	if plan.AnalysisConcurrency != 10 {
		t.Errorf("analysis concurrency = %d, want 10", plan.AnalysisConcurrency)
	}
	if plan.LoadFactor != 1.0 {
		t.Errorf("load factor = %v, want 1.0", plan.LoadFactor)
	}
	// clamp(10, max(10, 8*3)=24, min(50, 16*2)=32)
	if plan.BatchSize != 24 {
		t.Errorf("batch size = %d, want 24", plan.BatchSize)
	}
	// max(100*2/8=25, 100*3/10=30)*0.85 + 10 = 35.5s
	want := time.Duration(35.5 * float64(time.Second))
	if plan.EstimatedDuration != want {
		t.Errorf("estimated duration = %v, want %v", plan.EstimatedDuration, want)
	}
}

func TestLoadFactorBands(t *testing.T) {
	p := New(DefaultTuning(), nil)

	tests := []struct {
		name string
		cpu  float64
		mem  float64
		want float64
	}{
		{"high cpu", 85, 40, 0.5},
		{"high mem", 20, 90, 0.5},
		{"mid cpu", 65, 40, 0.7},
		{"mid mem", 20, 75, 0.7},
		{"low both", 20, 40, 1.2},
		{"neutral", 45, 60, 1.0},
		{"low cpu alone is not low", 20, 60, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.loadFactor(snap(tt.cpu, tt.mem, 16, 8))
			if got != tt.want {
				t.Errorf("loadFactor(cpu=%v, mem=%v) = %v, want %v", tt.cpu, tt.mem, got, tt.want)
			}
		})
	}
}

func TestConcurrencyFloorsAtOne(t *testing.T) {
	p := New(DefaultTuning(), nil)

	// 256 MB available: memory slots compute to zero, and four items keep
	// the analysis ratio at zero. Both must still come out as one permit.
	plan := p.Compute(snap(85, 90, 0.25, 8), 4)

	if plan.ExtractionConcurrency != 1 {
		t.Errorf("extraction concurrency = %d, want 1", plan.ExtractionConcurrency)
	}
	if plan.AnalysisConcurrency != 1 {
		t.Errorf("analysis concurrency = %d, want 1", plan.AnalysisConcurrency)
	}
}

func TestBatchSizeBounds(t *testing.T) {
	p := New(DefaultTuning(), nil)

	t.Run("memory ceiling below minimum collapses to minimum", func(t *testing.T) {
		plan := p.Compute(snap(40, 55, 2, 8), 100)
		if plan.BatchSize != 10 {
			t.Errorf("batch size = %d, want 10", plan.BatchSize)
		}
	})

	t.Run("upper bound caps large hosts", func(t *testing.T) {
		plan := p.Compute(snap(10, 10, 64, 32), 1000)
		if plan.BatchSize > 50 {
			t.Errorf("batch size = %d, want <= 50", plan.BatchSize)
		}
	})
}

func TestEstimateEmptySession(t *testing.T) {
	p := New(DefaultTuning(), nil)
	plan := p.Compute(snap(40, 55, 16, 8), 0)

	want := time.Duration(DefaultTuning().FixedOverheadSeconds * float64(time.Second))
	if plan.EstimatedDuration != want {
		t.Errorf("estimated duration = %v, want overhead-only %v", plan.EstimatedDuration, want)
	}
}

func TestTuningValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Tuning)
		wantErr string
	}{
		{"valid", func(*Tuning) {}, ""},
		{"zero memory budget", func(t *Tuning) { t.PerItemMemoryBudget = 0 }, "per_item_memory_budget"},
		{"zero hard cap", func(t *Tuning) { t.HardCap = 0 }, "hard_cap"},
		{"zero rate cap", func(t *Tuning) { t.ExternalRateCap = 0 }, "external_rate_cap"},
		{"inverted batch bounds", func(t *Tuning) { t.MaxBatchSize = 5 }, "max_batch_size"},
		{"zero phase estimate", func(t *Tuning) { t.AvgAnalysisSeconds = 0 }, "phase time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tuning := DefaultTuning()
			tt.mutate(&tuning)
			err := tuning.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
