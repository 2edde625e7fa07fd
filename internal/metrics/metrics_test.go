package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestAccountingIdentity(t *testing.T) {
	m := New()
	m.SetSubmitted(10)
	m.AddSuccessful(7)
	m.AddFailed(1)
	m.AddDegraded(2)

	snap := m.Freeze(2 * time.Second)
	if !snap.Accounted() {
		t.Errorf("accounting identity broken: %d + %d + %d != %d",
			snap.Successful, snap.Failed, snap.Degraded, snap.Submitted)
	}
}

func TestFreezeStopsUpdates(t *testing.T) {
	m := New()
	m.SetSubmitted(5)
	m.AddSuccessful(5)

	first := m.Freeze(time.Second)
	m.AddSuccessful(100)
	m.AddUsage(1000, 5.0)

	after := m.Snapshot()
	if after != first {
		t.Errorf("snapshot changed after freeze: %+v != %+v", after, first)
	}
	if second := m.Freeze(time.Hour); second != first {
		t.Errorf("second freeze produced a different snapshot: %+v", second)
	}
}

func TestThroughput(t *testing.T) {
	t.Run("computed from elapsed", func(t *testing.T) {
		m := New()
		m.SetSubmitted(20)
		m.AddSuccessful(20)
		snap := m.Freeze(10 * time.Second)
		if snap.ThroughputPerSec != 2.0 {
			t.Errorf("throughput = %v, want 2.0", snap.ThroughputPerSec)
		}
	})

	t.Run("empty session reports zero", func(t *testing.T) {
		m := New()
		snap := m.Freeze(0)
		if snap.ThroughputPerSec != 0 {
			t.Errorf("throughput = %v, want 0", snap.ThroughputPerSec)
		}
		if snap.SuccessRate() != 0 {
			t.Errorf("success rate = %v, want 0", snap.SuccessRate())
		}
	})
}

func TestConcurrentUpdates(t *testing.T) {
	m := New()
	m.SetSubmitted(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.AddSuccessful(1)
				m.AddAnalyzerCalls(1)
				m.AddUsage(10, 0.001)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.Successful != 1000 {
		t.Errorf("successful = %d, want 1000", snap.Successful)
	}
	if snap.AnalyzerCalls != 1000 {
		t.Errorf("analyzer calls = %d, want 1000", snap.AnalyzerCalls)
	}
	if snap.Tokens != 10000 {
		t.Errorf("tokens = %d, want 10000", snap.Tokens)
	}
	if snap.CostUSD < 0.999 || snap.CostUSD > 1.001 {
		t.Errorf("cost = %v, want ~1.0", snap.CostUSD)
	}
}
