package pipeline

import (
	"testing"
	"time"
)

func TestMonitor_ElapsedAndThroughput(t *testing.T) {
	m := NewMonitor()
	base := m.start
	m.now = func() time.Time { return base.Add(500 * time.Millisecond) }

	if got := m.ElapsedMs(); got != 500 {
		t.Errorf("elapsed = %d, want 500", got)
	}
	if got := m.Throughput(10); got != 20 {
		t.Errorf("throughput = %v, want 20", got)
	}
}

func TestMonitor_Checkpoints(t *testing.T) {
	m := NewMonitor()
	base := m.start
	offset := 100 * time.Millisecond
	m.now = func() time.Time { return base.Add(offset) }

	m.Checkpoint("validated")
	offset = 300 * time.Millisecond
	m.Checkpoint("processed")

	cps := m.Checkpoints()
	if len(cps) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(cps))
	}
	if cps[0].Name != "validated" || cps[0].OffsetMs != 100 {
		t.Errorf("unexpected first checkpoint: %+v", cps[0])
	}
	if cps[1].Name != "processed" || cps[1].OffsetMs != 300 {
		t.Errorf("unexpected second checkpoint: %+v", cps[1])
	}
}

func TestMonitor_ZeroElapsedThroughput(t *testing.T) {
	m := NewMonitor()
	base := m.start
	m.now = func() time.Time { return base }

	if got := m.Throughput(10); got != 0 {
		t.Errorf("zero elapsed must yield zero throughput, got %v", got)
	}
}
