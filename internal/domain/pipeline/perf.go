package pipeline

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Monitor tracks wall-clock timing for a single batch run. One instance per
// batch; checkpoints are recorded as the phases complete.
type Monitor struct {
	mu          sync.Mutex
	start       time.Time
	checkpoints []Checkpoint
	now         func() time.Time
}

// Checkpoint is a named phase boundary with its offset from batch start.
type Checkpoint struct {
	Name     string
	OffsetMs int64
}

// NewMonitor starts timing immediately.
func NewMonitor() *Monitor {
	m := &Monitor{now: time.Now}
	m.start = m.now()
	return m
}

// Checkpoint records a phase boundary.
func (m *Monitor) Checkpoint(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = append(m.checkpoints, Checkpoint{
		Name:     name,
		OffsetMs: m.now().Sub(m.start).Milliseconds(),
	})
}

// Checkpoints returns a copy of the recorded phase boundaries.
func (m *Monitor) Checkpoints() []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	return out
}

// ElapsedMs returns milliseconds since the monitor started.
func (m *Monitor) ElapsedMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.start).Milliseconds()
}

// Throughput returns images per second for the elapsed run.
func (m *Monitor) Throughput(images int) float64 {
	elapsed := m.ElapsedMs()
	if elapsed <= 0 {
		return 0
	}
	return float64(images) / (float64(elapsed) / 1000.0)
}

// rssMB reports the process resident set size in megabytes, or 0 when the
// platform probe fails. Used for the periodic memory hint log line.
func rssMB() float64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / (1024 * 1024)
}
