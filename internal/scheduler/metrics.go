package scheduler

import (
	"sort"
	"time"
)

// Metrics is a point-in-time snapshot of manager state: counts by status,
// duration statistics over completed tasks, and concurrency utilization.
type Metrics struct {
	StatusCounts  map[string]int
	QueueDepth    int
	Running       int
	MaxConcurrent int
	Utilization   float64

	CompletedCount int
	MeanDuration   time.Duration
	P50Duration    time.Duration
	P95Duration    time.Duration
}

// Metrics computes a snapshot under the registry lock.
func (m *TaskManager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, t := range m.graph.tasks {
		counts[t.Status.String()]++
	}

	snap := Metrics{
		StatusCounts:   counts,
		QueueDepth:     m.queue.len(),
		Running:        m.running,
		MaxConcurrent:  m.cfg.MaxConcurrentTasks,
		Utilization:    float64(m.running) / float64(m.cfg.MaxConcurrentTasks),
		CompletedCount: len(m.durations),
	}
	if len(m.durations) == 0 {
		return snap
	}

	sorted := make([]time.Duration, len(m.durations))
	copy(sorted, m.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	snap.MeanDuration = total / time.Duration(len(sorted))
	snap.P50Duration = percentile(sorted, 0.50)
	snap.P95Duration = percentile(sorted, 0.95)
	return snap
}

// percentile returns the nearest-rank percentile of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
