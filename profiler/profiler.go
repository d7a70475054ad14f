// Package profiler tracks how long the stages of an evaluation run take.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Stage names recorded by the evaluation controller.
const (
	StageInference = "inference"
	StageDecode    = "decode"
	StageScore     = "score"
)

// TimeTracker tracks timing statistics of one operation.
type TimeTracker struct {
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// OperationStats is a snapshot of a TimeTracker.
type OperationStats struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Profiler records operation timings. It is safe for concurrent use, so parallel workers can
// share one.
type Profiler struct {
	mu             sync.Mutex
	now            func() time.Time
	startTime      time.Time
	operationTimes map[string]*TimeTracker
}

// New creates a profiler that reads time from now, or time.Now when nil.
func New(now func() time.Time) *Profiler {
	if now == nil {
		now = time.Now
	}
	return &Profiler{
		now:            now,
		startTime:      now(),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func(): Call when the operation completes.
func (p *Profiler) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}
	start := p.now()
	return func() {
		p.Record(name, p.now().Sub(start))
	}
}

// Record adds one completed operation.
func (p *Profiler) Record(name string, d time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, ok := p.operationTimes[name]
	if !ok {
		tracker = &TimeTracker{minTime: d, maxTime: d}
		p.operationTimes[name] = tracker
	}
	tracker.totalTime += d
	tracker.count++
	if d < tracker.minTime {
		tracker.minTime = d
	}
	if d > tracker.maxTime {
		tracker.maxTime = d
	}
}

// Stats returns a snapshot of every tracked operation.
func (p *Profiler) Stats() map[string]OperationStats {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]OperationStats, len(p.operationTimes))
	for name, t := range p.operationTimes {
		stats[name] = OperationStats{
			Count: t.count,
			Total: t.totalTime,
			Avg:   t.totalTime / time.Duration(t.count),
			Min:   t.minTime,
			Max:   t.maxTime,
		}
	}
	return stats
}

// Report logs one debug line per operation, in name order, and the memory in use.
//
// Arguments:
//   - log: The destination of the report.
func (p *Profiler) Report(log *logrus.Entry) {
	if p == nil || !log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	stats := p.Stats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := stats[name]
		log.WithFields(logrus.Fields{
			"operation": name,
			"count":     s.Count,
			"avg":       s.Avg.Truncate(time.Microsecond),
			"min":       s.Min.Truncate(time.Microsecond),
			"max":       s.Max.Truncate(time.Microsecond),
		}).Debug("Operation timings")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.WithFields(logrus.Fields{
		"uptime":     p.now().Sub(p.startTime).Truncate(time.Millisecond),
		"heap_alloc": FormatBytes(mem.HeapAlloc),
		"gc_cycles":  mem.NumGC,
	}).Debug("Memory usage")
}

// FormatBytes formats byte counts in human-readable format.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
