package performance

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Profiler aggregates timings for named operations. The sync controller
// reports one entry per processed message kind ("sync.<kind>").
type Profiler struct {
	mu        sync.RWMutex
	metrics   map[string]*metric
	enabled   bool
	startTime time.Time
}

type metric struct {
	count    int64
	total    time.Duration
	min      time.Duration
	max      time.Duration
	last     time.Duration
	lastCall time.Time
}

// MetricSnapshot is a read-only copy of one operation's statistics.
type MetricSnapshot struct {
	Name     string        `json:"name"`
	Count    int64         `json:"count"`
	Total    time.Duration `json:"total_ns"`
	Average  time.Duration `json:"avg_ns"`
	Min      time.Duration `json:"min_ns"`
	Max      time.Duration `json:"max_ns"`
	Last     time.Duration `json:"last_ns"`
	LastCall time.Time     `json:"last_call"`
}

// Report is the JSON shape served by the admin endpoint.
type Report struct {
	StartTime time.Time        `json:"start_time"`
	Uptime    string           `json:"uptime"`
	Metrics   []MetricSnapshot `json:"metrics"`
}

// Operation is a running timer created by Start.
type Operation struct {
	profiler *Profiler
	name     string
	start    time.Time
}

// NewProfiler creates a profiler. A disabled profiler ignores every record.
func NewProfiler(enabled bool) *Profiler {
	return &Profiler{
		metrics:   make(map[string]*metric),
		enabled:   enabled,
		startTime: time.Now(),
	}
}

// Start begins timing an operation. It returns nil when disabled; End on a
// nil operation is a no-op.
func (p *Profiler) Start(name string) *Operation {
	if p == nil || !p.enabled {
		return nil
	}
	return &Operation{profiler: p, name: name, start: time.Now()}
}

// End stops the timer and records it.
func (o *Operation) End() {
	if o == nil {
		return
	}
	o.profiler.Record(o.name, time.Since(o.start))
}

// Record adds one observation for name.
func (p *Profiler) Record(name string, duration time.Duration) {
	if p == nil || !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.metrics[name]
	if !ok {
		m = &metric{min: duration, max: duration}
		p.metrics[name] = m
	}
	m.count++
	m.total += duration
	m.last = duration
	m.lastCall = time.Now()
	if duration < m.min {
		m.min = duration
	}
	if duration > m.max {
		m.max = duration
	}
}

// Get returns the statistics for one operation.
func (p *Profiler) Get(name string) (MetricSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.metrics[name]
	if !ok {
		return MetricSnapshot{}, false
	}
	return m.snapshot(name), true
}

// Snapshot returns every operation sorted by name.
func (p *Profiler) Snapshot() Report {
	p.mu.RLock()
	defer p.mu.RUnlock()

	report := Report{
		StartTime: p.startTime,
		Uptime:    time.Since(p.startTime).Round(time.Second).String(),
		Metrics:   make([]MetricSnapshot, 0, len(p.metrics)),
	}
	for name, m := range p.metrics {
		report.Metrics = append(report.Metrics, m.snapshot(name))
	}
	sort.Slice(report.Metrics, func(i, j int) bool {
		return report.Metrics[i].Name < report.Metrics[j].Name
	})
	return report
}

// Reset clears all metrics.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = make(map[string]*metric)
	p.startTime = time.Now()
}

// String renders a human-readable table.
func (p *Profiler) String() string {
	report := p.Snapshot()
	if len(report.Metrics) == 0 {
		return "No sync metrics recorded"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n=== Sync Report (since %s) ===\n", report.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "%-40s %10s %10s %10s %10s\n", "Operation", "Count", "Avg", "Min", "Max")
	for _, m := range report.Metrics {
		fmt.Fprintf(&b, "%-40s %10d %10s %10s %10s\n",
			m.Name, m.Count,
			m.Average.Round(time.Microsecond),
			m.Min.Round(time.Microsecond),
			m.Max.Round(time.Microsecond),
		)
	}
	fmt.Fprintf(&b, "\nUptime: %s\n", report.Uptime)
	return b.String()
}

// LogReport writes the table to the standard logger.
func (p *Profiler) LogReport() {
	log.Print(p.String())
}

func (m *metric) snapshot(name string) MetricSnapshot {
	s := MetricSnapshot{
		Name:     name,
		Count:    m.count,
		Total:    m.total,
		Min:      m.min,
		Max:      m.max,
		Last:     m.last,
		LastCall: m.lastCall,
	}
	if m.count > 0 {
		s.Average = m.total / time.Duration(m.count)
	}
	return s
}
