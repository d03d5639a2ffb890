// Package metrics exposes Prometheus counters for editor sessions, the sync
// controller and the region cache.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EditorSessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zonesync_editor_sessions_total",
		Help: "Total number of editor sessions started",
	})
	EditorSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zonesync_editor_sessions_active",
		Help: "Editor sessions currently attached to a surface",
	})
	SyncMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zonesync_sync_messages_total",
		Help: "Sync controller messages processed, by kind",
	}, []string{"kind"})
	SyncMessageDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zonesync_sync_message_duration_ms",
		Help:    "Sync controller message handling time in milliseconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 50, 100, 500},
	}, []string{"kind"})
	SyncOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zonesync_sync_outcomes_total",
		Help: "Sync controller outcomes summed over finished sessions",
	}, []string{"outcome"})
	ZonesSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zonesync_zones_submitted_total",
		Help: "Zones saved from editor sessions, by event",
	}, []string{"event"})
	RegionCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zonesync_region_cache_hits_total",
		Help: "Total region catalog cache hits",
	})
	RegionCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zonesync_region_cache_misses_total",
		Help: "Total region catalog cache misses",
	})
)

func init() {
	prometheus.MustRegister(EditorSessionsTotal)
	prometheus.MustRegister(EditorSessionsActive)
	prometheus.MustRegister(SyncMessagesTotal)
	prometheus.MustRegister(SyncMessageDurationMs)
	prometheus.MustRegister(SyncOutcomesTotal)
	prometheus.MustRegister(ZonesSubmittedTotal)
	prometheus.MustRegister(RegionCacheHitsTotal)
	prometheus.MustRegister(RegionCacheMissesTotal)
}

// Handler serves every registered metric for scraping.
func Handler() http.Handler { return promhttp.Handler() }

// Timer is anything that takes named durations, such as the profiler.
type Timer interface {
	Record(name string, duration time.Duration)
}

// SyncRecorder feeds sync controller timings into the message histograms
// and forwards them to Next when set.
type SyncRecorder struct {
	Next Timer
}

// Record implements the sync controller's recorder hook.
func (r SyncRecorder) Record(name string, duration time.Duration) {
	SyncMessagesTotal.WithLabelValues(name).Inc()
	SyncMessageDurationMs.WithLabelValues(name).Observe(float64(duration.Microseconds()) / 1000)
	if r.Next != nil {
		r.Next.Record(name, duration)
	}
}

// ObserveOutcomes adds one finished session's controller counts.
func ObserveOutcomes(processed, propagations, dropped, ignored, rejected, renderFailures int64) {
	SyncOutcomesTotal.WithLabelValues("processed").Add(float64(processed))
	SyncOutcomesTotal.WithLabelValues("propagated").Add(float64(propagations))
	SyncOutcomesTotal.WithLabelValues("dropped").Add(float64(dropped))
	SyncOutcomesTotal.WithLabelValues("ignored").Add(float64(ignored))
	SyncOutcomesTotal.WithLabelValues("rejected").Add(float64(rejected))
	SyncOutcomesTotal.WithLabelValues("render_failed").Add(float64(renderFailures))
}
