package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type timings struct {
	names []string
}

func (t *timings) Record(name string, _ time.Duration) {
	t.names = append(t.names, name)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return m.GetCounter().GetValue()
}

func sampleCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T is not a metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestSyncRecorder(t *testing.T) {
	const kind = "sync.test_recorder"
	next := &timings{}
	rec := SyncRecorder{Next: next}

	beforeCount := counterValue(t, SyncMessagesTotal.WithLabelValues(kind))
	beforeSamples := sampleCount(t, SyncMessageDurationMs.WithLabelValues(kind))

	rec.Record(kind, 2*time.Millisecond)
	rec.Record(kind, 3*time.Millisecond)

	if got := counterValue(t, SyncMessagesTotal.WithLabelValues(kind)) - beforeCount; got != 2 {
		t.Errorf("Expected 2 messages counted, got %v", got)
	}
	if got := sampleCount(t, SyncMessageDurationMs.WithLabelValues(kind)) - beforeSamples; got != 2 {
		t.Errorf("Expected 2 duration samples, got %d", got)
	}
	if len(next.names) != 2 || next.names[0] != kind {
		t.Errorf("Expected timings forwarded to Next, got %v", next.names)
	}
}

func TestSyncRecorderWithoutNext(t *testing.T) {
	// Must not panic.
	SyncRecorder{}.Record("sync.no_next", time.Millisecond)
}

func TestObserveOutcomes(t *testing.T) {
	before := counterValue(t, SyncOutcomesTotal.WithLabelValues("dropped"))
	ObserveOutcomes(10, 4, 3, 1, 0, 0)
	if got := counterValue(t, SyncOutcomesTotal.WithLabelValues("dropped")) - before; got != 3 {
		t.Errorf("Expected dropped to grow by 3, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	EditorSessionsTotal.Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "zonesync_editor_sessions_total") {
		t.Error("Expected zonesync_editor_sessions_total in scrape output")
	}
}
