package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsRegistered(t *testing.T) {
	// Counters and histograms only appear after the first observation.
	RequestsTotal.WithLabelValues("GET", "/seed", "2xx").Inc()
	RequestDuration.WithLabelValues("GET", "/seed").Observe(0.1)
	UpstreamRequestsTotal.WithLabelValues("complete", OutcomeOK).Inc()
	UpstreamLatency.WithLabelValues("complete").Observe(0.1)
	StreamFramesTotal.WithLabelValues("data").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"clawrelay_requests_total":               false,
		"clawrelay_request_duration_seconds":     false,
		"clawrelay_streaming_connections_active": false,
		"clawrelay_upstream_requests_total":      false,
		"clawrelay_upstream_latency_seconds":     false,
		"clawrelay_stream_frames_total":          false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := RequestsTotal.WithLabelValues("GET", "/items/{id}", "4xx")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		if rr.Code != http.StatusTeapot {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusTeapot)
		}
	}

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("requests_total delta = %v, want 2", got)
	}

	m := &dto.Metric{}
	obs, err := RequestDuration.GetMetricWithLabelValues("GET", "/items/{id}")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if err := obs.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing histogram: %v", err)
	}
	if m.GetHistogram().GetSampleCount() < 2 {
		t.Errorf("histogram sample count = %d, want >= 2", m.GetHistogram().GetSampleCount())
	}
}

func TestStatusWriter_Flush(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}

	var w http.ResponseWriter = sw
	f, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("statusWriter does not implement http.Flusher")
	}
	sw.Write([]byte("data: x\n\n"))
	f.Flush()

	if !rr.Flushed {
		t.Error("underlying recorder was not flushed")
	}
	if sw.status != http.StatusOK {
		t.Errorf("status = %d, want 200", sw.status)
	}
}
