package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistry_ExposesCounters(t *testing.T) {
	t.Parallel()
	r := New()
	r.Submitted.WithLabelValues("enqueued").Inc()
	r.Outcomes.WithLabelValues("stored").Add(2)
	r.RegisterQueueDepth(func(context.Context) (int64, error) { return 7, nil })

	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)

	for _, want := range []string{
		`fibqueue_jobs_submitted_total{result="enqueued"} 1`,
		`fibqueue_worker_passes_total{outcome="stored"} 2`,
		`fibqueue_queue_length 7`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRegistry_IndependentInstances(t *testing.T) {
	t.Parallel()
	a, b := New(), New()
	a.Lookups.WithLabelValues("hit").Inc()

	mfs, err := b.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "fibqueue_result_lookups_total" && len(mf.GetMetric()) != 0 {
			t.Error("second registry saw the first registry's lookups")
		}
	}
}
