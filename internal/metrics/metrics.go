// Package metrics holds the prometheus collectors shared by the API and the worker.
//
// Each process builds its own Registry so tests can create as many as they
// like without tripping duplicate registration.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fibqueue"

type Registry struct {
	reg *prometheus.Registry

	Submitted   *prometheus.CounterVec
	Outcomes    *prometheus.CounterVec
	JobDuration prometheus.Histogram
	Lookups     *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Submissions by result (enqueued, bad_request, queue_full, store_unavailable).",
		}, []string{"result"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_passes_total",
			Help:      "Worker passes by outcome.",
		}, []string{"outcome"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from dequeue to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_lookups_total",
			Help:      "Result lookups by result (hit, miss, error).",
		}, []string{"result"}),
	}
	r.reg.MustRegister(r.Submitted, r.Outcomes, r.JobDuration, r.Lookups)
	r.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

// RegisterQueueDepth exposes the store's queue length as a gauge, read at scrape time.
func (r *Registry) RegisterQueueDepth(length func(ctx context.Context) (int64, error)) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Jobs waiting in the queue.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := length(ctx)
		if err != nil {
			slog.Warn("metrics: queue length unavailable", "error", err)
			return -1
		}
		return float64(n)
	}))
}

// Handler serves the registry in the prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
