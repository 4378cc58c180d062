// Package metrics exports queue activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clawinfra/rapport/internal/queue"
)

const namespace = "rapport"

// Recorder implements queue.Recorder on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	depth        *prometheus.GaugeVec
	enqueued     *prometheus.CounterVec
	evicted      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	submissions  *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	online       prometheus.Gauge
}

// New creates a Recorder with its collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items currently persisted in the offline queue.",
		}, []string{"queue"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Items added to the offline queue.",
		}, []string{"queue"}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_total",
			Help:      "Items evicted because the queue was full.",
		}, []string{"queue"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Items dropped after exhausting their retry budget.",
		}, []string{"queue"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submission attempts made while processing the queue, by outcome.",
		}, []string{"queue", "outcome"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of queue processing passes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"queue"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_available",
			Help:      "1 while the submission endpoint is reachable.",
		}),
	}

	r.registry.MustRegister(
		r.depth, r.enqueued, r.evicted, r.dropped, r.submissions, r.passDuration, r.online,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Enqueued(k queue.Kind) { r.enqueued.WithLabelValues(string(k)).Inc() }
func (r *Recorder) Evicted(k queue.Kind)  { r.evicted.WithLabelValues(string(k)).Inc() }
func (r *Recorder) Dropped(k queue.Kind)  { r.dropped.WithLabelValues(string(k)).Inc() }

func (r *Recorder) Submitted(k queue.Kind, o queue.Outcome) {
	r.submissions.WithLabelValues(string(k), o.String()).Inc()
}

func (r *Recorder) Depth(k queue.Kind, n int) {
	r.depth.WithLabelValues(string(k)).Set(float64(n))
}

func (r *Recorder) PassFinished(k queue.Kind, d time.Duration) {
	r.passDuration.WithLabelValues(string(k)).Observe(d.Seconds())
}

// SetNetworkAvailable records connectivity. It fits netstate.Listener.
func (r *Recorder) SetNetworkAvailable(available bool) {
	if available {
		r.online.Set(1)
	} else {
		r.online.Set(0)
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

var _ queue.Recorder = (*Recorder)(nil)
