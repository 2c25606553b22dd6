// Package metrics exposes Prometheus collectors for the prover node.
//
// Collectors live on a private registry so tests can build as many Node
// values as they like without tripping duplicate registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "proofnode"

// Retry sites, used as the op label on backoff waits.
const (
	OpFetch  = "fetch"
	OpSubmit = "submit"
)

// Node holds every collector the task cycle updates. A nil *Node is valid
// and records nothing.
type Node struct {
	registry *prometheus.Registry

	TasksFetched    prometheus.Counter
	FetchFailures   *prometheus.CounterVec
	ProofsSubmitted prometheus.Counter
	SubmitFailures  *prometheus.CounterVec
	ProverFailures  *prometheus.CounterVec
	ProveDuration   prometheus.Histogram
	BackoffWaits    *prometheus.CounterVec
	Workers         prometheus.Gauge
}

// New registers the node collectors plus the Go and process collectors on a
// fresh registry.
func New() *Node {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Node{
		registry: reg,
		TasksFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_fetched_total",
			Help:      "Tasks received from the orchestrator",
		}),
		FetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Failed task fetches by error kind",
		}, []string{"kind"}),
		ProofsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proofs_submitted_total",
			Help:      "Proofs accepted by the orchestrator",
		}),
		SubmitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submit_failures_total",
			Help:      "Failed proof submissions by error kind",
		}, []string{"kind"}),
		ProverFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prover_failures_total",
			Help:      "Failed proof computations by error kind",
		}, []string{"kind"}),
		ProveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prove_duration_seconds",
			Help:      "Wall time of successful proof computations",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		BackoffWaits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backoff_waits_total",
			Help:      "Backoff sleeps taken before a retry",
		}, []string{"op"}),
		Workers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Number of running task cycles",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (n *Node) Registry() *prometheus.Registry { return n.registry }

// Handler serves the registry in the Prometheus exposition format.
func (n *Node) Handler() http.Handler {
	return promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{Registry: n.registry})
}

func (n *Node) TaskFetched() {
	if n != nil {
		n.TasksFetched.Inc()
	}
}

func (n *Node) FetchFailed(kind string) {
	if n != nil {
		n.FetchFailures.WithLabelValues(kind).Inc()
	}
}

func (n *Node) ProofSubmitted() {
	if n != nil {
		n.ProofsSubmitted.Inc()
	}
}

func (n *Node) SubmitFailed(kind string) {
	if n != nil {
		n.SubmitFailures.WithLabelValues(kind).Inc()
	}
}

func (n *Node) ProverFailed(kind string) {
	if n != nil {
		n.ProverFailures.WithLabelValues(kind).Inc()
	}
}

func (n *Node) ObserveProve(d time.Duration) {
	if n != nil {
		n.ProveDuration.Observe(d.Seconds())
	}
}

func (n *Node) BackoffWait(op string) {
	if n != nil {
		n.BackoffWaits.WithLabelValues(op).Inc()
	}
}

func (n *Node) WorkerStarted() {
	if n != nil {
		n.Workers.Inc()
	}
}

func (n *Node) WorkerStopped() {
	if n != nil {
		n.Workers.Dec()
	}
}
