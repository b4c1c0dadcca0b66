// Package metrics exposes pass reports as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"c2c/internal/report"
	"c2c/internal/tasks"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter tracks the engine's passes on its own registry.
type Exporter struct {
	registry *prometheus.Registry

	passes         *prometheus.CounterVec
	launched       *prometheus.CounterVec
	evictions      prometheus.Counter
	freed          prometheus.Counter
	passDuration   prometheus.Histogram
	lastPass       prometheus.Gauge
	nodes          *prometheus.GaugeVec
	nodeList       *prometheus.GaugeVec
	targetThreads  *prometheus.GaugeVec
	reservation    prometheus.Gauge
	configuredGoal *prometheus.GaugeVec

	mu      sync.Mutex
	targets map[string]bool
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "c2c_passes_total",
				Help: "Scheduler passes by outcome",
			},
			[]string{"outcome"}, // "allocated", "waiting"
		),
		launched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "c2c_threads_launched_total",
				Help: "Worker threads launched by kind",
			},
			[]string{"kind"},
		),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c2c_home_evictions_total",
			Help: "Worker processes killed on home to honour the reservation",
		}),
		freed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c2c_home_freed_gb_total",
			Help: "RAM freed on home by evictions, in GB",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "c2c_pass_duration_seconds",
			Help:    "Wall time of a scheduler pass",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		lastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "c2c_last_pass_timestamp_seconds",
			Help: "Start time of the last pass",
		}),
		nodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "c2c_pass_nodes",
				Help: "Nodes seen by the last pass",
			},
			[]string{"status"}, // "visited", "skipped", "useless"
		),
		nodeList: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "c2c_nodes_running",
				Help: "Nodes running at least one thread of a kind",
			},
			[]string{"kind"},
		),
		targetThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "c2c_target_threads",
				Help: "Threads allocated per target and kind",
			},
			[]string{"target", "kind"},
		),
		reservation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "c2c_home_reservation_gb",
			Help: "RAM kept free on home",
		}),
		configuredGoal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "c2c_goal",
				Help: "1 for the active goal",
			},
			[]string{"goal"},
		),
		targets: make(map[string]bool),
	}

	e.registry.MustRegister(
		e.passes,
		e.launched,
		e.evictions,
		e.freed,
		e.passDuration,
		e.lastPass,
		e.nodes,
		e.nodeList,
		e.targetThreads,
		e.reservation,
		e.configuredGoal,
	)
	return e
}

func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Handler returns HTTP handler for Prometheus metrics
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) ObservePass(_ context.Context, pass *report.Pass) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPass.Set(float64(pass.StartedAt.Unix()))
	e.passDuration.Observe(pass.Duration.Seconds())
	e.reservation.Set(pass.ReservationGB)

	e.configuredGoal.Reset()
	if pass.Goal != "" {
		e.configuredGoal.WithLabelValues(pass.Goal).Set(1)
	}

	if pass.Waiting {
		e.passes.WithLabelValues("waiting").Inc()
		return nil
	}
	e.passes.WithLabelValues("allocated").Inc()

	for _, k := range tasks.Kinds {
		if n := pass.Launched.Get(k); n > 0 {
			e.launched.WithLabelValues(k.String()).Add(float64(n))
		}
		e.nodeList.WithLabelValues(k.String()).Set(float64(len(pass.NodeLists[k])))
	}
	e.evictions.Add(float64(pass.Evicted))
	e.freed.Add(pass.FreedGB)

	e.nodes.WithLabelValues("visited").Set(float64(pass.Visited))
	e.nodes.WithLabelValues("skipped").Set(float64(pass.Skipped))
	e.nodes.WithLabelValues("useless").Set(float64(pass.Useless))

	// Targets dropped since the previous pass must not keep reporting threads.
	current := make(map[string]bool, len(pass.Allocations))
	for target, a := range pass.Allocations {
		label := target
		if label == "" {
			label = "-"
		}
		current[label] = true
		for _, k := range tasks.Kinds {
			e.targetThreads.WithLabelValues(label, k.String()).Set(float64(a.Get(k)))
		}
	}
	for label := range e.targets {
		if !current[label] {
			for _, k := range tasks.Kinds {
				e.targetThreads.DeleteLabelValues(label, k.String())
			}
		}
	}
	e.targets = current
	return nil
}
