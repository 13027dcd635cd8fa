package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flutterbox"

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	workspacesCreated *prom.CounterVec
	fileWrites        prom.Counter
	buildsStarted     prom.Counter
	buildOutcomes     *prom.CounterVec
	stepDuration      *prom.HistogramVec
	buildDuration     prom.Histogram
	activeBuilds      prom.Gauge
}

var buildBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &PrometheusRecorder{
		workspacesCreated: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "workspaces_created_total",
			Help:      "Workspace create requests by result",
		}, []string{"result"}),
		fileWrites: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "file_writes_total",
			Help:      "Durable single-file writes into workspaces",
		}),
		buildsStarted: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "builds_started_total",
			Help:      "Build runs started",
		}),
		buildOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build runs by final outcome",
		}, []string{"outcome"}),
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_step_duration_seconds",
			Help:      "Duration of individual build steps",
			Buckets:   buildBuckets,
		}, []string{"step"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build run duration",
			Buckets:   buildBuckets,
		}),
		activeBuilds: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "active_builds",
			Help:      "Build runs currently streaming",
		}),
	}
	reg.MustRegister(r.workspacesCreated, r.fileWrites, r.buildsStarted, r.buildOutcomes,
		r.stepDuration, r.buildDuration, r.activeBuilds)
	return r
}

func (r *PrometheusRecorder) IncWorkspacesCreated(success bool) {
	result := "success"
	if !success {
		result = "failed"
	}
	r.workspacesCreated.WithLabelValues(result).Inc()
}

func (r *PrometheusRecorder) IncFileWrites(n int) { r.fileWrites.Add(float64(n)) }

func (r *PrometheusRecorder) IncBuildsStarted() { r.buildsStarted.Inc() }

func (r *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcome) {
	r.buildOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (r *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	r.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (r *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	r.buildDuration.Observe(d.Seconds())
}

func (r *PrometheusRecorder) AddActiveBuilds(delta int) { r.activeBuilds.Add(float64(delta)) }

// HTTPHandler serves the metrics gathered by reg.
func HTTPHandler(reg prom.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
