package tracking

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunMetric = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spamflow_run_metric",
			Help: "Latest value of a metric logged to a tracking run",
		},
		[]string{"experiment", "run_name", "metric"},
	)

	ArtifactsLogged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spamflow_artifacts_logged_total",
			Help: "Total artifacts attached to tracking runs",
		},
		[]string{"experiment", "path"},
	)

	StepCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spamflow_step_cache_hits_total",
			Help: "Pipeline steps served from cached outputs",
		},
		[]string{"step", "cache_type"},
	)

	StepCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spamflow_step_cache_misses_total",
			Help: "Pipeline steps that had to execute",
		},
		[]string{"step"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spamflow_step_duration_seconds",
			Help:    "Pipeline step execution time in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"step", "status"},
	)

	Predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spamflow_predictions_total",
			Help: "Predictions served by the API",
		},
		[]string{"prediction"},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RunMetric)
		prometheus.MustRegister(ArtifactsLogged)
		prometheus.MustRegister(StepCacheHits)
		prometheus.MustRegister(StepCacheMisses)
		prometheus.MustRegister(StepDuration)
		prometheus.MustRegister(Predictions)
	})
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
