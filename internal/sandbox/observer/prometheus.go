package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	languageLabel = "language"
	outcomeLabel  = "outcome"
	reasonLabel   = "reason"
)

// PrometheusRecorder exports sandbox metrics under codelab_sandbox_*.
type PrometheusRecorder struct {
	compiles    *prometheus.CounterVec
	compileTime *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	runTime     *prometheus.HistogramVec
	rejected    *prometheus.CounterVec
	queueWait   *prometheus.HistogramVec
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	buckets := []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	r := &PrometheusRecorder{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codelab",
			Subsystem: "sandbox",
			Name:      "compile_total",
			Help:      "Number of compile phases by language and outcome",
		}, []string{languageLabel, outcomeLabel}),
		compileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codelab",
			Subsystem: "sandbox",
			Name:      "compile_duration_ms",
			Help:      "Wall time of compile phases in milliseconds",
			Buckets:   buckets,
		}, []string{languageLabel}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codelab",
			Subsystem: "sandbox",
			Name:      "run_total",
			Help:      "Number of run phases by language and outcome kind",
		}, []string{languageLabel, outcomeLabel}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codelab",
			Subsystem: "sandbox",
			Name:      "run_duration_ms",
			Help:      "Wall time of run phases in milliseconds",
			Buckets:   buckets,
		}, []string{languageLabel}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codelab",
			Subsystem: "sandbox",
			Name:      "rejected_total",
			Help:      "Submissions rejected before execution",
		}, []string{languageLabel, reasonLabel}),
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codelab",
			Subsystem: "sandbox",
			Name:      "queue_wait_ms",
			Help:      "Time spent waiting for an executor slot",
			Buckets:   buckets,
		}, []string{"acquired"}),
	}
	for _, c := range []prometheus.Collector{r.compiles, r.compileTime, r.runs, r.runTime, r.rejected, r.queueWait} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(_ context.Context, language string, ok bool, wallMs int64) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	r.compiles.WithLabelValues(language, outcome).Inc()
	r.compileTime.WithLabelValues(language).Observe(float64(wallMs))
}

func (r *PrometheusRecorder) ObserveRun(_ context.Context, language string, outcome string, wallMs int64) {
	if outcome == "" {
		outcome = "ok"
	}
	r.runs.WithLabelValues(language, outcome).Inc()
	r.runTime.WithLabelValues(language).Observe(float64(wallMs))
}

func (r *PrometheusRecorder) ObserveRejected(_ context.Context, language string, reason string) {
	r.rejected.WithLabelValues(language, reason).Inc()
}

func (r *PrometheusRecorder) ObserveQueueWait(_ context.Context, waitMs int64, acquired bool) {
	r.queueWait.WithLabelValues(strconv.FormatBool(acquired)).Observe(float64(waitMs))
}
