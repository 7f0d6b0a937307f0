package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Stagecast.
type Metrics struct {
	config MetricsConfig

	// Pass metrics
	passesStarted   *prometheus.CounterVec
	passesCompleted *prometheus.CounterVec
	passDuration    *prometheus.HistogramVec

	// Stage metrics
	stagesResolved *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec

	// Requisite metrics
	requisiteFailures *prometheus.CounterVec

	// Dispatch metrics
	dispatchCalls      *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec
	dispatchTargets    *prometheus.HistogramVec
	targetFailures     *prometheus.CounterVec
	selectorEvaluations *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activePasses prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// When metrics are disabled a no-op instance is returned.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		passesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_started_total",
				Help:      "Total number of execution passes started",
			},
			[]string{"driver"},
		),
		passesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_completed_total",
				Help:      "Total number of execution passes completed",
			},
			[]string{"driver", "status"},
		),
		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Duration of execution passes in seconds",
				Buckets:   buckets,
			},
			[]string{"driver", "status"},
		),

		stagesResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_resolved_total",
				Help:      "Total number of stages resolved by outcome kind",
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of stage resolution in seconds",
				Buckets:   buckets,
			},
			[]string{"work"},
		),

		requisiteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requisite_failures_total",
				Help:      "Total number of synthetic requisite failures recorded",
			},
			[]string{"retcode"},
		),

		dispatchCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_calls_total",
				Help:      "Total number of dispatch calls",
			},
			[]string{"adapter", "fun"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of dispatch calls in seconds",
				Buckets:   buckets,
			},
			[]string{"adapter"},
		),
		dispatchTargets: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_targets",
				Help:      "Number of targets per dispatch call",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"adapter"},
		),
		targetFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "target_failures_total",
				Help:      "Total number of per-target dispatch failures",
			},
			[]string{"adapter"},
		),
		selectorEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "selector_evaluations_total",
				Help:      "Total number of target selector evaluations",
			},
			[]string{"adapter", "status"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activePasses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_passes",
				Help:      "Current number of active execution passes",
			},
		),
	}

	registry.MustRegister(
		m.passesStarted,
		m.passesCompleted,
		m.passDuration,
		m.stagesResolved,
		m.stageDuration,
		m.requisiteFailures,
		m.dispatchCalls,
		m.dispatchDuration,
		m.dispatchTargets,
		m.targetFailures,
		m.selectorEvaluations,
		m.errorsByClass,
		m.errorsByCode,
		m.activePasses,
	)

	return m, nil
}

// RecordPassStarted increments the counter for started passes.
func (m *Metrics) RecordPassStarted(driver string) {
	if m.passesStarted == nil {
		return
	}
	m.passesStarted.WithLabelValues(driver).Inc()
	m.activePasses.Inc()
}

// RecordPassCompleted records a completed pass with its status and duration.
func (m *Metrics) RecordPassCompleted(driver, status string, duration time.Duration) {
	if m.passesCompleted == nil {
		return
	}
	m.passesCompleted.WithLabelValues(driver, status).Inc()
	m.passDuration.WithLabelValues(driver, status).Observe(duration.Seconds())
	m.activePasses.Dec()
}

// RecordStageResolved records a resolved stage by outcome kind.
func (m *Metrics) RecordStageResolved(outcome string, work string, duration time.Duration) {
	if m.stagesResolved == nil {
		return
	}
	m.stagesResolved.WithLabelValues(outcome).Inc()
	m.stageDuration.WithLabelValues(work).Observe(duration.Seconds())
}

// RecordRequisiteFailure records a synthetic requisite failure by retcode.
func (m *Metrics) RecordRequisiteFailure(retcode int) {
	if m.requisiteFailures == nil {
		return
	}
	m.requisiteFailures.WithLabelValues(fmt.Sprintf("%d", retcode)).Inc()
}

// RecordDispatch records a dispatch call with its target count and duration.
func (m *Metrics) RecordDispatch(adapter, fun string, targets int, duration time.Duration) {
	if m.dispatchCalls == nil {
		return
	}
	m.dispatchCalls.WithLabelValues(adapter, fun).Inc()
	m.dispatchDuration.WithLabelValues(adapter).Observe(duration.Seconds())
	m.dispatchTargets.WithLabelValues(adapter).Observe(float64(targets))
}

// RecordTargetFailure records one failed target within a dispatch.
func (m *Metrics) RecordTargetFailure(adapter string) {
	if m.targetFailures == nil {
		return
	}
	m.targetFailures.WithLabelValues(adapter).Inc()
}

// RecordSelectorEvaluation records a target selector evaluation.
func (m *Metrics) RecordSelectorEvaluation(adapter, status string) {
	if m.selectorEvaluations == nil {
		return
	}
	m.selectorEvaluations.WithLabelValues(adapter, status).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
