// Package metrics exposes Prometheus collectors for task runs, Sass
// compilation, watch batches and live reloads.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/assetrun/assetrun/internal/task"
)

// Config configures the collectors.
type Config struct {
	// Namespace prefixes every metric (default: "assetrun").
	Namespace string

	// ConstLabels are added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the task duration histogram buckets.
	Buckets []float64

	// Registry receives the collectors. Default: a fresh registry with the
	// Go runtime and process collectors.
	Registry *prometheus.Registry
}

// Option configures Config.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the task duration buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	tasksRunning prometheus.Gauge
	sassFiles    *prometheus.CounterVec
	watchBatches *prometheus.CounterVec
	reloads      *prometheus.CounterVec
	uploads      *prometheus.CounterVec
}

// New registers the collectors.
func New(opts ...Option) *Metrics {
	config := Config{
		Namespace: "assetrun",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
		config.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := promauto.With(config.Registry)
	return &Metrics{
		registry: config.Registry,

		taskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "task_runs_total",
			Help:        "Task executions by task and status",
			ConstLabels: config.ConstLabels,
		}, []string{"task", "status"}),

		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "task_duration_seconds",
			Help:        "Task execution duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"task"}),

		tasksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "tasks_running",
			Help:        "Tasks currently executing",
			ConstLabels: config.ConstLabels,
		}),

		sassFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "sass_files_total",
			Help:        "Sass source files compiled by status",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		watchBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "watch_batches_total",
			Help:        "Debounced change batches by task and outcome (started or coalesced)",
			ConstLabels: config.ConstLabels,
		}, []string{"task", "outcome"}),

		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "reloads_total",
			Help:        "Live reload notifications sent to browsers by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "uploads_total",
			Help:        "Published objects by status",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TaskHooks returns registry hooks recording task runs.
func (m *Metrics) TaskHooks() task.Hooks {
	return task.Hooks{
		OnStart:  m.TaskStarted,
		OnFinish: m.TaskFinished,
	}
}

// TaskStarted records a task start.
func (m *Metrics) TaskStarted(string) {
	if m == nil {
		return
	}
	m.tasksRunning.Inc()
}

// TaskFinished records a task result.
func (m *Metrics) TaskFinished(name string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.tasksRunning.Dec()
	m.taskRuns.WithLabelValues(name, status(err)).Inc()
	m.taskDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// SassFile records one compiled source.
func (m *Metrics) SassFile(_ string, err error) {
	if m == nil {
		return
	}
	m.sassFiles.WithLabelValues(status(err)).Inc()
}

// WatchTrigger records a watch batch.
func (m *Metrics) WatchTrigger(taskName string, started bool) {
	if m == nil {
		return
	}
	outcome := "started"
	if !started {
		outcome = "coalesced"
	}
	m.watchBatches.WithLabelValues(taskName, outcome).Inc()
}

// Reload records a live reload notification.
func (m *Metrics) Reload(kind string) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(kind).Inc()
}

// Upload records a published object.
func (m *Metrics) Upload(err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
