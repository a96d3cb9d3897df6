package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for the orchestrator.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Task metrics.
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Subtask metrics.
	SubtasksTotal   *prometheus.CounterVec
	SubtaskDuration *prometheus.HistogramVec

	// Worker metrics.
	WorkerLoad          *prometheus.GaugeVec
	WorkersOfflineTotal prometheus.Counter

	// Recovery metrics.
	TierDowngradesTotal *prometheus.CounterVec

	// Alerting metrics.
	AlertsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordino",
			Subsystem: "task",
			Name:      "total",
			Help:      "Total tasks by tier and final status.",
		}, []string{"tier", "status"}),

		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ordino",
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Whole-task duration in seconds.",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"tier"}),

		SubtasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordino",
			Subsystem: "subtask",
			Name:      "total",
			Help:      "Total subtask settlements by tier and status.",
		}, []string{"tier", "status"}),

		SubtaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ordino",
			Subsystem: "subtask",
			Name:      "duration_seconds",
			Help:      "Subtask execution duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"tier"}),

		WorkerLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ordino",
			Subsystem: "worker",
			Name:      "load",
			Help:      "Current load per worker.",
		}, []string{"worker_id"}),

		WorkersOfflineTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ordino",
			Subsystem: "worker",
			Name:      "offline_total",
			Help:      "Workers flipped offline by heartbeat lapse.",
		}),

		TierDowngradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordino",
			Subsystem: "recovery",
			Name:      "tier_downgrades_total",
			Help:      "Downgrade-chain steps by resulting tier.",
		}, []string{"tier"}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordino",
			Subsystem: "alert",
			Name:      "total",
			Help:      "Alerts raised by rule and severity.",
		}, []string{"rule", "severity"}),
	}

	reg.MustRegister(
		m.TasksTotal,
		m.TaskDuration,
		m.SubtasksTotal,
		m.SubtaskDuration,
		m.WorkerLoad,
		m.WorkersOfflineTotal,
		m.TierDowngradesTotal,
		m.AlertsTotal,
	)
	return m
}
