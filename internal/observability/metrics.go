package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	modelRetriesTotal *prometheus.CounterVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentRunSteps    prometheus.Histogram

	kubectlCommandTotal    *prometheus.CounterVec
	kubectlCommandDuration prometheus.Histogram
	kubectlTimeoutsTotal   prometheus.Counter

	authAttemptsTotal     *prometheus.CounterVec
	clusterSessionsActive prometheus.Gauge
	clusterSessionsSwept  prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active conversation session count.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_call_total",
					Help: "Total model completions by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_call_duration_seconds",
					Help:    "Model completion duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			modelRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_retries_total",
					Help: "Total model call retries by provider.",
				},
				[]string{"provider"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent loop invocations by outcome.",
				},
				[]string{"outcome"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent loop invocation duration in seconds by outcome.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"outcome"},
			),
			agentRunSteps: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_run_steps",
					Help:    "Model round trips consumed per agent loop invocation.",
					Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
				},
			),
			kubectlCommandTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "kubectl_command_total",
					Help: "Total kubectl commands by status.",
				},
				[]string{"status"},
			),
			kubectlCommandDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "kubectl_command_duration_seconds",
					Help:    "kubectl command duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			kubectlTimeoutsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "kubectl_timeouts_total",
					Help: "Total kubectl commands killed by the per-command timeout.",
				},
			),
			authAttemptsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "auth_attempts_total",
					Help: "Total bearer authentication attempts by status.",
				},
				[]string{"status"},
			),
			clusterSessionsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "cluster_sessions_active",
					Help: "Currently registered, unexpired cluster sessions.",
				},
			),
			clusterSessionsSwept: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "cluster_sessions_swept_total",
					Help: "Expired cluster sessions removed by the sweeper.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.modelCallTotal,
			m.modelCallDuration,
			m.modelRetriesTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentRunSteps,
			m.kubectlCommandTotal,
			m.kubectlCommandDuration,
			m.kubectlTimeoutsTotal,
			m.authAttemptsTotal,
			m.clusterSessionsActive,
			m.clusterSessionsSwept,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.modelCallTotal.WithLabelValues(provider, status).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordModelRetry(provider string) {
	getMetrics().modelRetriesTotal.WithLabelValues(provider).Inc()
}

// RecordAgentRun records one loop invocation. Outcome is one of
// "done", "budget_exhausted", "aborted", or "error".
func RecordAgentRun(outcome string, duration time.Duration, steps int) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(outcome).Inc()
	m.agentRunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.agentRunSteps.Observe(float64(steps))
}

// RecordKubectlCommand records one executor invocation. Status is
// "ok" (exit 0), "failed" (non-zero exit), "timeout", or "launch_error".
func RecordKubectlCommand(status string, duration time.Duration) {
	m := getMetrics()
	m.kubectlCommandTotal.WithLabelValues(status).Inc()
	m.kubectlCommandDuration.Observe(duration.Seconds())
	if status == "timeout" {
		m.kubectlTimeoutsTotal.Inc()
	}
}

// RecordAuthAttempt records a bearer validation. Status is "ok",
// "invalid_key", or "missing_header".
func RecordAuthAttempt(status string) {
	getMetrics().authAttemptsTotal.WithLabelValues(status).Inc()
}

func SetClusterSessions(count int) {
	getMetrics().clusterSessionsActive.Set(float64(count))
}

func RecordClusterSessionsSwept(count int) {
	getMetrics().clusterSessionsSwept.Add(float64(count))
}
