// Package metrics defines the Prometheus collectors shared by the
// arbitration layer (pool, rate governor, session tracker) and the tool
// pipeline. All collectors are registered on the default registry so the
// serve command only has to mount promhttp.Handler().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolActive tracks connections currently leased out.
	PoolActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pgscope_pool_connections_active",
		Help: "Number of pooled connections currently leased",
	})

	// PoolIdle tracks connections sitting in the idle set.
	PoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pgscope_pool_connections_idle",
		Help: "Number of idle connections in the pool",
	})

	// PoolWaiting tracks callers queued for a connection.
	PoolWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pgscope_pool_wait_queue_length",
		Help: "Number of callers waiting for a pooled connection",
	})

	// PoolAcquires counts acquire outcomes by status
	// (acquired, exhausted, timeout, cancelled, fairness, backend_error, closed).
	PoolAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgscope_pool_acquires_total",
		Help: "Total pool acquire attempts by outcome",
	}, []string{"status"})

	// PoolWaitSeconds tracks time spent in the wait queue.
	PoolWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pgscope_pool_wait_seconds",
		Help:    "Time spent waiting for a pooled connection",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	// PoolConnErrors counts connection lifecycle errors by type
	// (create_failed, health_check_failed).
	PoolConnErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgscope_pool_connection_errors_total",
		Help: "Total pooled connection errors by type",
	}, []string{"error_type"})

	// RateLimited counts requests rejected by the client rate governor.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pgscope_rate_limited_total",
		Help: "Total requests rejected by the per-client rate governor",
	})

	// SessionGateRejections counts queries rejected because the session had
	// not inspected all referenced tables.
	SessionGateRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pgscope_session_gate_rejections_total",
		Help: "Total queries rejected for referencing uninspected tables",
	})

	// ToolCalls counts tool invocations by tool name and outcome (ok, error).
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgscope_tool_calls_total",
		Help: "Total MCP tool calls by tool and outcome",
	}, []string{"tool", "outcome"})

	// ToolDuration tracks tool execution time by tool name.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pgscope_tool_duration_seconds",
		Help:    "Tool execution duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"tool"})
)
