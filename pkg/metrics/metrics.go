package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 调度操作耗时（秒）
	ScheduleOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schedule_operation_duration_seconds",
			Help:    "Duration of scheduling operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "outcome"},
	)

	// 级联移动的阶段数
	CascadeShiftedStages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schedule_cascade_shifted_stages",
			Help:    "Number of dependent stages shifted by one deadline cascade",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	// 被拒绝的依赖（会形成环）
	CyclicDependencyRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schedule_cyclic_dependency_rejected_total",
			Help: "Total number of dependency edges rejected because they would close a cycle",
		},
	)

	// 系统阶段自动创建计数
	SystemStageProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schedule_system_stage_provisioned_total",
			Help: "Total number of system stages created by the provisioner",
		},
	)

	// 活动日志投递结果
	ActivityPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_log_published_total",
			Help: "Activity log entries handed to the sink",
		},
		[]string{"status"}, // status: success, failed, dropped
	)

	// 数据库慢查询
	DBSlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveOperation 记录调度操作耗时
func ObserveOperation(operation string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ScheduleOperationDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

func ObserveCascade(shifted int) {
	CascadeShiftedStages.Observe(float64(shifted))
}

func IncrementCyclicRejected() {
	CyclicDependencyRejected.Inc()
}

func IncrementSystemStageProvisioned() {
	SystemStageProvisioned.Inc()
}

func IncrementActivity(status string) {
	ActivityPublished.WithLabelValues(status).Inc()
}

// IncrementSlowQuery 记录慢查询；statement 只取 SQL 的第一个关键字，避免标签基数过高
func IncrementSlowQuery(statement string) {
	DBSlowQueries.WithLabelValues(statement).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
