package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "draftfiles"

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 附件生命周期指标
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	AttachmentsStored prometheus.Counter
	AttachmentSize    *prometheus.HistogramVec
	AttachmentsBound  prometheus.Counter
	AttachmentsOrphan prometheus.Counter
	AttachmentsPruned prometheus.Counter
	PersistWarnings   *prometheus.CounterVec

	// 清理任务指标
	SweepRuns      *prometheus.CounterVec
	SweepRemoved   *prometheus.CounterVec
	SweepLastRunAt *prometheus.GaugeVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	// 系统指标
	SystemUptime prometheus.Gauge

	gatherer prometheus.Gatherer
	started  time.Time
}

// NewMetrics 创建监控指标并注册到 reg
//
// reg 为 nil 时使用 Prometheus 默认注册表。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 附件生命周期指标
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_operations_total",
				Help:      "Total number of lifecycle operations by outcome",
			},
			[]string{"operation", "result"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lifecycle_operation_duration_seconds",
				Help:      "Lifecycle operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		AttachmentsStored: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attachments_stored_total",
				Help:      "Total number of attachments stored into drafts",
			},
		),

		AttachmentSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attachment_size_bytes",
				Help:      "Size of stored attachments in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
			},
			[]string{"field"},
		),

		AttachmentsBound: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attachments_bound_total",
				Help:      "Total number of attachments reassigned from drafts to owners",
			},
		),

		AttachmentsOrphan: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attachments_orphaned_total",
				Help:      "Total number of attachments marked orphaned",
			},
		),

		AttachmentsPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attachments_pruned_total",
				Help:      "Total number of orphaned attachments deleted on save",
			},
		),

		PersistWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_warnings_total",
				Help:      "Total number of degraded draft saves by stage",
			},
			[]string{"stage"},
		),

		// 清理任务指标
		SweepRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Total number of sweep runs by job and outcome",
			},
			[]string{"job", "result"},
		),

		SweepRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_removed_total",
				Help:      "Total number of attachments removed by sweep jobs",
			},
			[]string{"job"},
		),

		SweepLastRunAt: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sweep_last_run_timestamp_seconds",
				Help:      "Unix time of the last completed sweep run",
			},
			[]string{"job"},
		),

		// 错误指标
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_blocks_total",
				Help:      "Total number of requests blocked by rate limiting",
			},
			[]string{"type"},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_uptime_seconds",
				Help:      "System uptime in seconds",
			},
		),

		gatherer: gatherer,
		started:  time.Now(),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordOperation 记录一次生命周期操作
func (m *Metrics) RecordOperation(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// RecordStored 记录附件写入
func (m *Metrics) RecordStored(fieldKey string, size int64) {
	if m == nil {
		return
	}
	m.AttachmentsStored.Inc()
	m.AttachmentSize.WithLabelValues(fieldKey).Observe(float64(size))
}

// RecordPersist 记录保存草稿的结果
func (m *Metrics) RecordPersist(reassigned, orphaned, pruned int) {
	if m == nil {
		return
	}
	m.AttachmentsBound.Add(float64(reassigned))
	m.AttachmentsOrphan.Add(float64(orphaned))
	m.AttachmentsPruned.Add(float64(pruned))
}

// RecordPersistWarning 记录保存过程中降级的阶段
func (m *Metrics) RecordPersistWarning(stage string) {
	if m == nil {
		return
	}
	m.PersistWarnings.WithLabelValues(stage).Inc()
}

// RecordSweep 记录清理任务
func (m *Metrics) RecordSweep(job string, removed int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SweepRuns.WithLabelValues(job, result).Inc()
	m.SweepRemoved.WithLabelValues(job).Add(float64(removed))
	m.SweepLastRunAt.WithLabelValues(job).SetToCurrentTime()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	handler := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.SystemUptime.Set(time.Since(m.started).Seconds())
		handler.ServeHTTP(w, r)
	})
}
