package metrics

import (
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var uuidRegex = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	StorageBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_bytes_total",
			Help: "Total bytes transferred to storage",
		},
		[]string{"operation"},
	)

	SourcesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamist_sources_created_total",
			Help: "Total number of upload sources created",
		},
		[]string{"type", "plan"},
	)

	SourceFileBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamist_source_file_bytes",
			Help:    "Declared size of source files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 4, 8),
		},
		[]string{"type"},
	)

	MultipartUploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamist_multipart_uploads_total",
			Help: "Total number of source files uploaded as multipart",
		},
	)

	SourceTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamist_source_transitions_total",
			Help: "Source state transitions by outcome",
		},
		[]string{"to", "outcome"},
	)

	TranscoderDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamist_transcoder_dispatches_total",
			Help: "Transcoder invocations by runner and status",
		},
		[]string{"runner", "status"},
	)

	TranscoderDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamist_transcoder_dispatch_duration_seconds",
			Help:    "Duration of transcoder invocations in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"runner"},
	)

	TranscoderCallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamist_transcoder_callbacks_total",
			Help: "Transcoder callbacks by request type and status",
		},
		[]string{"type", "status"},
	)

	CleanupItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamist_cleanup_items_total",
			Help: "Items handled by cleanup jobs by outcome",
		},
		[]string{"job", "outcome"},
	)

	CronRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamist_cron_runs_total",
			Help: "Scheduled task runs by status",
		},
		[]string{"task", "status"},
	)

	CronRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamist_cron_run_duration_seconds",
			Help:    "Duration of scheduled task runs in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"task"},
	)

	QuotaExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamist_quota_exceeded_total",
			Help: "Total quota exceeded events by type",
		},
		[]string{"quota_type", "plan"},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application information",
		},
		[]string{"version", "environment", "service"},
	)

	AppUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_up",
			Help: "Application is up and running",
		},
	)
)

func NormalizePath(path string) string {
	return uuidRegex.ReplaceAllString(path, ":id")
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func RecordSourceCreated(sourceType, plan string) {
	SourcesCreatedTotal.WithLabelValues(sourceType, plan).Inc()
}

func RecordSourceFile(fileType string, size int64, multipart bool) {
	SourceFileBytes.WithLabelValues(fileType).Observe(float64(size))
	if multipart {
		MultipartUploadsTotal.Inc()
	}
}

// RecordTransition counts a conditional state update. A lost race is recorded
// as "noop".
func RecordTransition(to string, transitioned bool) {
	outcome := "applied"
	if !transitioned {
		outcome = "noop"
	}
	SourceTransitionsTotal.WithLabelValues(to, outcome).Inc()
}

func RecordDispatch(runner string, err error, duration time.Duration) {
	TranscoderDispatchesTotal.WithLabelValues(runner, statusLabel(err)).Inc()
	TranscoderDispatchDuration.WithLabelValues(runner).Observe(duration.Seconds())
}

func RecordCallback(requestType, status string) {
	TranscoderCallbacksTotal.WithLabelValues(requestType, status).Inc()
}

func RecordCleanup(job, outcome string, n int) {
	if n <= 0 {
		return
	}
	CleanupItemsTotal.WithLabelValues(job, outcome).Add(float64(n))
}

func RecordCronRun(task string, err error, duration time.Duration) {
	CronRunsTotal.WithLabelValues(task, statusLabel(err)).Inc()
	CronRunDuration.WithLabelValues(task).Observe(duration.Seconds())
}

func RecordQuotaExceeded(quotaType, plan string) {
	QuotaExceededTotal.WithLabelValues(quotaType, plan).Inc()
}

func SetAppInfo(version, environment, service string) {
	AppInfo.WithLabelValues(version, environment, service).Set(1)
	AppUp.Set(1)
}
