package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "hydro_"

	resultSuccess = "success"
	resultError   = "error"

	commandKindStart = "start"
	commandKindStop  = "stop"

	commandResultWritten = "written"
	commandResultSkipped = "skipped"
	commandResultFailed  = "failed"
	commandResultExpired = "expired"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	commandRequests *prometheus.CounterVec
	commandResults  *prometheus.CounterVec

	alarmEventsTotal    *prometheus.CounterVec
	evaluationLatency   prometheus.Histogram
	activeSessions      prometheus.Gauge
	busPublishTotal     *prometheus.CounterVec
	stopMarkerSweeps    *prometheus.CounterVec
	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total sensor ingest messages by source and result",
			},
			[]string{"source", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)

		commandRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_requests_total",
				Help: "Total actuator commands requested by kind",
			},
			[]string{"kind"},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total actuator command outcomes by kind and status",
			},
			[]string{"kind", "status"},
		)

		alarmEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)
		evaluationLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_evaluation_latency_seconds",
				Help:    "Alert evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		activeSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alert_sessions_active",
				Help: "Monitored groups with a running alert session",
			},
		)
		busPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bus_publish_total",
				Help: "Total realtime bus publishes by result",
			},
			[]string{"result"},
		)
		stopMarkerSweeps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stop_marker_sweeps_total",
				Help: "Total stop marker sweeps by result",
			},
			[]string{"result"},
		)
		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			commandRequests,
			commandResults,
			alarmEventsTotal,
			evaluationLatency,
			activeSessions,
			busPublishTotal,
			stopMarkerSweeps,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest duration and result for a source (http, mqtt).
func ObserveIngest(source, result string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(source, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncCommandRequested increments requested command counter.
func IncCommandRequested(kind string) {
	if commandRequests != nil {
		commandRequests.WithLabelValues(kind).Inc()
	}
}

// IncCommandResult increments command outcome counter.
func IncCommandResult(kind, status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(kind, status).Inc()
	}
}

// IncAlarmEvent increments alert lifecycle counters.
func IncAlarmEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(event).Inc()
	}
}

// ObserveEvaluation records one evaluation pass.
func ObserveEvaluation(duration time.Duration) {
	if evaluationLatency != nil {
		evaluationLatency.Observe(duration.Seconds())
	}
}

// AddActiveSessions moves the session gauge by delta.
func AddActiveSessions(delta int) {
	if activeSessions != nil {
		activeSessions.Add(float64(delta))
	}
}

// IncBusPublish counts realtime bus publishes.
func IncBusPublish(result string) {
	if busPublishTotal != nil {
		busPublishTotal.WithLabelValues(result).Inc()
	}
}

// IncStopMarkerSweep counts sweeper runs.
func IncStopMarkerSweep(result string) {
	if stopMarkerSweeps != nil {
		stopMarkerSweeps.WithLabelValues(result).Inc()
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	CommandKindStart = commandKindStart
	CommandKindStop  = commandKindStop

	CommandResultWritten = commandResultWritten
	CommandResultSkipped = commandResultSkipped
	CommandResultFailed  = commandResultFailed
	CommandResultExpired = commandResultExpired
)
