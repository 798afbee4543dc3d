package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标管理器. All methods are safe on a nil receiver so components
// can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// 音频
	packetsTotal       prometheus.Counter
	bytesTotal         prometheus.Counter
	silenceFramesTotal prometheus.Counter
	tracksActive       prometheus.Gauge
	tracksTotal        *prometheus.CounterVec

	// 事件日志
	eventRecordsTotal *prometheus.CounterVec
	eventRetriesTotal prometheus.Counter
	eventQueueDepth   prometheus.Gauge

	// 会话
	sessionsActive     prometheus.Gauge
	sessionsTotal      *prometheus.CounterVec
	checkpointDuration prometheus.Histogram
	checkpointFailures prometheus.Counter

	// 数据库
	dbQueryDuration *prometheus.HistogramVec

	// 转写
	transcriptionJobs     *prometheus.CounterVec
	transcriptionSegments prometheus.Counter

	// HTTP
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	rateLimitedTotal *prometheus.CounterVec
	ingestFrames     prometheus.Counter

	// 系统
	diskFreeBytes     *prometheus.GaugeVec
	diskUsedPercent   *prometheus.GaugeVec
	systemMemoryUsage *prometheus.GaugeVec
}

// NewMetrics 创建指标管理器 on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		packetsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audio_packets_total",
			Help: "PCM packets accepted by the audio router",
		}),
		bytesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audio_bytes_total",
			Help: "PCM bytes accepted by the audio router",
		}),
		silenceFramesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_silence_frames_total",
			Help: "Silence frames inserted to compensate transport gaps",
		}),
		tracksActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_tracks_active",
			Help: "Per-speaker tracks currently recording",
		}),
		tracksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_tracks_total",
			Help: "Per-speaker tracks by outcome",
		}, []string{"status"}),

		eventRecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_event_records_total",
			Help: "Event log records by kind and outcome",
		}, []string{"kind", "status"}),
		eventRetriesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_event_retries_total",
			Help: "Event log write retries",
		}),
		eventQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_event_queue_depth",
			Help: "Records waiting in event log queues",
		}),

		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_sessions_active",
			Help: "Recording sessions in the Active state",
		}),
		sessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_sessions_total",
			Help: "Recording sessions by lifecycle transition",
		}, []string{"status"}),
		checkpointDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_checkpoint_duration_seconds",
			Help:    "Metadata checkpoint write duration",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		checkpointFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_checkpoint_failures_total",
			Help: "Metadata checkpoints that failed",
		}),

		dbQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_db_query_duration_seconds",
			Help:    "Durable store statement duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "table"}),

		transcriptionJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_transcription_jobs_total",
			Help: "Transcription jobs by outcome",
		}, []string{"status"}),
		transcriptionSegments: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_segments_total",
			Help: "Transcript rows written",
		}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Control API requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Control API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_rate_limit_total",
			Help: "Rate limiter decisions by route",
		}, []string{"route", "decision"}),
		ingestFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_ingest_frames_total",
			Help: "Binary audio frames received over the ingest websocket",
		}),

		diskFreeBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scribe_disk_free_bytes",
			Help: "Free bytes on the filesystem holding the path",
		}, []string{"path"}),
		diskUsedPercent: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scribe_disk_used_percent",
			Help: "Used percentage of the filesystem holding the path",
		}, []string{"path"}),
		systemMemoryUsage: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scribe_system_memory_bytes",
			Help: "System memory by type",
		}, []string{"type"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordPacket(n int) {
	if m == nil {
		return
	}
	m.packetsTotal.Inc()
	m.bytesTotal.Add(float64(n))
}

func (m *Metrics) AddSilenceFrames(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.silenceFramesTotal.Add(float64(n))
}

// TrackOpened counts a new track; status is "ok", "errored" or "rejected".
func (m *Metrics) TrackOpened(status string) {
	if m == nil {
		return
	}
	m.tracksTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		m.tracksActive.Inc()
	}
}

func (m *Metrics) TrackClosed() {
	if m == nil {
		return
	}
	m.tracksActive.Dec()
}

// RecordEvent counts an event log record; status is "written", "lost" or "dropped".
func (m *Metrics) RecordEvent(kind, status string) {
	if m == nil {
		return
	}
	m.eventRecordsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordEventRetry() {
	if m == nil {
		return
	}
	m.eventRetriesTotal.Inc()
}

func (m *Metrics) AddEventQueueDepth(delta int) {
	if m == nil {
		return
	}
	m.eventQueueDepth.Add(float64(delta))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.WithLabelValues("started").Inc()
}

func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsTotal.WithLabelValues("stopped").Inc()
}

func (m *Metrics) SessionFailed() {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues("failed").Inc()
}

func (m *Metrics) ObserveCheckpoint(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.checkpointDuration.Observe(d.Seconds())
	if err != nil {
		m.checkpointFailures.Inc()
	}
}

// RecordDBQuery 记录数据库查询指标
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func (m *Metrics) RecordTranscriptionJob(status string, segments int) {
	if m == nil {
		return
	}
	m.transcriptionJobs.WithLabelValues(status).Inc()
	m.transcriptionSegments.Add(float64(segments))
}

func (m *Metrics) RecordHTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) RecordRateLimit(route string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.rateLimitedTotal.WithLabelValues(route, decision).Inc()
}

func (m *Metrics) RecordIngestFrame() {
	if m == nil {
		return
	}
	m.ingestFrames.Inc()
}

// SetDiskUsage 设置磁盘使用情况
func (m *Metrics) SetDiskUsage(path string, free uint64, usedPercent float64) {
	if m == nil {
		return
	}
	m.diskFreeBytes.WithLabelValues(path).Set(float64(free))
	m.diskUsedPercent.WithLabelValues(path).Set(usedPercent)
}

// SetSystemMemoryUsage 设置系统内存使用量
func (m *Metrics) SetSystemMemoryUsage(memoryType string, bytes uint64) {
	if m == nil {
		return
	}
	m.systemMemoryUsage.WithLabelValues(memoryType).Set(float64(bytes))
}
