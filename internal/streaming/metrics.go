package streaming

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tts"

// Metrics collects service metrics on a private Prometheus registry. The
// admission gauges are plain atomics exported through func collectors so the
// limiter can read them back cheaply.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	activeStreams   atomic.Int64
	limitExceeded   atomic.Int64
	acquireTimeouts atomic.Int64

	sessions        *prometheus.CounterVec
	firstChunk      prometheus.Histogram
	streamChunks    prometheus.Counter
	streamBytes     prometheus.Counter
	batchRequests   *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	downloads       *prometheus.CounterVec
	downloadBytes   prometheus.Counter
	downloadSeconds prometheus.Histogram
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics constructs a Metrics collection with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{registry: reg}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "active_streams",
		Help: "Live streams currently holding a slot.",
	}, func() float64 { return float64(m.activeStreams.Load()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "stream_limit_exceeded_total",
		Help: "Live stream requests refused because every slot was busy.",
	}, func() float64 { return float64(m.limitExceeded.Load()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "stream_acquire_timeouts_total",
		Help: "Live stream requests that timed out waiting for a slot.",
	}, func() float64 { return float64(m.acquireTimeouts.Load()) })

	m.sessions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "stream_sessions_total",
		Help: "Finished live stream sessions by outcome.",
	}, []string{"outcome"})
	m.firstChunk = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "stream_first_chunk_seconds",
		Help:    "Time from session open to the first audio chunk.",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10},
	})
	m.streamChunks = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "stream_chunks_total",
		Help: "Audio chunks written to live streams.",
	})
	m.streamBytes = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "stream_bytes_total",
		Help: "Audio bytes written to live streams.",
	})
	m.batchRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "batch_requests_total",
		Help: "Finished batch synthesis requests by outcome.",
	}, []string{"outcome"})
	m.batchDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "batch_duration_seconds",
		Help:    "Batch synthesis duration.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	})
	m.downloads = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "reference_downloads_total",
		Help: "Remote reference audio downloads by outcome.",
	}, []string{"outcome"})
	m.downloadBytes = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "reference_download_bytes_total",
		Help: "Bytes of reference audio downloaded.",
	})
	m.downloadSeconds = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "reference_download_seconds",
		Help:    "Reference audio download duration.",
		Buckets: prometheus.DefBuckets,
	})
	m.httpRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})
	m.httpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "http_request_duration_seconds",
		Help:    "HTTP request duration; live streams include the whole stream.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncActiveStreams increments the active stream gauge.
func (m *Metrics) IncActiveStreams() {
	if m == nil {
		return
	}
	m.activeStreams.Add(1)
}

// DecActiveStreams decrements the active stream gauge.
func (m *Metrics) DecActiveStreams() {
	if m == nil {
		return
	}
	m.activeStreams.Add(-1)
}

// ActiveStreams reports the number of currently active streams.
func (m *Metrics) ActiveStreams() int64 {
	if m == nil {
		return 0
	}
	return m.activeStreams.Load()
}

// IncLimitExceeded increments the counter for limit exceeded attempts.
func (m *Metrics) IncLimitExceeded() {
	if m == nil {
		return
	}
	m.limitExceeded.Add(1)
}

// LimitExceeded reports how many attempts exceeded the stream limit.
func (m *Metrics) LimitExceeded() int64 {
	if m == nil {
		return 0
	}
	return m.limitExceeded.Load()
}

// IncAcquireTimeouts increments the acquire timeout counter.
func (m *Metrics) IncAcquireTimeouts() {
	if m == nil {
		return
	}
	m.acquireTimeouts.Add(1)
}

// AcquireTimeouts reports the total number of acquire timeouts.
func (m *Metrics) AcquireTimeouts() int64 {
	if m == nil {
		return 0
	}
	return m.acquireTimeouts.Load()
}

// ObserveFirstChunk records the time to first audio.
func (m *Metrics) ObserveFirstChunk(d time.Duration) {
	if m == nil {
		return
	}
	m.firstChunk.Observe(d.Seconds())
}

// AddChunk records one written chunk of n bytes.
func (m *Metrics) AddChunk(n int) {
	if m == nil {
		return
	}
	m.streamChunks.Inc()
	m.streamBytes.Add(float64(n))
}

// ObserveSession records how a live stream ended.
func (m *Metrics) ObserveSession(outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
}

// ObserveBatch records a finished batch request.
func (m *Metrics) ObserveBatch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchRequests.WithLabelValues(outcome).Inc()
	m.batchDuration.Observe(d.Seconds())
}

// ObserveDownload records a reference download.
func (m *Metrics) ObserveDownload(outcome string, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(outcome).Inc()
	m.downloadBytes.Add(float64(bytes))
	m.downloadSeconds.Observe(elapsed.Seconds())
}

// ObserveRequest records a finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
