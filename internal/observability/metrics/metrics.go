// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_commerce"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Voice session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Audio stream metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  prometheus.Counter
	StreamDuration prometheus.Histogram

	// Utterance metrics
	UtterancesCreated   prometheus.Counter
	UtterancesCompleted prometheus.Counter
	UtterancesDropped   *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Interpreter and dispatch metrics
	Classifications *prometheus.CounterVec
	Dispatches      *prometheus.CounterVec
	DispatchLatency prometheus.Histogram

	// Storefront metrics
	CartItemsAdded *prometheus.CounterVec
	AuthEvents     *prometheus.CounterVec
	CatalogReloads *prometheus.CounterVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTLatency        *prometheus.HistogramVec
	STTErrors         *prometheus.CounterVec
	STTUtteranceCount prometheus.Counter

	// Backpressure metrics
	LimitExceeded *prometheus.CounterVec

	// Request metrics
	RPCRequests     *prometheus.CounterVec
	RPCLatency      *prometheus.HistogramVec
	HTTPRequests    *prometheus.CounterVec
	HTTPLatency     *prometheus.HistogramVec
	WebSocketActive prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_sessions_total",
			Help:      "Total number of voice sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_sessions_active",
			Help:      "Number of voice sessions currently listening",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voice_session_duration_seconds",
			Help:      "Lifetime of voice sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		}),

		StreamsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_streams_total",
			Help:      "Total number of audio streams started",
		}),
		StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_streams_active",
			Help:      "Number of currently active audio streams",
		}),
		StreamsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_streams_success_total",
			Help:      "Total number of successfully completed audio streams",
		}),
		StreamsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_streams_failed_total",
			Help:      "Total number of failed audio streams",
		}),
		StreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_stream_duration_seconds",
			Help:      "Duration of audio streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		UtterancesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_created_total",
			Help:      "Total number of utterances opened",
		}),
		UtterancesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_completed_total",
			Help:      "Total number of utterances completed with a final transcript",
		}),
		UtterancesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_dropped_total",
			Help:      "Total number of utterances dropped",
		}, []string{"reason"}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of interim transcripts received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),

		Classifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Final transcripts classified, by intent kind and reason",
		}, []string{"kind", "reason"}),
		Dispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Intents applied to the storefront, by action",
		}, []string{"action"}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time from final transcript to storefront outcome",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		CartItemsAdded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_items_added_total",
			Help:      "Units added to carts, by source",
		}, []string{"source"}),
		AuthEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Account operations, by event and result",
		}, []string{"event", "result"}),
		CatalogReloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_reloads_total",
			Help:      "Catalog file reloads, by result",
		}, []string{"result"}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		STTLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_latency_seconds",
			Help:      "Speech-to-text processing latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider", "type"}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),
		STTUtteranceCount: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_utterances_total",
			Help:      "Total number of end-of-utterance events from the recognizer",
		}),

		LimitExceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterance_limit_exceeded_total",
			Help:      "Total number of times utterance limits were exceeded",
		}, []string{"limit_type"}),

		RPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of unary gRPC requests",
		}, []string{"method", "code"}),
		RPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "Unary gRPC request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP API requests",
		}, []string{"method", "route", "status"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		WebSocketActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of open transcript WebSocket connections",
		}),
	}
}

// RecordSessionStart records a voice session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a voice session stopping.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordStreamStart records a new audio stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records an audio stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

func (m *Metrics) RecordUtteranceCreated() {
	m.UtterancesCreated.Inc()
}

func (m *Metrics) RecordUtteranceCompleted() {
	m.UtterancesCompleted.Inc()
}

func (m *Metrics) RecordUtteranceDropped(reason string) {
	m.UtterancesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordClassification records one interpreter decision. reason is empty
// for recognized intents.
func (m *Metrics) RecordClassification(kind, reason string) {
	m.Classifications.WithLabelValues(kind, reason).Inc()
}

// RecordDispatch records an outcome applied to the storefront.
func (m *Metrics) RecordDispatch(action string, latencySeconds float64) {
	m.Dispatches.WithLabelValues(action).Inc()
	m.DispatchLatency.Observe(latencySeconds)
}

// RecordCartAdd records units added to a cart; source is "voice" or "api".
func (m *Metrics) RecordCartAdd(source string, quantity int) {
	m.CartItemsAdded.WithLabelValues(source).Add(float64(quantity))
}

// RecordAuth records an account operation.
func (m *Metrics) RecordAuth(event string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AuthEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) RecordCatalogReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CatalogReloads.WithLabelValues(result).Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTLatency records how long a recognizer took to produce a result.
func (m *Metrics) RecordSTTLatency(provider, resultType string, seconds float64) {
	m.STTLatency.WithLabelValues(provider, resultType).Observe(seconds)
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordUtterance records an utterance boundary detection.
func (m *Metrics) RecordUtterance() {
	m.STTUtteranceCount.Inc()
}

// RecordLimitExceeded records when an utterance limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.LimitExceeded.WithLabelValues(limitType).Inc()
}

// RecordRPC records a completed gRPC call or stream.
func (m *Metrics) RecordRPC(method, code string, durationSeconds float64) {
	m.RPCRequests.WithLabelValues(method, code).Inc()
	m.RPCLatency.WithLabelValues(method).Observe(durationSeconds)
}

// RecordHTTPRequest records a completed HTTP API request. route is the
// matched route pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (m *Metrics) RecordWebSocketOpen() { m.WebSocketActive.Inc() }
func (m *Metrics) RecordWebSocketClose() { m.WebSocketActive.Dec() }
