package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice satellite
type Metrics struct {
	// Audio pipeline metrics
	FramesProcessed     prometheus.Counter
	FramesForwarded     prometheus.Counter
	FrameErrors         prometheus.Counter
	FrameProcessingTime prometheus.Histogram

	// Detection metrics
	WakeActivations  *prometheus.CounterVec
	WakeRefractory   prometheus.Counter
	WakeWhileMuted   prometheus.Counter
	StopActivations  prometheus.Counter
	ActiveDetectors  prometheus.Gauge
	DetectorRebuilds prometheus.Counter

	// Session metrics
	Connections      prometheus.Counter
	ConnectionActive prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	ProtocolErrors   prometheus.Counter
	TurnsStarted     prometheus.Counter
	TurnsFinished    *prometheus.CounterVec
	TurnDuration     prometheus.Histogram

	// Mute metrics
	MuteChanges *prometheus.CounterVec
	Muted       prometheus.Gauge

	// Download and sync metrics
	Downloads        *prometheus.CounterVec
	DownloadDuration prometheus.Histogram
	HistorySyncs     *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Audio pipeline metrics
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lvas_audio_frames_processed_total",
			Help: "Total number of captured audio frames processed",
		}),
		FramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "lvas_audio_frames_forwarded_total",
			Help: "Total number of audio frames streamed to the controller",
		}),
		FrameErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "lvas_audio_frame_errors_total",
			Help: "Total number of frames whose processing failed",
		}),
		FrameProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lvas_audio_frame_processing_seconds",
			Help:    "Time spent running detectors on one frame",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms to ~250ms
		}),

		// Detection metrics
		WakeActivations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lvas_wake_activations_total",
			Help: "Total number of accepted wake word activations",
		}, []string{"wake_word"}),
		WakeRefractory: factory.NewCounter(prometheus.CounterOpts{
			Name: "lvas_wake_refractory_rejections_total",
			Help: "Total number of activations dropped inside the refractory window",
		}),
		WakeWhileMuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "lvas_wake_while_muted_total",
			Help: "Total number of wake words heard while muted",
		}),
		StopActivations: factory.NewCounter(prometheus.CounterOpts{
			Name: "lvas_stop_activations_total",
			Help: "Total number of stop word activations while armed",
		}),
		ActiveDetectors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lvas_active_detectors",
			Help: "Current number of active wake word detectors",
		}),
		DetectorRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "lvas_detector_rebuilds_total",
			Help: "Total number of active detector set rebuilds",
		}),

		// Session metrics
		Connections: factory.NewCounter(prometheus.CounterOpts{
			Name: "lvas_connections_total",
			Help: "Total number of accepted controller connections",
		}),
		ConnectionActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lvas_connection_active",
			Help: "Whether a controller is currently connected",
		}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lvas_messages_received_total",
			Help: "Total number of protocol messages received",
		}, []string{"type"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lvas_messages_sent_total",
			Help: "Total number of protocol messages sent",
		}, []string{"type"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "lvas_protocol_errors_total",
			Help: "Total number of framing or decode errors",
		}),
		TurnsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "lvas_turns_started_total",
			Help: "Total number of conversation turns started",
		}),
		TurnsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lvas_turns_finished_total",
			Help: "Total number of conversation turns finished",
		}, []string{"reason"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lvas_turn_duration_seconds",
			Help:    "Duration of conversation turns",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),

		// Mute metrics
		MuteChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lvas_mute_changes_total",
			Help: "Total number of mute state changes",
		}, []string{"source"}),
		Muted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lvas_muted",
			Help: "Whether the microphone is software muted",
		}),

		// Download and sync metrics
		Downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lvas_wake_word_downloads_total",
			Help: "Total number of external wake word fetches",
		}, []string{"result"}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lvas_wake_word_download_seconds",
			Help:    "Duration of external wake word fetches",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),
		HistorySyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lvas_history_syncs_total",
			Help: "Total number of history uploads to the home automation hub",
		}, []string{"result"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lvas_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lvas_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lvas_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrame records one processed frame
func (m *Metrics) RecordFrame(forwarded bool, processingTimeSeconds float64) {
	m.FramesProcessed.Inc()
	if forwarded {
		m.FramesForwarded.Inc()
	}
	m.FrameProcessingTime.Observe(processingTimeSeconds)
}

// RecordFrameError increments the frame errors counter
func (m *Metrics) RecordFrameError() {
	m.FrameErrors.Inc()
}

// RecordWakeActivation records an accepted wake word
func (m *Metrics) RecordWakeActivation(wakeWordID string) {
	m.WakeActivations.WithLabelValues(wakeWordID).Inc()
}

// RecordWakeRefractory increments the refractory rejection counter
func (m *Metrics) RecordWakeRefractory() {
	m.WakeRefractory.Inc()
}

// RecordWakeWhileMuted increments the muted wake counter
func (m *Metrics) RecordWakeWhileMuted() {
	m.WakeWhileMuted.Inc()
}

// RecordStopActivation increments the stop activations counter
func (m *Metrics) RecordStopActivation() {
	m.StopActivations.Inc()
}

// RecordDetectorRebuild records a rebuild of the active detector set
func (m *Metrics) RecordDetectorRebuild(count int) {
	m.DetectorRebuilds.Inc()
	m.ActiveDetectors.Set(float64(count))
}

// RecordConnectionOpened records an accepted controller connection
func (m *Metrics) RecordConnectionOpened() {
	m.Connections.Inc()
	m.ConnectionActive.Set(1)
}

// RecordConnectionClosed clears the active connection gauge
func (m *Metrics) RecordConnectionClosed() {
	m.ConnectionActive.Set(0)
}

// RecordMessageReceived records an inbound protocol message
func (m *Metrics) RecordMessageReceived(msgType string) {
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// RecordMessageSent records an outbound protocol message
func (m *Metrics) RecordMessageSent(msgType string) {
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

// RecordProtocolError increments the protocol errors counter
func (m *Metrics) RecordProtocolError() {
	m.ProtocolErrors.Inc()
}

// RecordTurnStarted increments the turns started counter
func (m *Metrics) RecordTurnStarted() {
	m.TurnsStarted.Inc()
}

// RecordTurnFinished records a finished turn and its duration
func (m *Metrics) RecordTurnFinished(reason string, durationSeconds float64) {
	m.TurnsFinished.WithLabelValues(reason).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordMuteChange records a mute change from the given source
func (m *Metrics) RecordMuteChange(source string, muted bool) {
	m.MuteChanges.WithLabelValues(source).Inc()
	if muted {
		m.Muted.Set(1)
	} else {
		m.Muted.Set(0)
	}
}

// RecordDownload records an external wake word fetch
func (m *Metrics) RecordDownload(success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.Downloads.WithLabelValues(result).Inc()
	m.DownloadDuration.Observe(durationSeconds)
}

// RecordHistorySync records a history upload attempt
func (m *Metrics) RecordHistorySync(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.HistorySyncs.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
