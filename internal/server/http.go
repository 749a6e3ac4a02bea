package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-satellite/internal/config"
	"github.com/skypro1111/voice-satellite/internal/detector"
	"github.com/skypro1111/voice-satellite/internal/events"
	"github.com/skypro1111/voice-satellite/internal/metrics"
	"github.com/skypro1111/voice-satellite/internal/mute"
	"github.com/skypro1111/voice-satellite/internal/pipeline"
	"github.com/skypro1111/voice-satellite/internal/satellite"
	"github.com/skypro1111/voice-satellite/internal/session"
)

const (
	eventsWriteTimeout = 5 * time.Second
	eventsPingInterval = 30 * time.Second
)

// Controller is the part of the satellite the monitor API drives
type Controller interface {
	Status() satellite.Status
	Listen() error
	Stop() error
	SetMute(muted bool) error
}

// HTTPDeps holds the components the monitor API reports on.
// Only Satellite, State and Metrics are required.
type HTTPDeps struct {
	Satellite Controller
	State     *session.State
	Registry  *detector.Registry
	Pipeline  *pipeline.Coordinator
	Mute      *mute.Synchronizer
	API       *TCPServer
	Events    *events.Bus
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

// HTTPServer provides HTTP API endpoints for monitoring and manual control
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	deps     HTTPDeps
	upgrader websocket.Upgrader
	version  string

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, version string, deps HTTPDeps, logger *slog.Logger) *HTTPServer {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:  logger,
		config:  appConfig,
		deps:    deps,
		version: version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,

			// the monitor binds to loopback by default
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/wakewords", h.withMetrics("/wakewords", h.handleWakeWords))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// manual actions
	mux.HandleFunc("/listen", h.withMetrics("/listen", h.handleListen))
	mux.HandleFunc("/stop", h.withMetrics("/stop", h.handleStop))
	mux.HandleFunc("/mute", h.withMetrics("/mute", h.handleMute))

	// long-lived, so not timed
	mux.HandleFunc("/events", h.handleEvents)

	mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)
		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to encode response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.deps.Satellite.Status()
	components := map[string]interface{}{
		"satellite": map[string]interface{}{
			"phase":     status.Phase,
			"connected": status.Connected,
		},
	}
	if h.deps.API != nil {
		api := h.deps.API.GetStatistics()
		components["api_server"] = map[string]interface{}{
			"status":   "running",
			"address":  api.Address,
			"accepted": api.Accepted,
		}
	}
	if h.deps.Pipeline != nil {
		ps := h.deps.Pipeline.GetStats()
		components["audio_pipeline"] = map[string]interface{}{
			"frames_processed": ps.FramesProcessed,
			"frame_errors":     ps.FrameErrors,
			"last_frame":       ps.LastFrame,
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    h.config.Server.Name,
			"version": h.version,
		},
		"components": components,
	})
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.deps.Satellite.Status())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.config.Redacted()
	sanitized := map[string]interface{}{
		"server": map[string]interface{}{
			"name":          cfg.Server.Name,
			"friendly_name": cfg.Server.FriendlyName,
			"host":          cfg.Server.Host,
			"port":          cfg.Server.Port,
			"mac_address":   cfg.Server.MACAddress,
		},
		"audio": map[string]interface{}{
			"input_device":   cfg.Audio.InputDevice,
			"capture_format": cfg.Audio.CaptureFormat,
			"sample_rate":    cfg.Audio.SampleRate,
			"block_size":     cfg.Audio.BlockSize,
			"output_device":  cfg.Audio.OutputDevice,
			"duck_ratio":     cfg.Audio.DuckRatio,
		},
		"wake_word": map[string]interface{}{
			"model_dirs":         cfg.WakeWord.ModelDirs,
			"default_model":      cfg.WakeWord.DefaultModel,
			"stop_model":         cfg.WakeWord.StopModel,
			"download_dir":       cfg.WakeWord.DownloadDir,
			"refractory_seconds": cfg.WakeWord.RefractorySeconds,
			"disable_during_tts": cfg.WakeWord.DisableDuringTTS,
			"max_active":         cfg.WakeWord.MaxActive,
		},
		"session": map[string]interface{}{
			"sensor_clear_delay":      cfg.Session.SensorClearDelay,
			"timer_repeat_interval":   cfg.Session.TimerRepeatInterval,
			"connection_idle_timeout": cfg.Session.ConnectionIdleTimeout,
		},
		"mute": map[string]interface{}{
			"flag_path":     cfg.Mute.FlagPath,
			"poll_interval": cfg.Mute.PollInterval,
			"watch":         cfg.Mute.Watch,
		},
		"history": map[string]interface{}{
			"log_path":    cfg.History.LogPath,
			"sync_lines":  cfg.History.SyncLines,
			"ha_base_url": cfg.History.HABaseURL,
			"ha_token":    cfg.History.HAToken,
			"ha_entity":   cfg.History.HAEntity,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitized)
}

type wakeWordInfo struct {
	ID               string          `json:"id"`
	WakeWord         string          `json:"wake_word"`
	Kind             detector.Kind   `json:"kind"`
	TrainedLanguages []string        `json:"trained_languages,omitempty"`
	Active           bool            `json:"active"`
	Loaded           bool            `json:"loaded"`
	Stats            *detector.Stats `json:"stats,omitempty"`
}

// handleWakeWords implements the /wakewords endpoint
func (h *HTTPServer) handleWakeWords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Registry == nil {
		http.Error(w, "Wake word registry unavailable", http.StatusServiceUnavailable)
		return
	}

	stats := make(map[string]detector.Stats)
	for _, st := range h.deps.Registry.Stats() {
		stats[st.ID] = st
	}

	models := h.deps.Registry.Models()
	infos := make([]wakeWordInfo, 0, len(models))
	for _, m := range models {
		info := wakeWordInfo{
			ID:               m.ID,
			WakeWord:         m.WakeWord,
			Kind:             m.Kind,
			TrainedLanguages: m.TrainedLanguages,
			Active:           h.deps.State.IsWakeWordActive(m.ID),
			Loaded:           h.deps.Registry.IsLoaded(m.ID),
		}
		if st, ok := stats[m.ID]; ok {
			info.Stats = &st
		}
		infos = append(infos, info)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":     h.deps.State.ActiveWakeWords(),
		"max_active": h.config.WakeWord.MaxActive,
		"wake_words": infos,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.deps.Satellite.Status()
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"turns": map[string]interface{}{
			"started":  status.TurnsStarted,
			"finished": status.TurnsFinished,
		},
		"playback": status.Playback,
	}
	if h.deps.API != nil {
		stats["api"] = h.deps.API.GetStatistics()
	}
	if h.deps.Pipeline != nil {
		stats["pipeline"] = h.deps.Pipeline.GetStats()
	}
	if h.deps.Mute != nil {
		stats["mute"] = h.deps.Mute.GetStats()
	}
	if h.deps.Events != nil {
		stats["events"] = map[string]interface{}{
			"subscribers": h.deps.Events.Subscribers(),
			"dropped":     h.deps.Events.Dropped(),
		}
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleListen implements POST /listen
func (h *HTTPServer) handleListen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.postAction(w, "listen", h.deps.Satellite.Listen())
}

// handleStop implements POST /stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.postAction(w, "stop", h.deps.Satellite.Stop())
}

// handleMute implements POST /mute with a {"muted": bool} body
func (h *HTTPServer) handleMute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Muted *bool `json:"muted"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil || req.Muted == nil {
		http.Error(w, `Body must be {"muted": true|false}`, http.StatusBadRequest)
		return
	}

	h.postAction(w, "mute", h.deps.Satellite.SetMute(*req.Muted))
}

func (h *HTTPServer) postAction(w http.ResponseWriter, action string, err error) {
	if err != nil {
		h.logger.Warn("Manual action rejected",
			slog.String("action", action),
			slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	h.logger.Info("Manual action accepted", slog.String("action", action))
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"action":   action,
		"accepted": true,
	})
}

// handleEvents streams satellite events over a websocket until the client goes away
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		http.Error(w, "Event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub := h.deps.Events.Subscribe()
	defer sub.Cancel()

	logger := h.logger.With(slog.String("remote_addr", r.RemoteAddr))
	logger.Info("Event stream subscriber connected")

	// reads only detect the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Info("Event stream subscriber disconnected")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("Failed to write event", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Voice Satellite",
		"version": h.version,
		"endpoints": map[string]interface{}{
			"GET /":          "API documentation",
			"GET /health":    "Service health check",
			"GET /status":    "Turn phase, connection and session flags",
			"GET /config":    "Service configuration, secrets redacted",
			"GET /wakewords": "Wake word catalog and active set",
			"GET /stats":     "Service statistics",
			"GET /metrics":   "Prometheus metrics",
			"GET /events":    "Websocket stream of satellite events",
			"POST /listen":   "Start a turn without a wake word",
			"POST /stop":     "Stop the current response or timer",
			"POST /mute":     `Set mute, body {"muted": bool}`,
		},
		"timestamp": time.Now().UTC(),
	})
}
