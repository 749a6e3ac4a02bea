package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/voice-satellite/internal/audio"
	"github.com/skypro1111/voice-satellite/internal/detector"
	"github.com/skypro1111/voice-satellite/internal/metrics"
	"github.com/skypro1111/voice-satellite/internal/session"
)

// Activation is an accepted wake word detection
type Activation struct {
	ID       string
	WakeWord string
	At       time.Time
}

// Events receives detections. Implementations must hand work to their own
// goroutine and return promptly.
type Events interface {
	WakeDetected(a Activation)
	StopDetected()
}

// AudioSink receives frames while a turn is streaming
type AudioSink interface {
	SendAudio(data []byte)
}

// DetectorSource builds the detector set for a list of wake word ids
type DetectorSource interface {
	Detectors(ids []string) []detector.Detector
}

// MutePoller reconciles the shared mute flag on its own cadence
type MutePoller interface {
	MaybePoll(now time.Time) bool
}

// Config contains pipeline parameters
type Config struct {
	QueueSize        int // frames buffered between capture and detection
	DisableDuringTTS bool
}

// Coordinator drives detection for every captured frame
type Coordinator struct {
	config    Config
	state     *session.State
	detectors DetectorSource
	stop      detector.Detector
	mute      MutePoller
	events    Events
	sink      AudioSink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	// Owned by the processing goroutine
	active      []detector.Detector
	initialized bool

	// Statistics
	framesProcessed uint64
	framesForwarded uint64
	frameErrors     uint64
	wakeAccepted    uint64
	wakeRejected    uint64
	stopAccepted    uint64
	rebuilds        uint64
	lastFrame       time.Time

	mu sync.RWMutex
}

// Stats represents coordinator statistics
type Stats struct {
	FramesProcessed uint64    `json:"frames_processed"`
	FramesForwarded uint64    `json:"frames_forwarded"`
	FrameErrors     uint64    `json:"frame_errors"`
	WakeAccepted    uint64    `json:"wake_accepted"`
	WakeRejected    uint64    `json:"wake_rejected"`
	StopAccepted    uint64    `json:"stop_accepted"`
	Rebuilds        uint64    `json:"detector_rebuilds"`
	ActiveDetectors []string  `json:"active_detectors"`
	LastFrame       time.Time `json:"last_frame"`
}

// NewCoordinator creates a new pipeline coordinator. stop and mute may be nil.
func NewCoordinator(config Config, state *session.State, detectors DetectorSource, stop detector.Detector,
	mute MutePoller, events Events, sink AudioSink, logger *slog.Logger) *Coordinator {
	if config.QueueSize <= 0 {
		config.QueueSize = 32
	}

	return &Coordinator{
		config:    config,
		state:     state,
		detectors: detectors,
		stop:      stop,
		mute:      mute,
		events:    events,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

// SetMetrics attaches Prometheus metrics
func (c *Coordinator) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Run reads frames from source until ctx is cancelled or capture fails.
// Capture runs on its own goroutine so a slow detector never stalls the device read.
// A capture failure is returned and is fatal for the process.
func (c *Coordinator) Run(ctx context.Context, source audio.Source) error {
	frames := make(chan *audio.Frame, c.config.QueueSize)
	captureErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			// nil frame tells the processing loop capture has ended
			frames <- nil
		}()

		for {
			frame, err := source.ReadFrame()
			if err != nil {
				captureErr <- err
				return
			}

			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			default:
				c.logger.Warn("Dropping audio frame, detection is falling behind")
			}
		}
	}()

	c.logger.Info("Audio pipeline started")

	var err error
	stopped := false
	for !stopped {
		select {
		case <-ctx.Done():
			stopped = true
		case frame := <-frames:
			if frame == nil {
				stopped = true
				break
			}
			c.safeProcess(frame)
		}
	}

	if stopErr := source.Stop(); stopErr != nil {
		c.logger.Warn("Failed to stop audio capture", slog.String("error", stopErr.Error()))
	}

	// Drain so the reader can deliver its sentinel and exit
	go func() {
		for range frames {
		}
	}()
	wg.Wait()
	close(frames)

	select {
	case err = <-captureErr:
	default:
	}

	if ctx.Err() != nil {
		c.logger.Info("Audio pipeline stopped")
		return nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("audio capture failed: %w", err)
}

// safeProcess isolates per-frame failures so the loop keeps running
func (c *Coordinator) safeProcess(frame *audio.Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.recordFrameError()
			c.logger.Error("Unexpected error handling audio", slog.Any("panic", r))
		}
	}()
	c.ProcessFrame(frame)
}

// ProcessFrame runs the per-frame algorithm on one frame
func (c *Coordinator) ProcessFrame(frame *audio.Frame) {
	start := c.now()

	if c.mute != nil {
		c.mute.MaybePoll(start)
	}

	// Detection still runs while muted so a muted wake can be reported
	forwarded := false
	if c.state.Streaming() && c.sink != nil {
		c.sink.SendAudio(frame.Data)
		forwarded = true
	}

	if !c.initialized || c.state.TakeWakeWordsChanged() {
		c.rebuild()
	}

	skipWake := c.config.DisableDuringTTS && c.state.Speaking()
	for _, d := range c.active {
		if skipWake {
			break
		}

		activated, err := d.ProcessFrame(frame.Samples)
		if err != nil {
			c.recordFrameError()
			c.logger.Error("Wake word detector failed",
				slog.String("wake_word_id", d.ID()),
				slog.String("error", err.Error()))
			continue
		}
		if !activated {
			continue
		}

		now := c.now()
		if !c.state.Refractory.TryAccept(now) {
			c.mu.Lock()
			c.wakeRejected++
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.RecordWakeRefractory()
			}
			c.logger.Debug("Wake word inside refractory window", slog.String("wake_word_id", d.ID()))
			continue
		}

		c.mu.Lock()
		c.wakeAccepted++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordWakeActivation(d.ID())
		}

		c.events.WakeDetected(Activation{ID: d.ID(), WakeWord: d.WakeWord(), At: now})
	}

	// The stop detector always sees audio to keep its window state current
	if c.stop != nil {
		activated, err := c.stop.ProcessFrame(frame.Samples)
		if err != nil {
			c.recordFrameError()
			c.logger.Error("Stop word detector failed", slog.String("error", err.Error()))
		} else if activated && c.state.StopArmed() {
			c.mu.Lock()
			c.stopAccepted++
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.RecordStopActivation()
			}
			c.events.StopDetected()
		}
	}

	c.mu.Lock()
	c.framesProcessed++
	if forwarded {
		c.framesForwarded++
	}
	c.lastFrame = start
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordFrame(forwarded, c.now().Sub(start).Seconds())
	}
}

// rebuild swaps in the detector set for the current active wake words
func (c *Coordinator) rebuild() {
	ids := c.state.ActiveWakeWords()
	active := c.detectors.Detectors(ids)

	c.mu.Lock()
	c.active = active
	c.initialized = true
	c.rebuilds++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordDetectorRebuild(len(active))
	}

	c.logger.Debug("Active wake words updated",
		slog.Any("requested", ids),
		slog.Int("loaded", len(active)))
}

func (c *Coordinator) recordFrameError() {
	c.mu.Lock()
	c.frameErrors++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordFrameError()
	}
}

// GetStats returns current coordinator statistics
func (c *Coordinator) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := make([]string, 0, len(c.active))
	for _, d := range c.active {
		active = append(active, d.ID())
	}

	return Stats{
		FramesProcessed: c.framesProcessed,
		FramesForwarded: c.framesForwarded,
		FrameErrors:     c.frameErrors,
		WakeAccepted:    c.wakeAccepted,
		WakeRejected:    c.wakeRejected,
		StopAccepted:    c.stopAccepted,
		Rebuilds:        c.rebuilds,
		ActiveDetectors: active,
		LastFrame:       c.lastFrame,
	}
}
