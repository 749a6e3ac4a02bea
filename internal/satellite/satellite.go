package satellite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/voice-satellite/internal/audio"
	"github.com/skypro1111/voice-satellite/internal/detector"
	"github.com/skypro1111/voice-satellite/internal/display"
	"github.com/skypro1111/voice-satellite/internal/entity"
	"github.com/skypro1111/voice-satellite/internal/events"
	"github.com/skypro1111/voice-satellite/internal/history"
	"github.com/skypro1111/voice-satellite/internal/metrics"
	"github.com/skypro1111/voice-satellite/internal/pipeline"
	"github.com/skypro1111/voice-satellite/internal/playback"
	"github.com/skypro1111/voice-satellite/internal/protocol"
	"github.com/skypro1111/voice-satellite/internal/session"
)

// ErrStopped is returned by the control API once the event loop has exited
var ErrStopped = errors.New("satellite stopped")

// Phase is the turn state of the session handler
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStreaming
	PhaseAwaitingResponse
	PhaseResponding
	PhaseAnnouncing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStreaming:
		return "streaming"
	case PhaseAwaitingResponse:
		return "awaiting_response"
	case PhaseResponding:
		return "responding"
	case PhaseAnnouncing:
		return "announcing"
	default:
		return "unknown"
	}
}

// Config contains session handler parameters
type Config struct {
	Name               string
	FriendlyName       string
	MACAddress         string
	Version            string
	WakeupSound        string
	TimerFinishedSound string
	SensorClearDelay   time.Duration
	TimerRepeat        time.Duration
	IdleTimeout        time.Duration
	MaxActiveWakeWords int
	DownloadDir        string
	RestartCommand     string
	Volume             int // percent
	QueueSize          int
}

// MuteController persists locally initiated mute changes
type MuteController interface {
	Set(muted bool) (bool, error)
}

// Fetcher makes external wake words available locally
type Fetcher interface {
	FetchExternal(ctx context.Context, ext *protocol.VoiceAssistantExternalWakeWord, downloadDir string) (detector.Model, error)
}

// Preferences stores the active wake words and friendly names
type Preferences interface {
	SetActiveWakeWords(ids []string) error
	FriendlyName(id, fallback string) string
}

// Deps are the collaborators of the session handler. State, Registry, TTS,
// Music and Mute are required; the rest may be nil.
type Deps struct {
	State       *session.State
	Registry    *detector.Registry
	TTS         audio.Player
	Music       audio.Player
	Mute        MuteController
	Prefs       Preferences
	Fetcher     Fetcher
	History     *history.Log
	HistorySync *history.Syncer
	Display     display.Controller
	Events      *events.Bus
	Metrics     *metrics.Metrics
}

// Satellite is the session protocol handler
type Satellite struct {
	config   Config
	state    *session.State
	registry *detector.Registry
	seq      *playback.Sequencer
	mute     MuteController
	prefs    Preferences
	fetcher  Fetcher
	history  *history.Log
	syncer   *history.Syncer
	display  display.Controller
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	events   chan event
	done     chan struct{}
	doneOnce sync.Once
	ctx      context.Context
	nextConn atomic.Uint64

	// Read by the audio goroutine
	audioConn atomic.Pointer[connection]

	// Owned by the event loop
	conn            *connection
	entities        *entity.Set
	mediaPlayer     *entity.MediaPlayer
	sttSensor       *entity.TextSensor
	ttsSensor       *entity.TextSensor
	assistantSensor *entity.TextSensor
	muteSwitch      *entity.Switch
	listenButton    *entity.Button
	restartButton   *entity.Button

	phase          Phase
	turnStarted    time.Time
	ttsURL         string
	ttsPlayed      bool
	conversationID string
	assistantName  string
	responseToken  uint64
	clearGen       uint64
	timerGen       uint64
	configGen      uint64
	externals      map[string]protocol.VoiceAssistantExternalWakeWord

	statusMu sync.RWMutex
	status   Status
}

// Status is a point-in-time view of the session handler
type Status struct {
	Phase          string           `json:"phase"`
	Connected      bool             `json:"connected"`
	Remote         string           `json:"remote,omitempty"`
	ConnectedAt    time.Time        `json:"connected_at,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Assistant      string           `json:"assistant,omitempty"`
	TurnsStarted   uint64           `json:"turns_started"`
	TurnsFinished  uint64           `json:"turns_finished"`
	Session        session.Snapshot `json:"session"`
	Playback       playback.Stats   `json:"playback"`
}

// New creates the session handler
func New(config Config, deps Deps, logger *slog.Logger) (*Satellite, error) {
	if deps.State == nil || deps.Registry == nil {
		return nil, fmt.Errorf("state and registry are required")
	}
	if deps.TTS == nil || deps.Music == nil {
		return nil, fmt.Errorf("tts and music players are required")
	}
	if deps.Mute == nil {
		return nil, fmt.Errorf("mute controller is required")
	}

	if config.Name == "" {
		config.Name = "voice-satellite"
	}
	if config.FriendlyName == "" {
		config.FriendlyName = config.Name
	}
	if config.SensorClearDelay <= 0 {
		config.SensorClearDelay = 5 * time.Second
	}
	if config.TimerRepeat <= 0 {
		config.TimerRepeat = time.Second
	}
	if config.MaxActiveWakeWords <= 0 {
		config.MaxActiveWakeWords = 2
	}
	if config.Volume <= 0 {
		config.Volume = 100
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}

	s := &Satellite{
		config:    config,
		state:     deps.State,
		registry:  deps.Registry,
		mute:      deps.Mute,
		prefs:     deps.Prefs,
		fetcher:   deps.Fetcher,
		history:   deps.History,
		syncer:    deps.HistorySync,
		display:   deps.Display,
		bus:       deps.Events,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       time.Now,
		events:    make(chan event, config.QueueSize),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		externals: make(map[string]protocol.VoiceAssistantExternalWakeWord),
	}

	if s.display == nil {
		s.display = display.Noop{}
	}
	if s.bus == nil {
		s.bus = events.NewBus(0)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}

	s.seq = playback.NewSequencer(deps.TTS, deps.Music, deps.State, func(c playback.Completion) {
		s.post(completionEvent{c: c})
	}, logger)

	s.entities = entity.NewSet(config.Name)
	s.mediaPlayer = s.entities.AddMediaPlayer("linux_voice_assistant_media_player", "Media Player", float32(config.Volume)/100)
	s.ttsSensor = s.entities.AddTextSensor("active_tts", "Active TTS", "mdi:account-voice")
	s.sttSensor = s.entities.AddTextSensor("active_stt", "Active STT", "mdi:text-to-speech")
	s.assistantSensor = s.entities.AddTextSensor("active_assistant", "Active Assistant", "mdi:robot")
	s.listenButton = s.entities.AddButton("assistant_push_to_talk", "Push to Talk", "mdi:microphone")
	s.muteSwitch = s.entities.AddSwitch("assistant_mute", "Assistant Mute", "mdi:microphone-off", deps.State.SoftwareMute())
	s.restartButton = s.entities.AddButton("assistant_restart", "Assistant Restart", "mdi:restart")

	s.updateStatus()
	return s, nil
}

// Run processes events until ctx is cancelled
func (s *Satellite) Run(ctx context.Context) error {
	s.ctx = ctx
	defer s.doneOnce.Do(func() { close(s.done) })

	s.logger.Info("Satellite ready",
		slog.String("name", s.config.Name),
		slog.Any("active_wake_words", s.state.ActiveWakeWords()))

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

func (s *Satellite) shutdown() {
	s.logger.Info("Satellite shutting down")
	if s.conn != nil {
		s.conn.close()
		s.conn = nil
		s.audioConn.Store(nil)
	}
	s.state.SetStreaming(false)
	s.seq.Stop()
	s.seq.StopMedia()
	s.updateStatus()
}

// post hands an event to the loop, blocking while the queue is full
func (s *Satellite) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// tryPost hands an event to the loop without blocking; used from the audio goroutine
func (s *Satellite) tryPost(ev event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		s.logger.Warn("Satellite event queue full, dropping event", slog.String("event", fmt.Sprintf("%T", ev)))
		return false
	}
}

var _ pipeline.Events = (*Satellite)(nil)
var _ pipeline.AudioSink = (*Satellite)(nil)

// WakeDetected is called by the audio pipeline for an accepted activation
func (s *Satellite) WakeDetected(a pipeline.Activation) {
	s.tryPost(wakeEvent{activation: a})
}

// StopDetected is called by the audio pipeline when the armed stop word fires
func (s *Satellite) StopDetected() {
	s.tryPost(stopEvent{source: "stop_word"})
}

// MuteChanged is called by the mute synchronizer when the shared flag changed externally
func (s *Satellite) MuteChanged(muted bool) {
	s.tryPost(muteChangedEvent{muted: muted, source: "shared_flag"})
}

// SendAudio forwards one microphone frame while a turn is streaming
func (s *Satellite) SendAudio(data []byte) {
	if !s.state.Streaming() {
		return
	}
	c := s.audioConn.Load()
	if c == nil {
		return
	}
	if err := c.send(&protocol.VoiceAssistantAudio{Data: data}); err != nil {
		s.logger.Debug("Failed to send audio", slog.String("error", err.Error()))
	}
}

// Listen starts a turn as if the push to talk button was pressed
func (s *Satellite) Listen() error {
	if !s.post(listenEvent{}) {
		return ErrStopped
	}
	return nil
}

// Stop silences a finished timer or ends the current turn
func (s *Satellite) Stop() error {
	if !s.post(stopEvent{source: "manual"}) {
		return ErrStopped
	}
	return nil
}

// SetMute changes the mute state through the same path as the hub switch
func (s *Satellite) SetMute(muted bool) error {
	if !s.post(setMuteEvent{muted: muted}) {
		return ErrStopped
	}
	return nil
}

// Attach takes ownership of a hub connection. A previous connection is replaced.
func (s *Satellite) Attach(nc net.Conn) {
	c := newConnection(s.nextConn.Add(1), nc, s.metrics, s.logger)
	if !s.post(connectedEvent{conn: c}) {
		c.close()
		return
	}
	go s.readLoop(c)
}

func (s *Satellite) readLoop(c *connection) {
	for {
		if s.config.IdleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		msg, err := protocol.ReadMessage(c.reader)
		if err != nil {
			s.post(disconnectedEvent{conn: c, err: err})
			return
		}

		s.metrics.RecordMessageReceived(messageName(msg))
		if !s.post(messageEvent{conn: c, msg: msg}) {
			return
		}
	}
}

// Status returns the current handler status
func (s *Satellite) Status() Status {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()

	status.Session = s.state.Snapshot()
	status.Playback = s.seq.GetStats()
	return status
}

func (s *Satellite) updateStatus() {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	s.status.Phase = s.phase.String()
	s.status.Connected = s.conn != nil
	s.status.Remote = ""
	s.status.ConnectedAt = time.Time{}
	if s.conn != nil {
		s.status.Remote = s.conn.remote
		s.status.ConnectedAt = s.conn.connectedAt
	}
	s.status.ConversationID = s.conversationID
	s.status.Assistant = s.assistantName
}

func (s *Satellite) setPhase(p Phase) {
	if s.phase == p {
		return
	}
	s.logger.Debug("Turn phase changed",
		slog.String("from", s.phase.String()),
		slog.String("to", p.String()))
	s.phase = p
	s.updateStatus()
}

// emit logs an observable event and publishes it to local subscribers
func (s *Satellite) emit(t events.Type, data map[string]any) {
	s.logger.Info("LVA_EVENT: " + string(t))
	s.bus.Publish(t, data)
}
