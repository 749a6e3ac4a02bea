package satellite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"time"

	"github.com/samber/lo"

	"github.com/skypro1111/voice-satellite/internal/detector"
	"github.com/skypro1111/voice-satellite/internal/events"
	"github.com/skypro1111/voice-satellite/internal/pipeline"
	"github.com/skypro1111/voice-satellite/internal/playback"
	"github.com/skypro1111/voice-satellite/internal/protocol"
)

type event interface{}

type (
	wakeEvent        struct{ activation pipeline.Activation }
	stopEvent        struct{ source string }
	listenEvent      struct{}
	setMuteEvent     struct{ muted bool }
	muteChangedEvent struct {
		muted  bool
		source string
	}
	completionEvent   struct{ c playback.Completion }
	timerRepeatEvent  struct{ gen uint64 }
	clearSensorsEvent struct{ gen uint64 }
	connectedEvent    struct{ conn *connection }
	disconnectedEvent struct {
		conn *connection
		err  error
	}
	messageEvent struct {
		conn *connection
		msg  protocol.Message
	}
	wakeWordsResolvedEvent struct {
		gen    uint64
		active []string
	}
)

func (s *Satellite) dispatch(ev event) {
	switch e := ev.(type) {
	case wakeEvent:
		s.handleWake(e.activation)
	case stopEvent:
		s.handleStop(e.source)
	case listenEvent:
		s.handleListen()
	case setMuteEvent:
		s.applyMute(e.muted, "api")
	case muteChangedEvent:
		s.handleMuteChanged(e.muted, e.source)
	case completionEvent:
		s.handleCompletion(e.c)
	case timerRepeatEvent:
		s.handleTimerRepeat(e.gen)
	case clearSensorsEvent:
		s.handleClearSensors(e.gen)
	case connectedEvent:
		s.handleConnected(e.conn)
	case disconnectedEvent:
		s.handleDisconnected(e.conn, e.err)
	case messageEvent:
		if e.conn != s.conn {
			return
		}
		s.handleMessage(e.msg)
	case wakeWordsResolvedEvent:
		s.applyWakeWords(e.gen, e.active)
	default:
		s.logger.Warn("Unhandled satellite event", slog.Any("event", ev))
	}
}

func (s *Satellite) handleConnected(c *connection) {
	if s.conn != nil {
		old := s.conn
		old.logger.Info("Replacing hub connection")
		s.dropConnection()
		old.close()
	}

	s.conn = c
	s.audioConn.Store(c)
	s.metrics.RecordConnectionOpened()
	s.updateStatus()

	c.logger.Info("Hub connected")
	s.emit(events.Connected, map[string]any{"remote": c.remote})
}

func (s *Satellite) handleDisconnected(c *connection, err error) {
	c.close()
	if c != s.conn {
		return
	}

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		c.logger.Info("Hub connection lost", slog.String("error", err.Error()))
	} else {
		c.logger.Info("Hub disconnected")
	}
	s.dropConnection()
}

// dropConnection forgets the current connection and ends any active turn
func (s *Satellite) dropConnection() {
	remote := s.conn.remote
	s.conn = nil
	s.audioConn.Store(nil)

	s.state.SetContinueConversation(false)
	if s.phase != PhaseIdle {
		s.seq.Stop()
		s.finalize(reasonDisconnected)
	}
	s.state.SetStreaming(false)

	s.metrics.RecordConnectionClosed()
	s.updateStatus()
	s.emit(events.Disconnected, map[string]any{"remote": remote})
}

// send writes to the current connection; a failed write closes it
func (s *Satellite) send(msgs ...protocol.Message) {
	if s.conn == nil {
		return
	}
	if err := s.conn.send(msgs...); err != nil {
		s.conn.logger.Warn("Failed to send to hub", slog.String("error", err.Error()))
		s.conn.close()
	}
}

func (s *Satellite) handleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.HelloRequest:
		s.conn.logger.Info("Hub hello",
			slog.String("client", m.ClientInfo),
			slog.Int("api_major", int(m.APIVersionMajor)),
			slog.Int("api_minor", int(m.APIVersionMinor)))
		s.send(&protocol.HelloResponse{
			APIVersionMajor: protocol.APIVersionMajor,
			APIVersionMinor: protocol.APIVersionMinor,
			ServerInfo:      "voice-satellite " + s.config.Version,
			Name:            s.config.Name,
		})
	case *protocol.ConnectRequest:
		s.send(&protocol.ConnectResponse{})
	case *protocol.DisconnectRequest:
		s.send(&protocol.DisconnectResponse{})
		s.conn.close()
	case *protocol.PingRequest:
		s.send(&protocol.PingResponse{})
	case *protocol.DeviceInfoRequest:
		s.send(&protocol.DeviceInfoResponse{
			Name:           s.config.Name,
			FriendlyName:   s.config.FriendlyName,
			MACAddress:     s.config.MACAddress,
			ESPHomeVersion: s.config.Version,
			Model:          "Linux Voice Satellite",
			Manufacturer:   "voice-satellite",
			ProjectName:    "voice-satellite.linux",
			ProjectVersion: s.config.Version,
			VoiceAssistantFeatureFlags: protocol.FeatureVoiceAssistant |
				protocol.FeatureAPIAudio |
				protocol.FeatureAnnounce |
				protocol.FeatureStartConversation |
				protocol.FeatureTimers,
		})
	case *protocol.ListEntitiesRequest:
		s.send(s.entities.Describe()...)
	case *protocol.SubscribeStatesRequest:
		s.send(s.entities.States()...)
	case *protocol.SubscribeHomeAssistantStatesRequest:
		s.send(s.mediaPlayer.StateMessage())
	case *protocol.SubscribeVoiceAssistantRequest:
		s.conn.logger.Info("Hub subscribed to voice assistant", slog.Bool("subscribe", m.Subscribe))
	case *protocol.MediaPlayerCommandRequest:
		s.handleMediaPlayerCommand(m)
	case *protocol.SwitchCommandRequest:
		if m.Key == s.muteSwitch.Key() {
			s.applyMute(m.State, "hub")
		}
	case *protocol.ButtonCommandRequest:
		switch m.Key {
		case s.listenButton.Key():
			s.handleListen()
		case s.restartButton.Key():
			s.restart()
		}
	case *protocol.VoiceAssistantResponse:
		if m.Error {
			s.logger.Warn("Hub rejected voice assistant request")
		}
	case *protocol.VoiceAssistantEventResponse:
		s.handleVoiceEvent(m)
	case *protocol.VoiceAssistantAnnounceRequest:
		s.handleAnnounce(m)
	case *protocol.VoiceAssistantTimerEventResponse:
		s.handleTimerEvent(m)
	case *protocol.VoiceAssistantConfigurationRequest:
		s.handleConfigurationRequest(m)
	case *protocol.VoiceAssistantSetConfiguration:
		s.handleSetConfiguration(m)
	default:
		s.conn.logger.Debug("Ignoring message", slog.String("type", messageName(msg)))
	}
}

func (s *Satellite) handleMediaPlayerCommand(m *protocol.MediaPlayerCommandRequest) {
	if m.Key != s.mediaPlayer.Key() {
		return
	}

	switch {
	case m.HasMediaURL:
		if m.HasAnnouncement && m.Announcement {
			token := s.seq.PlayAnnouncement(m.MediaURL)
			if s.phase == PhaseResponding || s.phase == PhaseAnnouncing {
				// the turn's own playback was replaced, its completion now comes from this one
				s.responseToken = token
			}
		} else {
			s.seq.PlayMedia(m.MediaURL)
		}
		s.send(s.mediaPlayer.SetState(protocol.MediaPlayerStatePlaying))
	case m.HasCommand:
		switch m.Command {
		case protocol.MediaPlayerCommandPause:
			s.seq.PauseMedia()
			s.send(s.mediaPlayer.SetState(protocol.MediaPlayerStatePaused))
		case protocol.MediaPlayerCommandPlay:
			s.seq.ResumeMedia()
			s.send(s.mediaPlayer.SetState(protocol.MediaPlayerStatePlaying))
		case protocol.MediaPlayerCommandStop:
			s.seq.StopMedia()
			s.send(s.mediaPlayer.SetState(protocol.MediaPlayerStateIdle))
		case protocol.MediaPlayerCommandMute:
			s.seq.SetVolume(0)
			s.send(s.mediaPlayer.SetMuted(true))
		case protocol.MediaPlayerCommandUnmute:
			s.seq.SetVolume(int(s.mediaPlayer.Volume() * 100))
			s.send(s.mediaPlayer.SetMuted(false))
		}
	case m.HasVolume:
		msg := s.mediaPlayer.SetVolume(m.Volume)
		s.seq.SetVolume(int(s.mediaPlayer.Volume() * 100))
		s.send(msg)
	}
}

// mediaIdleState is the media player state once foreground audio ends
func (s *Satellite) mediaIdleState() protocol.MediaPlayerState {
	if s.seq.MusicPlaying() {
		return protocol.MediaPlayerStatePlaying
	}
	return protocol.MediaPlayerStateIdle
}

func (s *Satellite) handleCompletion(c playback.Completion) {
	if !s.seq.Complete(c) {
		return
	}

	switch c.Kind {
	case playback.KindResponse, playback.KindAnnouncement:
		s.send(s.mediaPlayer.SetState(s.mediaIdleState()))
		if c.Token == s.responseToken && (s.phase == PhaseResponding || s.phase == PhaseAnnouncing) {
			s.finalize(reasonCompleted)
		}
	case playback.KindTimer:
		s.handleTimerPlayed()
	case playback.KindMedia:
		s.send(s.mediaPlayer.SetState(protocol.MediaPlayerStateIdle))
	}
}

func (s *Satellite) applyMute(muted bool, source string) {
	changed, err := s.mute.Set(muted)
	if err != nil {
		s.logger.Warn("Failed to write shared mute flag", slog.String("error", err.Error()))
		s.send(s.muteSwitch.SetState(s.state.SoftwareMute()))
		return
	}
	if !changed {
		s.send(s.muteSwitch.SetState(muted))
		return
	}
	s.handleMuteChanged(muted, source)
}

// handleMuteChanged reports a mute change, whichever side discovered it
func (s *Satellite) handleMuteChanged(muted bool, source string) {
	s.logger.Info("Assistant mute changed", slog.Bool("muted", muted), slog.String("source", source))
	s.send(s.muteSwitch.SetState(muted))
	s.metrics.RecordMuteChange(source, muted)

	if muted {
		s.emit(events.Muted, map[string]any{"source": source})
	} else {
		s.emit(events.Unmuted, map[string]any{"source": source})
	}
}

func (s *Satellite) handleConfigurationRequest(m *protocol.VoiceAssistantConfigurationRequest) {
	available := lo.Map(s.registry.Models(), func(model detector.Model, _ int) protocol.VoiceAssistantWakeWord {
		return protocol.VoiceAssistantWakeWord{
			ID:               model.ID,
			WakeWord:         model.WakeWord,
			TrainedLanguages: model.TrainedLanguages,
		}
	})

	for _, ext := range m.ExternalWakeWords {
		if detector.Kind(ext.ModelType) != detector.KindMicro {
			continue
		}
		s.externals[ext.ID] = ext

		if _, ok := s.registry.Model(ext.ID); ok {
			continue
		}
		available = append(available, protocol.VoiceAssistantWakeWord{
			ID:               ext.ID,
			WakeWord:         ext.WakeWord,
			TrainedLanguages: ext.TrainedLanguages,
		})
	}

	active := lo.Filter(s.state.ActiveWakeWords(), func(id string, _ int) bool {
		return s.registry.IsLoaded(id)
	})

	s.send(&protocol.VoiceAssistantConfigurationResponse{
		AvailableWakeWords: available,
		ActiveWakeWords:    active,
		MaxActiveWakeWords: uint32(s.config.MaxActiveWakeWords),
	})
	s.logger.Info("Sent wake word configuration",
		slog.Int("available", len(available)),
		slog.Any("active", active))
}

// handleSetConfiguration resolves the requested wake words off the loop.
// Only the result of the latest request is applied.
func (s *Satellite) handleSetConfiguration(m *protocol.VoiceAssistantSetConfiguration) {
	s.configGen++
	gen := s.configGen

	requested := lo.Uniq(m.ActiveWakeWords)
	externals := make(map[string]protocol.VoiceAssistantExternalWakeWord, len(s.externals))
	for id, ext := range s.externals {
		externals[id] = ext
	}
	ctx := s.ctx

	s.logger.Debug("Wake word configuration requested", slog.Any("ids", requested))

	go func() {
		active := s.resolveWakeWords(ctx, requested, externals)
		s.post(wakeWordsResolvedEvent{gen: gen, active: active})
	}()
}

// resolveWakeWords loads the requested detectors. Already loaded ids are kept;
// at most one id that needs loading or fetching is activated per request.
func (s *Satellite) resolveWakeWords(ctx context.Context, ids []string, externals map[string]protocol.VoiceAssistantExternalWakeWord) []string {
	active := make([]string, 0, len(ids))
	learned := false

	for _, id := range ids {
		if len(active) >= s.config.MaxActiveWakeWords {
			break
		}

		if s.registry.IsLoaded(id) {
			active = append(active, id)
			continue
		}
		if learned {
			s.logger.Debug("Skipping wake word, one new wake word per request", slog.String("id", id))
			continue
		}

		if _, ok := s.registry.Model(id); !ok {
			ext, ok := externals[id]
			if !ok || s.fetcher == nil {
				s.logger.Warn("Unknown wake word requested", slog.String("id", id))
				continue
			}

			start := time.Now()
			model, err := s.fetcher.FetchExternal(ctx, &ext, s.config.DownloadDir)
			s.metrics.RecordDownload(err == nil, time.Since(start).Seconds())
			if err != nil {
				s.logger.Warn("Failed to fetch external wake word",
					slog.String("id", id),
					slog.String("error", err.Error()))
				continue
			}
			s.registry.AddModel(model)
		}

		if _, err := s.registry.Load(id); err != nil {
			s.logger.Warn("Failed to load wake word",
				slog.String("id", id),
				slog.String("error", err.Error()))
			continue
		}

		s.logger.Info("Wake word set", slog.String("id", id))
		active = append(active, id)
		learned = true
	}

	return active
}

func (s *Satellite) applyWakeWords(gen uint64, active []string) {
	if gen != s.configGen {
		s.logger.Debug("Discarding superseded wake word configuration")
		return
	}

	s.state.SetActiveWakeWords(active)
	if s.prefs != nil {
		if err := s.prefs.SetActiveWakeWords(active); err != nil {
			s.logger.Warn("Failed to save preferences", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Active wake words changed", slog.Any("active", active))
	s.emit(events.WakeWordsChanged, map[string]any{"active": active})
}

func (s *Satellite) restart() {
	if s.config.RestartCommand == "" {
		s.logger.Warn("Restart requested but no restart command is configured")
		return
	}

	s.logger.Info("Restarting services", slog.String("command", s.config.RestartCommand))
	cmd := exec.Command("sh", "-c", s.config.RestartCommand)
	if err := cmd.Start(); err != nil {
		s.logger.Error("Failed to restart services", slog.String("error", err.Error()))
		return
	}
	go cmd.Wait()
}
