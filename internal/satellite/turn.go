package satellite

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/skypro1111/voice-satellite/internal/entity"
	"github.com/skypro1111/voice-satellite/internal/events"
	"github.com/skypro1111/voice-satellite/internal/pipeline"
	"github.com/skypro1111/voice-satellite/internal/protocol"
)

// Turn finish reasons
const (
	reasonCompleted    = "completed"
	reasonNoResponse   = "no_response"
	reasonStopped      = "stopped"
	reasonAborted      = "aborted"
	reasonDisconnected = "disconnected"
)

const displayTimeout = 5 * time.Second

func (s *Satellite) handleWake(a pipeline.Activation) {
	if s.state.TimerFinished() {
		s.logger.Debug("Wake word stops finished timer", slog.String("wake_word_id", a.ID))
		s.stopTimer()
		return
	}

	if s.state.SoftwareMute() {
		s.logger.Info("Wake word ignored while muted", slog.String("wake_word_id", a.ID))
		s.metrics.RecordWakeWhileMuted()
		s.emit(events.WakeWordMuted, map[string]any{"wake_word_id": a.ID})
		return
	}

	if s.conn == nil {
		s.logger.Info("Wake word ignored, no hub connection", slog.String("wake_word_id", a.ID))
		return
	}

	s.abortTurn()

	name := a.WakeWord
	if s.prefs != nil {
		name = s.prefs.FriendlyName(a.ID, a.WakeWord)
	}
	s.assistantName = name
	s.updateSensor(s.assistantSensor, name)

	s.logger.Info("Wake word detected",
		slog.String("wake_word_id", a.ID),
		slog.String("wake_word", a.WakeWord),
		slog.String("assistant", name))
	s.emit(events.WakeWordDetected, map[string]any{
		"wake_word_id": a.ID,
		"wake_word":    a.WakeWord,
		"assistant":    name,
	})

	s.conversationID = uuid.NewString()
	s.startTurn(a.WakeWord)
}

func (s *Satellite) handleListen() {
	s.logger.Info("Manual listen triggered")

	if s.state.TimerFinished() {
		s.stopTimer()
		return
	}
	if s.conn == nil {
		s.logger.Info("Manual listen ignored, no hub connection")
		return
	}

	s.abortTurn()

	if s.state.SoftwareMute() {
		// a concurrent poll may apply the write first and report the change itself
		changed, err := s.mute.Set(false)
		if err != nil {
			s.logger.Warn("Failed to unmute for manual listen", slog.String("error", err.Error()))
		} else {
			s.state.SetRestoreMuteAfterTurn(true)
			if changed {
				s.handleMuteChanged(false, "listen")
			}
		}
	}

	s.updateSensor(s.sttSensor, "")
	s.updateSensor(s.ttsSensor, "")
	s.conversationID = uuid.NewString()
	s.startTurn("")
}

// abortTurn ends an active turn so a new one can start
func (s *Satellite) abortTurn() {
	if s.phase == PhaseIdle {
		return
	}
	s.logger.Info("New turn replaces active turn", slog.String("phase", s.phase.String()))
	s.state.SetContinueConversation(false)
	s.seq.Stop()
	s.endTurn(reasonAborted, true)
}

// startTurn asks the hub for a pipeline run and starts streaming microphone audio
func (s *Satellite) startTurn(phrase string) {
	s.clearGen++
	s.ttsURL = ""
	s.ttsPlayed = false
	s.state.SetContinueConversation(false)

	s.send(&protocol.VoiceAssistantRequest{
		Start:          true,
		ConversationID: s.conversationID,
		WakeWordPhrase: phrase,
	})
	s.seq.Duck()
	s.state.SetStreaming(true)
	s.seq.PlayChime(s.config.WakeupSound)

	s.turnStarted = s.now()
	s.metrics.RecordTurnStarted()
	s.statusMu.Lock()
	s.status.TurnsStarted++
	s.statusMu.Unlock()
	s.setPhase(PhaseStreaming)

	s.emit(events.Listening, map[string]any{"conversation_id": s.conversationID})
}

func (s *Satellite) handleVoiceEvent(m *protocol.VoiceAssistantEventResponse) {
	data := lo.SliceToMap(m.Data, func(d protocol.EventData) (string, any) {
		return d.Name, d.Value
	})
	s.logger.Debug("Voice event", slog.String("type", m.EventType.String()), slog.Any("data", data))
	s.emit(events.Type(m.EventType.String()), data)

	switch m.EventType {
	case protocol.EventRunStart:
		s.ttsURL = m.Get("url")
		s.ttsPlayed = false
		s.state.SetContinueConversation(false)
		s.updateSensor(s.sttSensor, "")
		s.updateSensor(s.ttsSensor, "")
		s.wakeDisplay()
		if s.phase == PhaseIdle {
			// hub initiated run
			s.turnStarted = s.now()
			s.setPhase(PhaseAwaitingResponse)
		}
	case protocol.EventSTTStart, protocol.EventSTTVADStart:
		s.updateSensor(s.sttSensor, "")
	case protocol.EventSTTVADEnd:
		s.endStreaming()
		s.updateSensor(s.sttSensor, "")
	case protocol.EventSTTEnd:
		s.endStreaming()
		text := m.Get("text")
		if text == "" {
			text = m.Get("stt")
		}
		s.updateSensor(s.sttSensor, text)
		s.appendHistory("User: " + text)
	case protocol.EventIntentProgress:
		if m.Get("tts_start_streaming") == "1" {
			s.playTTS()
		}
	case protocol.EventIntentEnd:
		if m.Get("continue_conversation") == "1" {
			s.state.SetContinueConversation(true)
		}
	case protocol.EventTTSStart:
		text := m.Get("text")
		s.updateSensor(s.ttsSensor, text)
		s.appendHistory(s.speakerName() + ": " + text)
		s.syncHistory()
	case protocol.EventTTSEnd:
		if url := m.Get("url"); url != "" {
			s.ttsURL = url
		}
		s.playTTS()
	case protocol.EventRunEnd:
		s.endStreaming()
		if !s.ttsPlayed {
			s.finalize(reasonNoResponse)
		}
	case protocol.EventError:
		s.logger.Warn("Voice assistant error",
			slog.String("code", m.Get("code")),
			slog.String("message", m.Get("message")))
		s.endStreaming()
	}
}

func (s *Satellite) endStreaming() {
	s.state.SetStreaming(false)
	if s.phase == PhaseStreaming {
		s.setPhase(PhaseAwaitingResponse)
	}
}

// playTTS plays the response once per turn
func (s *Satellite) playTTS() {
	if s.ttsURL == "" || s.ttsPlayed {
		return
	}
	s.ttsPlayed = true

	s.logger.Debug("Playing TTS response", slog.String("url", s.ttsURL))
	s.state.SetStopArmed(true)
	s.setPhase(PhaseResponding)
	s.responseToken = s.seq.PlayResponse(s.ttsURL)
	s.send(s.mediaPlayer.SetState(protocol.MediaPlayerStatePlaying))
	s.emit(events.TTSPlaying, map[string]any{"url": s.ttsURL})
}

func (s *Satellite) handleAnnounce(m *protocol.VoiceAssistantAnnounceRequest) {
	s.logger.Debug("Announcing", slog.String("text", m.Text))

	urls := lo.Compact([]string{m.PreannounceMediaID, m.MediaID})
	if len(urls) == 0 {
		s.logger.Warn("Announcement without media ignored")
		return
	}

	s.updateSensor(s.ttsSensor, m.Text)
	s.state.SetStopArmed(true)
	s.state.SetContinueConversation(m.StartConversation)
	s.seq.Duck()

	if s.phase == PhaseIdle {
		s.turnStarted = s.now()
	}
	s.setPhase(PhaseAnnouncing)
	s.responseToken = s.seq.PlayAnnouncement(urls...)
	s.send(s.mediaPlayer.SetState(protocol.MediaPlayerStatePlaying))

	s.emit(events.Announce, map[string]any{
		"text":               m.Text,
		"start_conversation": m.StartConversation,
	})
}

// finalize ends the current turn. It does nothing when no turn is active.
func (s *Satellite) finalize(reason string) {
	s.endTurn(reason, false)
}

// endTurn reports the turn finished. When replaced, a new turn follows at once, so
// music stays ducked, the display stays awake and a pending mute restore carries over.
func (s *Satellite) endTurn(reason string, replaced bool) {
	if s.phase == PhaseIdle {
		return
	}

	wasStreaming := s.state.Streaming()
	wasPlaying := s.phase == PhaseResponding || s.phase == PhaseAnnouncing

	// stop stays armed only for a ringing timer, and is disarmed before "finished" is reported
	s.state.SetStopArmed(s.state.TimerFinished())

	if wasStreaming && (reason == reasonStopped || reason == reasonAborted) {
		s.send(&protocol.VoiceAssistantRequest{Start: false, ConversationID: s.conversationID})
	}
	if wasPlaying && reason != reasonCompleted {
		s.send(s.mediaPlayer.SetState(s.mediaIdleState()))
	}
	s.send(&protocol.VoiceAssistantAnnounceFinished{Success: reason == reasonCompleted})
	s.emit(events.TTSResponseFinished, map[string]any{"reason": reason})

	s.metrics.RecordTurnFinished(reason, s.now().Sub(s.turnStarted).Seconds())
	s.statusMu.Lock()
	s.status.TurnsFinished++
	s.statusMu.Unlock()

	continuing := s.state.ContinueConversation() && s.conn != nil &&
		(reason == reasonCompleted || reason == reasonNoResponse)
	if continuing {
		s.logger.Debug("Continuing conversation")
		if s.conversationID == "" {
			s.conversationID = uuid.NewString()
		}
		s.startTurn("")
		return
	}

	s.state.SetContinueConversation(false)
	s.state.SetStreaming(false)
	s.setPhase(PhaseIdle)
	if replaced {
		return
	}

	if !s.state.TimerFinished() {
		s.seq.Unduck()
	}
	s.sleepDisplay()
	s.scheduleClearSensors()

	if s.state.RestoreMuteAfterTurn() {
		s.state.SetRestoreMuteAfterTurn(false)
		s.applyMute(true, "restore")
	}
}

func (s *Satellite) handleStop(source string) {
	s.logger.Info("Stop requested", slog.String("source", source))
	s.emit(events.Stop, map[string]any{"source": source})

	s.seq.Stop()
	s.updateSensor(s.ttsSensor, "")
	s.updateSensor(s.sttSensor, "")

	if s.state.TimerFinished() {
		s.stopTimer()
		return
	}

	s.state.SetStopArmed(false)
	s.state.SetContinueConversation(false)
	s.finalize(reasonStopped)
}

func (s *Satellite) handleTimerEvent(m *protocol.VoiceAssistantTimerEventResponse) {
	s.logger.Debug("Timer event",
		slog.String("type", m.EventType.String()),
		slog.String("timer_id", m.TimerID),
		slog.String("name", m.Name),
		slog.Int("seconds_left", int(m.SecondsLeft)))

	if m.EventType != protocol.TimerFinished || s.state.TimerFinished() {
		return
	}

	s.timerGen++
	s.state.SetTimerFinished(true)
	if s.phase != PhaseIdle {
		// the timer sound takes over the player, so the turn ends here
		s.logger.Info("Finished timer interrupts active turn", slog.String("phase", s.phase.String()))
		s.state.SetContinueConversation(false)
		s.seq.Stop()
		s.finalize(reasonStopped)
	}
	s.state.SetStopArmed(true)
	s.seq.Duck()
	s.emit(events.TimerFinished, map[string]any{"timer_id": m.TimerID, "name": m.Name})
	s.seq.PlayTimer(s.config.TimerFinishedSound)
}

// handleTimerPlayed schedules the next repetition while the timer is still ringing
func (s *Satellite) handleTimerPlayed() {
	if !s.state.TimerFinished() {
		if s.phase == PhaseIdle {
			s.seq.Unduck()
		}
		return
	}

	gen := s.timerGen
	time.AfterFunc(s.config.TimerRepeat, func() {
		s.post(timerRepeatEvent{gen: gen})
	})
}

func (s *Satellite) handleTimerRepeat(gen uint64) {
	if gen != s.timerGen || !s.state.TimerFinished() {
		return
	}
	s.seq.PlayTimer(s.config.TimerFinishedSound)
}

func (s *Satellite) stopTimer() {
	s.logger.Debug("Stopping timer finished sound")
	s.timerGen++
	s.state.SetTimerFinished(false)
	s.seq.Stop()

	if s.phase == PhaseIdle {
		s.state.SetStopArmed(false)
		s.seq.Unduck()
	}
	s.emit(events.TimerStopped, nil)
}

func (s *Satellite) updateSensor(sensor *entity.TextSensor, text string) {
	s.send(sensor.Update(text))
}

func (s *Satellite) scheduleClearSensors() {
	s.clearGen++
	gen := s.clearGen
	time.AfterFunc(s.config.SensorClearDelay, func() {
		s.post(clearSensorsEvent{gen: gen})
	})
}

func (s *Satellite) handleClearSensors(gen uint64) {
	if gen != s.clearGen {
		return
	}
	s.logger.Debug("Clearing sensors after delay")
	s.updateSensor(s.ttsSensor, "")
	s.updateSensor(s.sttSensor, "")
	s.updateSensor(s.assistantSensor, "")
}

func (s *Satellite) speakerName() string {
	if s.assistantName == "" {
		return "Assistant"
	}
	return s.assistantName
}

func (s *Satellite) appendHistory(msg string) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(msg); err != nil {
		s.logger.Warn("Failed to write history", slog.String("error", err.Error()))
	}
}

func (s *Satellite) syncHistory() {
	if s.syncer == nil || !s.syncer.Enabled() {
		return
	}
	ctx := s.ctx
	go func() {
		err := s.syncer.Sync(ctx)
		s.metrics.RecordHistorySync(err == nil)
		if err != nil {
			s.logger.Warn("Failed to sync history", slog.String("error", err.Error()))
		}
	}()
}

func (s *Satellite) wakeDisplay() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), displayTimeout)
		defer cancel()
		if err := s.display.Wake(ctx); err != nil {
			s.logger.Debug("Could not wake display", slog.String("error", err.Error()))
		}
	}()
}

func (s *Satellite) sleepDisplay() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), displayTimeout)
		defer cancel()
		if err := s.display.Sleep(ctx); err != nil {
			s.logger.Debug("Could not set display timeout", slog.String("error", err.Error()))
		}
	}()
}
