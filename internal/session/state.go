package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// State is the satellite state shared between the audio pipeline and the connection handler
type State struct {
	// Activation gating
	Refractory *RefractoryGate

	// Flags written by the connection handler, read by the pipeline
	streaming            atomic.Bool
	stopArmed            atomic.Bool
	speaking             atomic.Bool
	continueConversation atomic.Bool
	timerFinished        atomic.Bool
	restoreMuteAfterTurn atomic.Bool

	// Written by whichever side observes a change first
	softwareMute atomic.Bool

	// Active wake words, swapped by configuration changes
	mu               sync.RWMutex
	activeWakeWords  map[string]struct{}
	wakeWordsChanged atomic.Bool
}

// Snapshot is a point-in-time copy of State for reporting
type Snapshot struct {
	Streaming            bool      `json:"streaming"`
	StopArmed            bool      `json:"stop_armed"`
	Speaking             bool      `json:"speaking"`
	SoftwareMute         bool      `json:"software_mute"`
	ContinueConversation bool      `json:"continue_conversation"`
	TimerFinished        bool      `json:"timer_finished"`
	RestoreMuteAfterTurn bool      `json:"restore_mute_after_turn"`
	ActiveWakeWords      []string  `json:"active_wake_words"`
	LastActivationAt     time.Time `json:"last_activation_at,omitempty"`
}

// NewState creates the shared state with the given refractory window and initial wake words
func NewState(refractory time.Duration, activeWakeWords []string) *State {
	s := &State{
		Refractory: NewRefractoryGate(refractory),
	}
	s.SetActiveWakeWords(activeWakeWords)
	return s
}

func (s *State) Streaming() bool { return s.streaming.Load() }
func (s *State) SetStreaming(v bool) { s.streaming.Store(v) }
func (s *State) StopArmed() bool { return s.stopArmed.Load() }
func (s *State) SetStopArmed(v bool) { s.stopArmed.Store(v) }
func (s *State) Speaking() bool { return s.speaking.Load() }
func (s *State) SetSpeaking(v bool) { s.speaking.Store(v) }
func (s *State) ContinueConversation() bool { return s.continueConversation.Load() }
func (s *State) SetContinueConversation(v bool) { s.continueConversation.Store(v) }
func (s *State) TimerFinished() bool { return s.timerFinished.Load() }
func (s *State) SetTimerFinished(v bool) { s.timerFinished.Store(v) }
func (s *State) RestoreMuteAfterTurn() bool { return s.restoreMuteAfterTurn.Load() }
func (s *State) SetRestoreMuteAfterTurn(v bool) { s.restoreMuteAfterTurn.Store(v) }
func (s *State) SoftwareMute() bool { return s.softwareMute.Load() }

// SetSoftwareMute stores the mute flag and reports whether it changed
func (s *State) SetSoftwareMute(v bool) bool {
	return s.softwareMute.Swap(v) != v
}

// ActiveWakeWords returns the active wake word ids in sorted order
func (s *State) ActiveWakeWords() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.activeWakeWords))
	for id := range s.activeWakeWords {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsWakeWordActive reports whether id is in the active set
func (s *State) IsWakeWordActive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.activeWakeWords[id]
	return ok
}

// SetActiveWakeWords replaces the active set and marks it changed for the pipeline
func (s *State) SetActiveWakeWords(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	s.mu.Lock()
	s.activeWakeWords = set
	s.mu.Unlock()

	s.wakeWordsChanged.Store(true)
}

// TakeWakeWordsChanged clears the changed flag and reports whether it was set
func (s *State) TakeWakeWordsChanged() bool {
	return s.wakeWordsChanged.Swap(false)
}

// Snapshot returns a copy of the current state
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Streaming:            s.Streaming(),
		StopArmed:            s.StopArmed(),
		Speaking:             s.Speaking(),
		SoftwareMute:         s.SoftwareMute(),
		ContinueConversation: s.ContinueConversation(),
		TimerFinished:        s.TimerFinished(),
		RestoreMuteAfterTurn: s.RestoreMuteAfterTurn(),
		ActiveWakeWords:      s.ActiveWakeWords(),
	}
	if last, ok := s.Refractory.LastActivation(); ok {
		snap.LastActivationAt = last
	}
	return snap
}
