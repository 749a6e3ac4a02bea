package playback

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/skypro1111/voice-satellite/internal/audio"
	"github.com/skypro1111/voice-satellite/internal/session"
)

// Kind identifies what a completed playback was
type Kind int

const (
	KindResponse Kind = iota
	KindAnnouncement
	KindTimer
	KindMedia
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindAnnouncement:
		return "announcement"
	case KindTimer:
		return "timer"
	case KindMedia:
		return "media"
	default:
		return "unknown"
	}
}

// Completion reports that a tracked playback ended
type Completion struct {
	Token uint64
	Kind  Kind
}

// Sequencer owns the foreground and music players. All methods except the
// completion goroutines run on the caller's event loop.
type Sequencer struct {
	tts    audio.Player
	music  audio.Player
	state  *session.State
	notify func(Completion)
	logger *slog.Logger

	token       uint64 // current foreground token
	mediaToken  uint64
	pausedMusic bool
	ducked      atomic.Bool

	// Statistics
	mu          sync.RWMutex
	played      map[Kind]uint64
	stopped     uint64
	staleEvents uint64
}

// Stats represents sequencer statistics
type Stats struct {
	Played      map[string]uint64 `json:"played"`
	Stopped     uint64            `json:"stopped"`
	StaleEvents uint64            `json:"stale_completions"`
	Speaking    bool              `json:"speaking"`
	Ducked      bool              `json:"ducked"`
	MusicActive bool              `json:"music_playing"`
}

// NewSequencer creates a sequencer. notify is called from a player goroutine
// and must hand the completion to the event loop without blocking.
func NewSequencer(tts, music audio.Player, state *session.State, notify func(Completion), logger *slog.Logger) *Sequencer {
	return &Sequencer{
		tts:    tts,
		music:  music,
		state:  state,
		notify: notify,
		logger: logger,
		played: make(map[Kind]uint64),
	}
}

// PlayChime plays a short untracked sound such as the wakeup chime
func (s *Sequencer) PlayChime(url string) {
	if url == "" {
		return
	}
	s.token++
	s.tts.Play(url)
}

// PlayResponse plays synthesized speech for the current turn
func (s *Sequencer) PlayResponse(url string) uint64 {
	s.pauseMusic()
	s.state.SetSpeaking(true)
	return s.playForeground(KindResponse, url)
}

// PlayAnnouncement plays the optional pre-announcement and the main clip
func (s *Sequencer) PlayAnnouncement(urls ...string) uint64 {
	s.pauseMusic()
	s.state.SetSpeaking(true)
	return s.playForeground(KindAnnouncement, urls...)
}

// PlayTimer plays one repetition of the timer finished sound
func (s *Sequencer) PlayTimer(url string) uint64 {
	return s.playForeground(KindTimer, url)
}

// PlayMedia starts background music on the music player
func (s *Sequencer) PlayMedia(url string) uint64 {
	s.mediaToken++
	token := s.mediaToken
	s.pausedMusic = false
	s.record(KindMedia)

	pb := s.music.Play(url)
	go s.wait(pb, Completion{Token: token, Kind: KindMedia})
	return token
}

func (s *Sequencer) playForeground(kind Kind, urls ...string) uint64 {
	s.token++
	token := s.token
	s.record(kind)

	s.logger.Debug("Playing foreground audio",
		slog.String("kind", kind.String()),
		slog.Any("urls", urls))

	pb := s.tts.Play(urls...)
	go s.wait(pb, Completion{Token: token, Kind: kind})
	return token
}

func (s *Sequencer) wait(pb *audio.Playback, c Completion) {
	<-pb.Done()
	s.notify(c)
}

// Complete applies a completion on the event loop. It returns false for
// completions superseded by a later play or a stop.
func (s *Sequencer) Complete(c Completion) bool {
	if c.Kind == KindMedia {
		if c.Token != s.mediaToken {
			s.recordStale()
			return false
		}
		return true
	}

	if c.Token != s.token {
		s.recordStale()
		return false
	}

	if c.Kind == KindResponse || c.Kind == KindAnnouncement {
		s.state.SetSpeaking(false)
		s.resumeMusic()
	}
	return true
}

// Stop ends foreground playback and invalidates its pending completion.
// Calling it repeatedly has the same effect as calling it once.
func (s *Sequencer) Stop() {
	s.token++
	s.tts.Stop()
	s.state.SetSpeaking(false)
	s.resumeMusic()

	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
}

// Duck lowers background music
func (s *Sequencer) Duck() {
	if s.ducked.Swap(true) {
		return
	}
	s.logger.Debug("Ducking music")
	s.music.Duck()
}

// Unduck restores background music volume
func (s *Sequencer) Unduck() {
	if !s.ducked.Swap(false) {
		return
	}
	s.logger.Debug("Unducking music")
	s.music.Unduck()
}

// Ducked reports whether music is currently ducked
func (s *Sequencer) Ducked() bool {
	return s.ducked.Load()
}

// PauseMedia pauses background music on request from the hub
func (s *Sequencer) PauseMedia() {
	s.pausedMusic = false
	s.music.Pause()
}

// ResumeMedia resumes background music on request from the hub
func (s *Sequencer) ResumeMedia() {
	s.music.Resume()
}

// StopMedia stops background music and invalidates its completion
func (s *Sequencer) StopMedia() {
	s.mediaToken++
	s.pausedMusic = false
	s.music.Stop()
}

// SetVolume sets the volume of both players in percent
func (s *Sequencer) SetVolume(percent int) {
	s.music.SetVolume(percent)
	s.tts.SetVolume(percent)
}

// MusicPlaying reports whether background music is audible
func (s *Sequencer) MusicPlaying() bool {
	return s.music.IsPlaying()
}

func (s *Sequencer) pauseMusic() {
	if s.pausedMusic || !s.music.IsPlaying() {
		return
	}
	s.logger.Debug("Pausing music for foreground audio")
	s.music.Pause()
	s.pausedMusic = true
}

func (s *Sequencer) resumeMusic() {
	if !s.pausedMusic {
		return
	}
	s.pausedMusic = false
	s.logger.Debug("Resuming music")
	s.music.Resume()
}

func (s *Sequencer) record(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played[kind]++
}

func (s *Sequencer) recordStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleEvents++
}

// GetStats returns sequencer statistics
func (s *Sequencer) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	played := make(map[string]uint64, len(s.played))
	for kind, n := range s.played {
		played[kind.String()] = n
	}

	return Stats{
		Played:      played,
		Stopped:     s.stopped,
		StaleEvents: s.staleEvents,
		Speaking:    s.state.Speaking(),
		Ducked:      s.ducked.Load(),
		MusicActive: s.music.IsPlaying(),
	}
}
