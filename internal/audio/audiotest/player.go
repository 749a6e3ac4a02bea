// Package audiotest provides an in-memory audio.Player for tests.
package audiotest

import (
	"sync"

	"github.com/skypro1111/voice-satellite/internal/audio"
)

// Player records calls and finishes playbacks only when told to
type Player struct {
	// AutoFinish completes every playback as soon as it starts
	AutoFinish bool

	mu      sync.Mutex
	plays   [][]string
	current *audio.Playback
	playing bool
	paused  bool
	ducked  bool
	volume  int
	stops   int
	pauses  int
	resumes int
	unducks int
}

// NewPlayer creates a fake player at full volume
func NewPlayer() *Player {
	return &Player{volume: 100}
}

var _ audio.Player = (*Player)(nil)

func (p *Player) Play(urls ...string) *audio.Playback {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.current.Finish()
	}

	p.plays = append(p.plays, append([]string(nil), urls...))
	pb := audio.NewPlayback()

	if p.AutoFinish {
		pb.Finish()
		p.current = nil
		p.playing = false
		return pb
	}

	p.current = pb
	p.playing = true
	p.paused = false
	return pb
}

// Finish ends the current playback as if the media ran out
func (p *Player) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.current.Finish()
		p.current = nil
	}
	p.playing = false
}

func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stops++
	if p.current != nil {
		p.current.Finish()
		p.current = nil
	}
	p.playing = false
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	p.paused = true
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
	p.paused = false
}

func (p *Player) Duck() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ducked = true
}

func (p *Player) Unduck() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unducks++
	p.ducked = false
}

func (p *Player) SetVolume(percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = percent
}

func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && !p.paused
}

// SetPlaying forces the playing state, e.g. to simulate background music
func (p *Player) SetPlaying(playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = playing
	p.paused = false
}

// Plays returns the URLs of every play request in order
func (p *Player) Plays() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.plays...)
}

// PlayCount returns the number of play requests
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

// Ducked reports the duck state
func (p *Player) Ducked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ducked
}

// Counts returns the number of stop, pause and resume calls
func (p *Player) Counts() (stops, pauses, resumes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops, p.pauses, p.resumes
}

// Unducks returns how many times the volume was restored
func (p *Player) Unducks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unducks
}
