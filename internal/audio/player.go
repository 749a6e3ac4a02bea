package audio

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Playback tracks a single play request
type Playback struct {
	done chan struct{}
	once sync.Once
}

// NewPlayback creates an unfinished playback
func NewPlayback() *Playback {
	return &Playback{done: make(chan struct{})}
}

// Done is closed once playback finishes, fails or is stopped
func (p *Playback) Done() <-chan struct{} {
	return p.done
}

// Finish marks the playback complete; safe to call more than once
func (p *Playback) Finish() {
	p.once.Do(func() { close(p.done) })
}

// Player plays media URLs or local files
type Player interface {
	Play(urls ...string) *Playback
	Stop()
	Pause()
	Resume()
	Duck()
	Unduck()
	SetVolume(percent int)
	Volume() int
	IsPlaying() bool
}

// MpvConfig contains mpv player parameters
type MpvConfig struct {
	Name      string // used for the IPC socket path
	Command   string
	Device    string
	SocketDir string
	DuckRatio float64
	Volume    int
}

// MpvPlayer runs one mpv process per play request
type MpvPlayer struct {
	config MpvConfig
	logger *slog.Logger

	mu      sync.Mutex
	volume  int
	ducked  bool
	paused  bool
	cmd     *exec.Cmd
	current *Playback
}

// NewMpvPlayer creates a new mpv player
func NewMpvPlayer(config MpvConfig, logger *slog.Logger) *MpvPlayer {
	if config.Command == "" {
		config.Command = "mpv"
	}
	if config.Name == "" {
		config.Name = "player"
	}
	if config.SocketDir == "" {
		config.SocketDir = os.TempDir()
	}
	if config.DuckRatio <= 0 || config.DuckRatio > 1 {
		config.DuckRatio = 0.5
	}
	if config.Volume <= 0 || config.Volume > 100 {
		config.Volume = 100
	}

	return &MpvPlayer{
		config: config,
		logger: logger.With(slog.String("player", config.Name)),
		volume: config.Volume,
	}
}

// Play stops any current playback and starts the given URLs in sequence
func (p *MpvPlayer) Play(urls ...string) *Playback {
	playback := NewPlayback()
	if len(urls) == 0 {
		playback.Finish()
		return playback
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	args := append(p.argsLocked(), urls...)
	cmd := exec.Command(p.config.Command, args...)
	if err := cmd.Start(); err != nil {
		p.logger.Error("Failed to start player",
			slog.String("command", p.config.Command),
			slog.String("error", err.Error()))
		playback.Finish()
		return playback
	}

	p.cmd = cmd
	p.current = playback
	p.paused = false

	p.logger.Debug("Playback started", slog.Any("urls", urls))

	go func() {
		err := cmd.Wait()

		p.mu.Lock()
		if p.current == playback {
			p.cmd = nil
			p.current = nil
			p.paused = false
		}
		p.mu.Unlock()

		if err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				p.logger.Warn("Player exited with error", slog.String("error", err.Error()))
			}
		}
		playback.Finish()
	}()

	return playback
}

// Args returns the mpv options used for the next play request
func (p *MpvPlayer) Args() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.argsLocked()
}

func (p *MpvPlayer) argsLocked() []string {
	args := []string{
		"--no-video",
		"--no-terminal",
		"--idle=no",
		"--volume=" + strconv.Itoa(p.effectiveVolumeLocked()),
		"--input-ipc-server=" + p.socketPath(),
	}
	if p.config.Device != "" {
		args = append(args, "--audio-device="+p.config.Device)
	}
	return args
}

// Stop ends the current playback
func (p *MpvPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *MpvPlayer) stopLocked() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Kill(); err != nil {
		p.logger.Debug("Failed to kill player", slog.String("error", err.Error()))
	}
	p.cmd = nil
	p.current = nil
	p.paused = false
}

// Pause pauses the current playback
func (p *MpvPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return
	}
	p.paused = true
	p.setPropertyLocked("pause", true)
}

// Resume resumes a paused playback
func (p *MpvPlayer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || !p.paused {
		return
	}
	p.paused = false
	p.setPropertyLocked("pause", false)
}

// Duck lowers the volume by the configured ratio
func (p *MpvPlayer) Duck() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ducked = true
	p.setPropertyLocked("volume", p.effectiveVolumeLocked())
}

// Unduck restores the full volume
func (p *MpvPlayer) Unduck() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ducked = false
	p.setPropertyLocked("volume", p.effectiveVolumeLocked())
}

// SetVolume sets the volume in percent, clamped to [0, 100]
func (p *MpvPlayer) SetVolume(percent int) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = percent
	p.setPropertyLocked("volume", p.effectiveVolumeLocked())
}

// Volume returns the configured (unducked) volume
func (p *MpvPlayer) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// IsPlaying reports whether media is playing and not paused
func (p *MpvPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil && !p.paused
}

func (p *MpvPlayer) effectiveVolumeLocked() int {
	if p.ducked {
		return int(float64(p.volume) * p.config.DuckRatio)
	}
	return p.volume
}

func (p *MpvPlayer) socketPath() string {
	return filepath.Join(p.config.SocketDir, fmt.Sprintf("lvas-%s-%d.sock", p.config.Name, os.Getpid()))
}

// setPropertyLocked sends a set_property command over the mpv IPC socket
func (p *MpvPlayer) setPropertyLocked(name string, value any) {
	if p.cmd == nil {
		return
	}

	conn, err := net.DialTimeout("unix", p.socketPath(), 200*time.Millisecond)
	if err != nil {
		p.logger.Debug("Player IPC unavailable",
			slog.String("property", name),
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	payload, err := json.Marshal(map[string]any{
		"command": []any{"set_property", name, value},
	})
	if err != nil {
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		p.logger.Debug("Player IPC write failed",
			slog.String("property", name),
			slog.String("error", err.Error()))
	}
}
