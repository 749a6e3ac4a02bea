package mute

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/skypro1111/voice-satellite/internal/session"
)

// Synchronizer reconciles SessionState.softwareMute with the shared flag file
type Synchronizer struct {
	path     string
	interval time.Duration
	state    *session.State
	onChange func(muted bool)
	logger   *slog.Logger

	lastPoll time.Time // touched only by the polling goroutine
	pollNow  atomic.Bool

	polls   atomic.Uint64
	changes atomic.Uint64
}

// Stats holds synchronizer counters
type Stats struct {
	Path    string `json:"path"`
	Polls   uint64 `json:"polls"`
	Changes uint64 `json:"changes"`
	Muted   bool   `json:"muted"`
}

// NewSynchronizer creates a synchronizer. onChange is called from the polling
// goroutine when an external change is observed and must not block.
func NewSynchronizer(path string, interval time.Duration, state *session.State, onChange func(muted bool), logger *slog.Logger) *Synchronizer {
	if interval <= 0 {
		interval = time.Second
	}
	if onChange == nil {
		onChange = func(bool) {}
	}

	return &Synchronizer{
		path:     path,
		interval: interval,
		state:    state,
		onChange: onChange,
		logger:   logger,
	}
}

// Load reads the flag once at startup without notifying
func (s *Synchronizer) Load() {
	muted, err := Read(s.path)
	if err != nil {
		s.logger.Debug("Could not read shared mute state", slog.String("error", err.Error()))
		return
	}
	s.state.SetSoftwareMute(muted)
}

// MaybePoll polls the flag if the interval elapsed or a poll was requested.
// It reports whether the mute state changed.
func (s *Synchronizer) MaybePoll(now time.Time) bool {
	if !s.pollNow.Swap(false) && now.Sub(s.lastPoll) < s.interval {
		return false
	}
	s.lastPoll = now
	return s.Poll()
}

// Poll reads the flag and applies any change
func (s *Synchronizer) Poll() bool {
	s.polls.Add(1)

	muted, err := Read(s.path)
	if err != nil {
		s.logger.Debug("Failed to poll shared mute flag", slog.String("error", err.Error()))
		return false
	}

	if !s.state.SetSoftwareMute(muted) {
		return false
	}

	s.changes.Add(1)
	s.logger.Debug("Shared mute change detected",
		slog.String("path", s.path),
		slog.Bool("muted", muted))
	s.onChange(muted)
	return true
}

// RequestPoll makes the next MaybePoll read the flag regardless of the interval
func (s *Synchronizer) RequestPoll() {
	s.pollNow.Store(true)
}

// Set persists a locally initiated change and reports whether the state changed.
// The caller is responsible for the mute-changed notification.
func (s *Synchronizer) Set(muted bool) (bool, error) {
	if err := Write(s.path, muted); err != nil {
		return false, err
	}

	changed := s.state.SetSoftwareMute(muted)
	if changed {
		s.changes.Add(1)
	}

	s.logger.Info("Setting shared mute", slog.Bool("muted", muted))
	return changed, nil
}

// Watch requests a poll whenever the flag file is written, renamed or removed.
// It blocks until ctx is cancelled.
func (s *Synchronizer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create mute flag watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic replacements are seen
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	name := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				s.RequestPoll()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Mute flag watcher error", slog.String("error", err.Error()))
		}
	}
}

// Path returns the flag file location
func (s *Synchronizer) Path() string {
	return s.path
}

// GetStats returns synchronizer counters
func (s *Synchronizer) GetStats() Stats {
	return Stats{
		Path:    s.path,
		Polls:   s.polls.Load(),
		Changes: s.changes.Load(),
		Muted:   s.state.SoftwareMute(),
	}
}
