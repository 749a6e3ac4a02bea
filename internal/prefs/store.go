package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Preferences are the per-instance settings
type Preferences struct {
	ActiveWakeWords []string `json:"active_wake_words"`
}

// Global are the settings shared by every instance
type Global struct {
	WakeWordFriendlyNames map[string]string `json:"wake_word_friendly_names"`
	HABaseURL             string            `json:"ha_base_url,omitempty"`
	HAToken               string            `json:"ha_token,omitempty"`
	HAHistoryEntity       string            `json:"ha_history_entity,omitempty"`
}

// legacyFile is the per-instance file as written by older releases,
// which also carried the global fields
type legacyFile struct {
	ActiveWakeWords       []string          `json:"active_wake_words"`
	WakeWordFriendlyNames map[string]string `json:"wake_word_friendly_names"`
	HABaseURL             *string           `json:"ha_base_url"`
	HAToken               *string           `json:"ha_token"`
	HAHistoryEntity       *string           `json:"ha_history_entity"`
}

func (l *legacyFile) hasGlobals() bool {
	return l.WakeWordFriendlyNames != nil || l.HABaseURL != nil || l.HAToken != nil || l.HAHistoryEntity != nil
}

// Store loads and saves preference files
type Store struct {
	path       string
	globalPath string
	logger     *slog.Logger

	mu     sync.RWMutex
	prefs  Preferences
	global Global
}

// NewStore creates a store. An empty globalPath means ha_settings.json next to path.
func NewStore(path, globalPath string, logger *slog.Logger) *Store {
	if globalPath == "" {
		globalPath = filepath.Join(filepath.Dir(path), "ha_settings.json")
	}

	return &Store{
		path:       path,
		globalPath: globalPath,
		logger:     logger,
		global:     Global{WakeWordFriendlyNames: map[string]string{}},
	}
}

// Load reads both files. Missing files leave defaults in place.
// Global fields found in a legacy per-instance file are migrated when no global file exists.
func (s *Store) Load() error {
	var legacy legacyFile
	legacyFound, err := readJSON(s.path, &legacy)
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}

	var global Global
	globalFound, err := readJSON(s.globalPath, &global)
	if err != nil {
		return fmt.Errorf("failed to load global preferences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if legacyFound {
		s.logger.Debug("Loaded preferences", slog.String("path", s.path))
		s.prefs = Preferences{ActiveWakeWords: legacy.ActiveWakeWords}
	}

	switch {
	case globalFound:
		s.global = global
	case legacyFound && legacy.hasGlobals():
		s.logger.Info("Migrating shared settings", slog.String("path", s.globalPath))
		s.global = Global{
			WakeWordFriendlyNames: legacy.WakeWordFriendlyNames,
			HABaseURL:             deref(legacy.HABaseURL),
			HAToken:               deref(legacy.HAToken),
			HAHistoryEntity:       deref(legacy.HAHistoryEntity),
		}
		if err := writeJSON(s.globalPath, s.global); err != nil {
			return fmt.Errorf("failed to migrate global preferences: %w", err)
		}
	}

	if s.global.WakeWordFriendlyNames == nil {
		s.global.WakeWordFriendlyNames = map[string]string{}
	}
	return nil
}

// ActiveWakeWords returns the saved active wake word ids
func (s *Store) ActiveWakeWords() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.prefs.ActiveWakeWords...)
}

// SetActiveWakeWords stores and persists the active wake word ids
func (s *Store) SetActiveWakeWords(ids []string) error {
	s.mu.Lock()
	s.prefs.ActiveWakeWords = append([]string{}, ids...)
	prefs := s.prefs
	s.mu.Unlock()

	s.logger.Debug("Saving preferences", slog.String("path", s.path))
	if err := writeJSON(s.path, prefs); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// Global returns a copy of the global settings
func (s *Store) Global() Global {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.global
	g.WakeWordFriendlyNames = make(map[string]string, len(s.global.WakeWordFriendlyNames))
	for k, v := range s.global.WakeWordFriendlyNames {
		g.WakeWordFriendlyNames[k] = v
	}
	return g
}

// FriendlyName returns the display name for a wake word id, or fallback when none is configured
func (s *Store) FriendlyName(id, fallback string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if name, ok := s.global.WakeWordFriendlyNames[id]; ok && name != "" {
		return name
	}
	return fallback
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return true, nil
}

// writeJSON replaces path atomically
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
