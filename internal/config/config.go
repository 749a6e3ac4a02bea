package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete satellite configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	HTTP        HTTPConfig        `yaml:"http"`
	Audio       AudioConfig       `yaml:"audio"`
	WakeWord    WakeWordConfig    `yaml:"wake_word"`
	Session     SessionConfig     `yaml:"session"`
	Mute        MuteConfig        `yaml:"mute"`
	Preferences PreferencesConfig `yaml:"preferences"`
	History     HistoryConfig     `yaml:"history"`
	Display     DisplayConfig     `yaml:"display"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains the hub-facing API listener configuration
type ServerConfig struct {
	Name           string `yaml:"name"`
	FriendlyName   string `yaml:"friendly_name"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MACAddress     string `yaml:"mac_address"`
	RestartCommand string `yaml:"restart_command"`
}

// HTTPConfig contains the monitoring API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains capture and playback parameters
type AudioConfig struct {
	CaptureCommand string   `yaml:"capture_command"`
	InputDevice    string   `yaml:"input_device"`
	CaptureFormat  string   `yaml:"capture_format"` // s16le or f32le
	CaptureArgs    []string `yaml:"capture_args"`   // ffmpeg input options placed before -i
	SampleRate     int      `yaml:"sample_rate"`
	Channels       int      `yaml:"channels"`
	BlockSize      int      `yaml:"block_size"` // samples per frame
	OutputDevice   string   `yaml:"output_device"`
	PlayerCommand  string   `yaml:"player_command"`
	DuckRatio      float64  `yaml:"duck_ratio"`
	Volume         int      `yaml:"volume"` // percent
}

// WakeWordConfig contains detector configuration
type WakeWordConfig struct {
	ModelDirs         []string `yaml:"model_dirs"`
	DefaultModel      string   `yaml:"default_model"`
	StopModel         string   `yaml:"stop_model"`
	DownloadDir       string   `yaml:"download_dir"`
	ClassifierCommand []string `yaml:"classifier_command"`
	RefractorySeconds float64  `yaml:"refractory_seconds"`
	DisableDuringTTS  bool     `yaml:"disable_during_tts"`
	MaxActive         int      `yaml:"max_active"`
	FetchTimeout      int      `yaml:"fetch_timeout"` // seconds
}

// SessionConfig contains turn sequencing parameters
type SessionConfig struct {
	WakeupSound           string  `yaml:"wakeup_sound"`
	TimerFinishedSound    string  `yaml:"timer_finished_sound"`
	SensorClearDelay      float64 `yaml:"sensor_clear_delay"`      // seconds
	TimerRepeatInterval   float64 `yaml:"timer_repeat_interval"`   // seconds
	ConnectionIdleTimeout int     `yaml:"connection_idle_timeout"` // seconds
}

// MuteConfig contains the shared mute flag configuration
type MuteConfig struct {
	FlagPath     string  `yaml:"flag_path"`
	PollInterval float64 `yaml:"poll_interval"` // seconds
	Watch        bool    `yaml:"watch"`
}

// PreferencesConfig contains preference store locations
type PreferencesConfig struct {
	Path       string `yaml:"path"`
	GlobalPath string `yaml:"global_path"`
}

// HistoryConfig contains conversation history configuration
type HistoryConfig struct {
	LogPath    string `yaml:"log_path"`
	SyncLines  int    `yaml:"sync_lines"`
	HABaseURL  string `yaml:"ha_base_url"`
	HAToken    string `yaml:"ha_token"`
	HAEntity   string `yaml:"ha_entity"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// DisplayConfig contains screen power management configuration
type DisplayConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Command     string `yaml:"command"`
	Display     string `yaml:"display"`
	IdleTimeout int    `yaml:"idle_timeout"` // seconds
}

// DiscoveryConfig contains mDNS advertisement configuration
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and parses the configuration file.
// A .env file next to the configuration file is loaded into the environment when present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envPath, err)
	}

	config.ApplyDefaults()
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills every unset field with its default value
func (c *Config) ApplyDefaults() {
	if c.Server.Name == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Server.Name = host
		} else {
			c.Server.Name = "voice-satellite"
		}
	}
	if c.Server.FriendlyName == "" {
		c.Server.FriendlyName = c.Server.Name
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 6052
	}

	if c.HTTP.Address == "" {
		c.HTTP.Address = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}

	if c.Audio.CaptureCommand == "" {
		c.Audio.CaptureCommand = "ffmpeg"
	}
	if len(c.Audio.CaptureArgs) == 0 {
		c.Audio.CaptureArgs = []string{"-f", "pulse"}
	}
	if c.Audio.CaptureFormat == "" {
		c.Audio.CaptureFormat = "f32le"
	}
	if c.Audio.InputDevice == "" {
		c.Audio.InputDevice = "default"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.BlockSize == 0 {
		c.Audio.BlockSize = 1024
	}
	if c.Audio.PlayerCommand == "" {
		c.Audio.PlayerCommand = "mpv"
	}
	if c.Audio.DuckRatio == 0 {
		c.Audio.DuckRatio = 0.5
	}
	if c.Audio.Volume == 0 {
		c.Audio.Volume = 100
	}

	if len(c.WakeWord.ModelDirs) == 0 {
		c.WakeWord.ModelDirs = []string{"wakewords"}
	}
	if c.WakeWord.DefaultModel == "" {
		c.WakeWord.DefaultModel = "okay_nabu"
	}
	if c.WakeWord.StopModel == "" {
		c.WakeWord.StopModel = "stop"
	}
	if c.WakeWord.DownloadDir == "" {
		c.WakeWord.DownloadDir = "local"
	}
	if len(c.WakeWord.ClassifierCommand) == 0 {
		c.WakeWord.ClassifierCommand = []string{"wakeword-classifier"}
	}
	if c.WakeWord.RefractorySeconds == 0 {
		c.WakeWord.RefractorySeconds = 2.0
	}
	if c.WakeWord.MaxActive == 0 {
		c.WakeWord.MaxActive = 2
	}
	if c.WakeWord.FetchTimeout == 0 {
		c.WakeWord.FetchTimeout = 30
	}

	if c.Session.WakeupSound == "" {
		c.Session.WakeupSound = "sounds/wake_word_triggered.flac"
	}
	if c.Session.TimerFinishedSound == "" {
		c.Session.TimerFinishedSound = "sounds/timer_finished.flac"
	}
	if c.Session.SensorClearDelay == 0 {
		c.Session.SensorClearDelay = 5.0
	}
	if c.Session.TimerRepeatInterval == 0 {
		c.Session.TimerRepeatInterval = 1.0
	}
	if c.Session.ConnectionIdleTimeout == 0 {
		c.Session.ConnectionIdleTimeout = 300
	}

	if c.Mute.FlagPath == "" {
		c.Mute.FlagPath = "/dev/shm/lvas_system_mute"
	}
	if c.Mute.PollInterval == 0 {
		c.Mute.PollInterval = 1.0
	}

	if c.Preferences.Path == "" {
		c.Preferences.Path = "preferences.json"
	}
	if c.Preferences.GlobalPath == "" {
		c.Preferences.GlobalPath = "ha_settings.json"
	}

	if c.History.LogPath == "" {
		c.History.LogPath = "/dev/shm/lvas_log"
	}
	if c.History.SyncLines == 0 {
		c.History.SyncLines = 100
	}
	if c.History.Timeout == 0 {
		c.History.Timeout = 10
	}

	if c.Display.Command == "" {
		c.Display.Command = "/usr/bin/xset"
	}
	if c.Display.Display == "" {
		c.Display.Display = ":0"
	}
	if c.Display.IdleTimeout == 0 {
		c.Display.IdleTimeout = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// ApplyEnv overrides values from LVA_* environment variables
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LVA_NAME"); v != "" {
		c.Server.Name = v
	}
	if v := os.Getenv("LVA_HA_BASE_URL"); v != "" {
		c.History.HABaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("LVA_HA_TOKEN"); v != "" {
		c.History.HAToken = v
	}
	if v := os.Getenv("LVA_HA_HISTORY_ENTITY"); v != "" {
		c.History.HAEntity = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.WakeWord.Validate(); err != nil {
		return fmt.Errorf("wake_word config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Mute.Validate(); err != nil {
		return fmt.Errorf("mute config: %w", err)
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.CaptureFormat != "s16le" && a.CaptureFormat != "f32le" {
		return fmt.Errorf("capture_format must be 's16le' or 'f32le', got '%s'", a.CaptureFormat)
	}

	if a.BlockSize < 160 || a.BlockSize > 16000 {
		return fmt.Errorf("block_size must be between 160 and 16000 samples, got %d", a.BlockSize)
	}

	if a.DuckRatio <= 0 || a.DuckRatio > 1 {
		return fmt.Errorf("duck_ratio must be in (0, 1], got %f", a.DuckRatio)
	}

	if a.Volume < 0 || a.Volume > 100 {
		return fmt.Errorf("volume must be between 0 and 100, got %d", a.Volume)
	}

	return nil
}

// Validate validates wake word configuration
func (w *WakeWordConfig) Validate() error {
	if len(w.ModelDirs) == 0 {
		return fmt.Errorf("model_dirs cannot be empty")
	}

	if w.StopModel == "" {
		return fmt.Errorf("stop_model cannot be empty")
	}

	if w.DefaultModel == w.StopModel {
		return fmt.Errorf("default_model and stop_model must differ, both are '%s'", w.StopModel)
	}

	if len(w.ClassifierCommand) == 0 || w.ClassifierCommand[0] == "" {
		return fmt.Errorf("classifier_command cannot be empty")
	}

	if w.RefractorySeconds < 0 {
		return fmt.Errorf("refractory_seconds cannot be negative, got %f", w.RefractorySeconds)
	}

	if w.MaxActive < 1 {
		return fmt.Errorf("max_active must be at least 1, got %d", w.MaxActive)
	}

	if w.FetchTimeout < 1 {
		return fmt.Errorf("fetch_timeout must be at least 1 second, got %d", w.FetchTimeout)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.SensorClearDelay < 0 {
		return fmt.Errorf("sensor_clear_delay cannot be negative, got %f", s.SensorClearDelay)
	}

	if s.TimerRepeatInterval <= 0 {
		return fmt.Errorf("timer_repeat_interval must be positive, got %f", s.TimerRepeatInterval)
	}

	if s.ConnectionIdleTimeout < 1 {
		return fmt.Errorf("connection_idle_timeout must be at least 1 second, got %d", s.ConnectionIdleTimeout)
	}

	return nil
}

// Validate validates mute configuration
func (m *MuteConfig) Validate() error {
	if m.FlagPath == "" {
		return fmt.Errorf("flag_path cannot be empty")
	}

	if m.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %f", m.PollInterval)
	}

	return nil
}

// Validate validates history configuration
func (h *HistoryConfig) Validate() error {
	if h.SyncLines < 1 {
		return fmt.Errorf("sync_lines must be at least 1, got %d", h.SyncLines)
	}

	if h.HABaseURL != "" && !strings.HasPrefix(h.HABaseURL, "http://") && !strings.HasPrefix(h.HABaseURL, "https://") {
		return fmt.Errorf("ha_base_url must be an http(s) URL, got '%s'", h.HABaseURL)
	}

	if h.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", h.MaxRetries)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// HistorySyncEnabled reports whether the hub history sync has everything it needs
func (h *HistoryConfig) HistorySyncEnabled() bool {
	return h.HABaseURL != "" && h.HAToken != "" && h.HAEntity != ""
}

// GetRefractoryDuration returns the refractory window as a time.Duration
func (w *WakeWordConfig) GetRefractoryDuration() time.Duration {
	return time.Duration(w.RefractorySeconds * float64(time.Second))
}

// GetFetchTimeoutDuration returns the detector fetch timeout as a time.Duration
func (w *WakeWordConfig) GetFetchTimeoutDuration() time.Duration {
	return time.Duration(w.FetchTimeout) * time.Second
}

// GetSensorClearDelay returns the sensor clear delay as a time.Duration
func (s *SessionConfig) GetSensorClearDelay() time.Duration {
	return time.Duration(s.SensorClearDelay * float64(time.Second))
}

// GetTimerRepeatInterval returns the timer repeat interval as a time.Duration
func (s *SessionConfig) GetTimerRepeatInterval() time.Duration {
	return time.Duration(s.TimerRepeatInterval * float64(time.Second))
}

// GetConnectionIdleTimeout returns the connection idle timeout as a time.Duration
func (s *SessionConfig) GetConnectionIdleTimeout() time.Duration {
	return time.Duration(s.ConnectionIdleTimeout) * time.Second
}

// GetPollInterval returns the mute poll interval as a time.Duration
func (m *MuteConfig) GetPollInterval() time.Duration {
	return time.Duration(m.PollInterval * float64(time.Second))
}

// GetTimeoutDuration returns the history sync timeout as a time.Duration
func (h *HistoryConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(h.Timeout) * time.Second
}

// Redacted returns a copy safe to expose over the monitoring API
func (c *Config) Redacted() Config {
	out := *c
	if out.History.HAToken != "" {
		out.History.HAToken = "***"
	}
	return out
}
