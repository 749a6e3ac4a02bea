package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultEntity receives the history when none is configured
const DefaultEntity = "input_text.lvas_history"

// SyncConfig contains hub sync parameters
type SyncConfig struct {
	BaseURL    string
	Token      string
	Entity     string
	Lines      int
	Timeout    time.Duration
	MaxRetries int
}

// Syncer posts the history tail to the hub states API
type Syncer struct {
	log        *Log
	config     SyncConfig
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	// Statistics
	attempts  uint64
	successes uint64
	failures  uint64
	lastSync  time.Time
	lastError string

	mu sync.RWMutex
}

// SyncStats represents syncer statistics
type SyncStats struct {
	Enabled   bool      `json:"enabled"`
	Attempts  uint64    `json:"attempts"`
	Successes uint64    `json:"successes"`
	Failures  uint64    `json:"failures"`
	LastSync  time.Time `json:"last_sync"`
	LastError string    `json:"last_error,omitempty"`
}

// NewSyncer creates a syncer for log
func NewSyncer(log *Log, config SyncConfig, logger *slog.Logger) *Syncer {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Entity == "" {
		config.Entity = DefaultEntity
	}
	if config.Lines <= 0 {
		config.Lines = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	return &Syncer{
		log:        log,
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// Enabled reports whether both the hub URL and token are set
func (s *Syncer) Enabled() bool {
	return s.config.BaseURL != "" && s.config.Token != ""
}

type statePayload struct {
	State      string            `json:"state"`
	Attributes map[string]string `json:"attributes"`
}

// Sync uploads the most recent lines. Disabled syncers return nil without a request.
func (s *Syncer) Sync(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Debug("History sync disabled")
		return nil
	}

	lines, err := s.log.Tail(s.config.Lines)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		s.logger.Debug("History log empty, skipping sync")
		return nil
	}

	body, err := json.Marshal(statePayload{
		State:      "Updated " + s.now().Format("15:04:05"),
		Attributes: map[string]string{"history": strings.Join(lines, "")},
	})
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	url := fmt.Sprintf("%s/api/states/%s", s.config.BaseURL, s.config.Entity)

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.post(ctx, url, body)
		if lastErr == nil {
			s.recordResult(nil)
			s.logger.Debug("History synced",
				slog.String("entity", s.config.Entity),
				slog.Int("lines", len(lines)))
			return nil
		}
	}

	s.recordResult(lastErr)
	return fmt.Errorf("failed to sync history: %w", lastErr)
}

func (s *Syncer) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("HTTP error %d", resp.StatusCode)
	}
	return nil
}

func (s *Syncer) recordResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if err != nil {
		s.failures++
		s.lastError = err.Error()
		return
	}
	s.successes++
	s.lastSync = s.now()
	s.lastError = ""
}

// GetStats returns syncer statistics
func (s *Syncer) GetStats() SyncStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SyncStats{
		Enabled:   s.Enabled(),
		Attempts:  s.attempts,
		Successes: s.successes,
		Failures:  s.failures,
		LastSync:  s.lastSync,
		LastError: s.lastError,
	}
}
