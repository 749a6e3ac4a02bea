package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// ErrHTTPStatus is returned when the server answers with a non-2xx status
	ErrHTTPStatus = errors.New("unexpected HTTP status")
	// ErrSizeMismatch is returned when a downloaded file has the wrong size
	ErrSizeMismatch = errors.New("file size mismatch")
	// ErrHashMismatch is returned when a downloaded file has the wrong sha256
	ErrHashMismatch = errors.New("file hash mismatch")
	// ErrUnverifiable is returned by VerifyFile when the expected size or hash is missing
	ErrUnverifiable = errors.New("no expected size and hash to verify against")
)

// Client downloads files over HTTP with retries
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	bytesDownloaded uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains download client configuration
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	BytesDownloaded uint64        `json:"bytes_downloaded"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// NewClient creates a new download client
func NewClient(config Config, logger *slog.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 2
	}

	if config.UserAgent == "" {
		config.UserAgent = "voice-satellite/1.0"
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Download fetches url into dest. A zero size or empty hash skips that check.
// The file is written to a temporary name and renamed only after verification.
func (c *Client) Download(ctx context.Context, url, dest string, size int64, sha256Hex string) error {
	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > 10*time.Second {
				backoffTime = 10 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				c.incrementFailedRequests()
				return ctx.Err()
			}
		}

		n, err := c.downloadOnce(ctx, url, dest, size, sha256Hex)
		if err == nil {
			c.recordSuccess(uint64(n), time.Since(startTime))
			c.logger.Debug("Downloaded file",
				slog.String("url", url),
				slog.String("path", dest),
				slog.Int64("bytes", n))
			return nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}

		c.logger.Warn("Download attempt failed",
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	c.incrementFailedRequests()
	return fmt.Errorf("failed to download %s: %w", url, lastErr)
}

// downloadOnce performs a single request and writes the verified body to dest
func (c *Client) downloadOnce(ctx context.Context, url, dest string, size int64, sha256Hex string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &statusError{code: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", dest, err)
	}

	if size > 0 && n != size {
		return n, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, n, size)
	}

	if sha256Hex != "" {
		if got := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(got, sha256Hex) {
			return n, fmt.Errorf("%w: got %s", ErrHashMismatch, got)
		}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return n, fmt.Errorf("failed to move %s into place: %w", dest, err)
	}

	return n, nil
}

// VerifyFile checks an existing file against the expected size and sha256.
// Both must be known; a file is never trusted on one of them alone.
func VerifyFile(path string, size int64, sha256Hex string) error {
	if size <= 0 || sha256Hex == "" {
		return ErrUnverifiable
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if info.Size() != size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, info.Size(), size)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}

	if got := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(got, sha256Hex) {
		return fmt.Errorf("%w: got %s", ErrHashMismatch, got)
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %d", ErrHTTPStatus.Error(), e.code)
}

func (e *statusError) Unwrap() error {
	return ErrHTTPStatus
}

// isRetryableError reports whether another attempt may succeed
func isRetryableError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, ErrSizeMismatch) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) recordSuccess(n uint64, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successRequests++
	c.bytesDownloaded += n

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		BytesDownloaded: c.bytesDownloaded,
		AvgResponseTime: c.avgResponseTime,
	}
}
