package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CaptureConfig contains capture source parameters
type CaptureConfig struct {
	Command    string
	InputArgs  []string // e.g. -f pulse
	Device     string
	Format     Format
	SampleRate int
	Channels   int
	BlockSize  int
}

// Source yields captured frames until stopped
type Source interface {
	ReadFrame() (*Frame, error)
	Stop() error
}

// FFmpegCapture runs ffmpeg and reads raw PCM from its stdout
type FFmpegCapture struct {
	config CaptureConfig
	logger *slog.Logger
}

// NewFFmpegCapture creates a new ffmpeg-backed capture
func NewFFmpegCapture(config CaptureConfig, logger *slog.Logger) *FFmpegCapture {
	if config.Command == "" {
		config.Command = "ffmpeg"
	}
	if config.Device == "" {
		config.Device = "default"
	}
	if config.Format == "" {
		config.Format = FormatF32LE
	}
	if config.SampleRate <= 0 {
		config.SampleRate = SampleRate
	}
	if config.Channels <= 0 {
		config.Channels = Channels
	}

	return &FFmpegCapture{
		config: config,
		logger: logger,
	}
}

// Args returns the ffmpeg command line used for capture
func (c *FFmpegCapture) Args() []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
	args = append(args, c.config.InputArgs...)
	args = append(args,
		"-i", c.config.Device,
		"-ac", strconv.Itoa(c.config.Channels),
		"-ar", strconv.Itoa(c.config.SampleRate),
		"-f", string(c.config.Format),
		"-",
	)
	return args
}

// Start launches ffmpeg and returns a running capture session
func (c *FFmpegCapture) Start(ctx context.Context) (Source, error) {
	cmd := exec.CommandContext(ctx, c.config.Command, c.Args()...)
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg capture: %w", err)
	}

	reader, err := NewFrameReader(stdout, c.config.Format, c.config.BlockSize)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	// Catch a bad device or missing input backend before handing frames out
	select {
	case err := <-waitErr:
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("ffmpeg capture exited early: %s", msg)
		}
		if err != nil {
			return nil, fmt.Errorf("ffmpeg capture exited early: %w", err)
		}
		return nil, errors.New("ffmpeg capture exited early")
	case <-time.After(250 * time.Millisecond):
	}

	c.logger.Info("Audio capture started",
		slog.String("device", c.config.Device),
		slog.String("format", string(c.config.Format)),
		slog.Int("block_size", c.config.BlockSize))

	return &ffmpegSession{
		cmd:     cmd,
		stdout:  stdout,
		reader:  reader,
		waitErr: waitErr,
		stderr:  stderr,
	}, nil
}

type ffmpegSession struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	reader  *FrameReader
	waitErr <-chan error
	stderr  *lockedBuffer

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) ReadFrame() (*Frame, error) {
	frame, err := s.reader.ReadFrame()
	if err != nil {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" && !errors.Is(err, os.ErrClosed) {
			return nil, fmt.Errorf("capture stream ended: %w (%s)", err, msg)
		}
		return nil, fmt.Errorf("capture stream ended: %w", err)
	}
	return frame, nil
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(os.Interrupt)
		}

		select {
		case err := <-s.waitErr:
			s.stopErr = normalizeStopErr(err)
		case <-time.After(1200 * time.Millisecond):
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
			s.stopErr = normalizeStopErr(<-s.waitErr)
		}

		_ = s.stdout.Close()
	})
	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// lockedBuffer collects ffmpeg stderr while frames are being read
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
