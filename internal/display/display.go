package display

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// StayAwakeSeconds keeps the screen on while an interaction is in progress
const StayAwakeSeconds = 600

// Controller manages screen power around voice turns
type Controller interface {
	Wake(ctx context.Context) error
	Sleep(ctx context.Context) error
}

// Config contains xset controller parameters
type Config struct {
	Command     string
	Display     string
	IdleTimeout time.Duration
}

// XsetController drives DPMS through the xset utility
type XsetController struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	wakes    uint64
	sleeps   uint64
	failures uint64
}

// Stats represents controller statistics
type Stats struct {
	Wakes    uint64 `json:"wakes"`
	Sleeps   uint64 `json:"sleeps"`
	Failures uint64 `json:"failures"`
}

// NewXsetController creates a controller for the configured X display
func NewXsetController(config Config, logger *slog.Logger) *XsetController {
	if config.Command == "" {
		config.Command = "xset"
	}
	if config.Display == "" {
		config.Display = ":0"
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = time.Minute
	}
	return &XsetController{config: config, logger: logger}
}

// Wake forces the screen on and extends the DPMS timeout
func (x *XsetController) Wake(ctx context.Context) error {
	x.mu.Lock()
	x.wakes++
	x.mu.Unlock()

	if err := x.run(ctx, "dpms", "force", "on"); err != nil {
		return err
	}
	return x.setTimeout(ctx, StayAwakeSeconds)
}

// Sleep restores the idle DPMS timeout
func (x *XsetController) Sleep(ctx context.Context) error {
	x.mu.Lock()
	x.sleeps++
	x.mu.Unlock()

	return x.setTimeout(ctx, int(x.config.IdleTimeout/time.Second))
}

func (x *XsetController) setTimeout(ctx context.Context, seconds int) error {
	s := strconv.Itoa(seconds)
	return x.run(ctx, "dpms", s, s, s, "+dpms")
}

func (x *XsetController) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, x.config.Command, args...)
	cmd.Env = append(os.Environ(), "DISPLAY="+x.config.Display)

	if out, err := cmd.CombinedOutput(); err != nil {
		x.mu.Lock()
		x.failures++
		x.mu.Unlock()

		x.logger.Debug("Display command failed",
			slog.Any("args", args),
			slog.String("output", string(out)),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to run %s: %w", x.config.Command, err)
	}
	return nil
}

// GetStats returns controller statistics
func (x *XsetController) GetStats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()
	return Stats{Wakes: x.wakes, Sleeps: x.sleeps, Failures: x.failures}
}

// Noop is used when screen management is disabled
type Noop struct{}

func (Noop) Wake(context.Context) error  { return nil }
func (Noop) Sleep(context.Context) error { return nil }
