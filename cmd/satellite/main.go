package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/voice-satellite/internal/audio"
	"github.com/skypro1111/voice-satellite/internal/config"
	"github.com/skypro1111/voice-satellite/internal/detector"
	"github.com/skypro1111/voice-satellite/internal/display"
	"github.com/skypro1111/voice-satellite/internal/events"
	"github.com/skypro1111/voice-satellite/internal/fetch"
	"github.com/skypro1111/voice-satellite/internal/history"
	"github.com/skypro1111/voice-satellite/internal/metrics"
	"github.com/skypro1111/voice-satellite/internal/mute"
	"github.com/skypro1111/voice-satellite/internal/pipeline"
	"github.com/skypro1111/voice-satellite/internal/prefs"
	"github.com/skypro1111/voice-satellite/internal/satellite"
	"github.com/skypro1111/voice-satellite/internal/server"
	"github.com/skypro1111/voice-satellite/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-satellite"
	serviceVersion    = "1.0.0"
)

type options struct {
	configPath string
	name       string
	port       int
	debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "satellite",
		Short:        "Voice satellite for a home automation hub",
		SilenceUsage: true,
		Version:      serviceVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSatellite(cmd.Context(), opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	flags.StringVar(&opts.name, "name", "", "Override the satellite name")
	flags.IntVar(&opts.port, "port", 0, "Override the API port")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the satellite (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSatellite(cmd.Context(), opts)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "wake-words",
		Short: "List the local wake word catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listWakeWords(cmd, opts)
		},
	})

	return root
}

// loadConfig loads the configuration file and applies command line overrides
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.name != "" {
		if cfg.Server.FriendlyName == cfg.Server.Name {
			cfg.Server.FriendlyName = opts.name
		}
		cfg.Server.Name = opts.name
	}
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if cfg.Server.MACAddress == "" {
		cfg.Server.MACAddress = hardwareAddress()
	}

	return cfg, nil
}

func runSatellite(parent context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return err
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", opts.configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("name", cfg.Server.Name),
		slog.Int("port", cfg.Server.Port),
		slog.String("mac_address", cfg.Server.MACAddress),
		slog.String("input_device", cfg.Audio.InputDevice),
		slog.String("output_device", cfg.Audio.OutputDevice),
		slog.Any("model_dirs", cfg.WakeWord.ModelDirs),
		slog.String("mute_flag", cfg.Mute.FlagPath),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	store := prefs.NewStore(cfg.Preferences.Path, cfg.Preferences.GlobalPath, logger)
	if err := store.Load(); err != nil {
		logger.Warn("Failed to load preferences, using defaults", slog.String("error", err.Error()))
	}

	registry, err := openRegistry(cfg, logger)
	if err != nil {
		logger.Error("Failed to load wake word catalog", slog.String("error", err.Error()))
		return err
	}
	defer registry.Close()

	active := loadActiveWakeWords(registry, store.ActiveWakeWords(), cfg.WakeWord.DefaultModel, cfg.WakeWord.MaxActive, logger)
	if len(active) == 0 {
		err := fmt.Errorf("no wake word could be loaded")
		logger.Error("Failed to start detection", slog.String("error", err.Error()))
		return err
	}

	stopDetector, err := registry.LoadStop()
	if err != nil {
		logger.Warn("Stop word disabled", slog.String("error", err.Error()))
		stopDetector = nil
	}

	state := session.NewState(cfg.WakeWord.GetRefractoryDuration(), active)
	bus := events.NewBus(64)

	tts := audio.NewMpvPlayer(audio.MpvConfig{
		Name:      cfg.Server.Name + "-tts",
		Command:   cfg.Audio.PlayerCommand,
		Device:    cfg.Audio.OutputDevice,
		DuckRatio: cfg.Audio.DuckRatio,
		Volume:    cfg.Audio.Volume,
	}, logger.With(slog.String("player", "tts")))
	music := audio.NewMpvPlayer(audio.MpvConfig{
		Name:      cfg.Server.Name + "-music",
		Command:   cfg.Audio.PlayerCommand,
		Device:    cfg.Audio.OutputDevice,
		DuckRatio: cfg.Audio.DuckRatio,
		Volume:    cfg.Audio.Volume,
	}, logger.With(slog.String("player", "music")))
	defer tts.Stop()
	defer music.Stop()

	historyLog := history.NewLog(cfg.History.LogPath)
	syncer := newHistorySyncer(cfg, store.Global(), historyLog, logger)

	var screen display.Controller = display.Noop{}
	if cfg.Display.Enabled {
		screen = display.NewXsetController(display.Config{
			Command:     cfg.Display.Command,
			Display:     cfg.Display.Display,
			IdleTimeout: time.Duration(cfg.Display.IdleTimeout) * time.Second,
		}, logger.With(slog.String("component", "display")))
	}

	// the mute callback needs the satellite, which needs the synchronizer
	var sat *satellite.Satellite
	muteSync := mute.NewSynchronizer(cfg.Mute.FlagPath, cfg.Mute.GetPollInterval(), state, func(muted bool) {
		sat.MuteChanged(muted)
	}, logger.With(slog.String("component", "mute")))
	muteSync.Load()

	sat, err = satellite.New(satellite.Config{
		Name:               cfg.Server.Name,
		FriendlyName:       cfg.Server.FriendlyName,
		MACAddress:         cfg.Server.MACAddress,
		Version:            serviceVersion,
		WakeupSound:        cfg.Session.WakeupSound,
		TimerFinishedSound: cfg.Session.TimerFinishedSound,
		SensorClearDelay:   cfg.Session.GetSensorClearDelay(),
		TimerRepeat:        cfg.Session.GetTimerRepeatInterval(),
		IdleTimeout:        cfg.Session.GetConnectionIdleTimeout(),
		MaxActiveWakeWords: cfg.WakeWord.MaxActive,
		DownloadDir:        cfg.WakeWord.DownloadDir,
		RestartCommand:     cfg.Server.RestartCommand,
		Volume:             cfg.Audio.Volume,
	}, satellite.Deps{
		State:    state,
		Registry: registry,
		TTS:      tts,
		Music:    music,
		Mute:     muteSync,
		Prefs:    store,
		Fetcher: fetch.NewClient(fetch.Config{
			Timeout:   cfg.WakeWord.GetFetchTimeoutDuration(),
			UserAgent: serviceName + "/" + serviceVersion,
		}, logger.With(slog.String("component", "fetch"))),
		History:     historyLog,
		HistorySync: syncer,
		Display:     screen,
		Events:      bus,
		Metrics:     appMetrics,
	}, logger.With(slog.String("component", "satellite")))
	if err != nil {
		logger.Error("Failed to create satellite", slog.String("error", err.Error()))
		return err
	}

	coordinator := pipeline.NewCoordinator(pipeline.Config{
		DisableDuringTTS: cfg.WakeWord.DisableDuringTTS,
	}, state, registry, stopDetector, muteSync, sat, sat, logger.With(slog.String("component", "pipeline")))
	coordinator.SetMetrics(appMetrics)

	capture := audio.NewFFmpegCapture(audio.CaptureConfig{
		Command:    cfg.Audio.CaptureCommand,
		InputArgs:  cfg.Audio.CaptureArgs,
		Device:     cfg.Audio.InputDevice,
		Format:     audio.Format(cfg.Audio.CaptureFormat),
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BlockSize:  cfg.Audio.BlockSize,
	}, logger.With(slog.String("component", "capture")))

	source, err := capture.Start(ctx)
	if err != nil {
		logger.Error("Failed to start audio capture", slog.String("error", err.Error()))
		return err
	}

	apiServer := server.NewTCPServer(&cfg.Server, logger.With(slog.String("component", "api")), sat)
	if err := apiServer.Start(); err != nil {
		logger.Error("Failed to start API server", slog.String("error", err.Error()))
		source.Stop()
		return err
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, serviceVersion, server.HTTPDeps{
			Satellite: sat,
			State:     state,
			Registry:  registry,
			Pipeline:  coordinator,
			Mute:      muteSync,
			API:       apiServer,
			Events:    bus,
			Metrics:   appMetrics,
		}, logger.With(slog.String("component", "http")))
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			apiServer.Stop()
			source.Stop()
			return err
		}
	}

	var advertiser *server.Advertiser
	if cfg.Discovery.Enabled {
		advertiser, err = server.Advertise(server.AdvertiseConfig{
			Name:       cfg.Server.Name,
			Port:       cfg.Server.Port,
			MACAddress: cfg.Server.MACAddress,
			Version:    serviceVersion,
		}, logger.With(slog.String("component", "discovery")))
		if err != nil {
			logger.Warn("mDNS discovery disabled", slog.String("error", err.Error()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sat.Run(gctx)
	})
	g.Go(func() error {
		if err := coordinator.Run(gctx, source); err != nil {
			return fmt.Errorf("audio pipeline stopped: %w", err)
		}
		return nil
	})
	if cfg.Mute.Watch {
		g.Go(func() error {
			if err := muteSync.Watch(gctx); err != nil {
				logger.Warn("Mute flag watch disabled, polling only", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown...")

		advertiser.Shutdown()
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
		}
		if err := apiServer.Stop(); err != nil {
			logger.Error("Error stopping API server", slog.String("error", err.Error()))
		}
		return nil
	})

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("api_address", apiServer.Addr().String()),
		slog.Any("active_wake_words", active),
	)

	err = g.Wait()

	stats := coordinator.GetStats()
	logger.Info("Final pipeline statistics",
		slog.Uint64("frames_processed", stats.FramesProcessed),
		slog.Uint64("frame_errors", stats.FrameErrors),
		slog.Uint64("wake_accepted", stats.WakeAccepted),
		slog.Uint64("stop_accepted", stats.StopAccepted),
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service stopped with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Service stopped")
	return nil
}

// openRegistry scans the model directories, downloaded external wake words included
func openRegistry(cfg *config.Config, logger *slog.Logger) (*detector.Registry, error) {
	dirs := append(append([]string(nil), cfg.WakeWord.ModelDirs...),
		filepath.Join(cfg.WakeWord.DownloadDir, fetch.ExternalDir))

	catalog, skipped, err := detector.LoadCatalog(dirs, cfg.WakeWord.StopModel)
	if err != nil {
		return nil, err
	}
	for path, reason := range skipped {
		logger.Warn("Skipping wake word descriptor",
			slog.String("path", path),
			slog.String("error", reason.Error()))
	}

	logger.Info("Wake word catalog loaded",
		slog.Any("wake_words", catalog.IDs()),
		slog.Bool("stop_model", catalog.Stop != nil))

	return detector.NewRegistry(catalog, detector.NewProcessLoader(cfg.WakeWord.ClassifierCommand)), nil
}

// loadActiveWakeWords loads the saved wake words, falling back to the default model
func loadActiveWakeWords(registry *detector.Registry, saved []string, fallback string, maxActive int, logger *slog.Logger) []string {
	requested := lo.Uniq(saved)
	if len(requested) == 0 {
		requested = []string{fallback}
	}

	active := make([]string, 0, len(requested))
	for _, id := range requested {
		if len(active) >= maxActive {
			break
		}
		if _, err := registry.Load(id); err != nil {
			logger.Warn("Failed to load wake word",
				slog.String("id", id),
				slog.String("error", err.Error()))
			continue
		}
		active = append(active, id)
	}

	if len(active) == 0 && !lo.Contains(requested, fallback) {
		if _, err := registry.Load(fallback); err == nil {
			active = append(active, fallback)
		}
	}
	return active
}

// newHistorySyncer merges hub settings from the config with the shared global settings.
// Config values win.
func newHistorySyncer(cfg *config.Config, global prefs.Global, log *history.Log, logger *slog.Logger) *history.Syncer {
	h := cfg.History
	if h.HABaseURL == "" {
		h.HABaseURL = global.HABaseURL
	}
	if h.HAToken == "" {
		h.HAToken = global.HAToken
	}
	if h.HAEntity == "" {
		h.HAEntity = global.HAHistoryEntity
	}
	if h.HAEntity == "" {
		h.HAEntity = history.DefaultEntity
	}

	if !h.HistorySyncEnabled() {
		logger.Info("History sync disabled, hub URL or token not configured")
		return nil
	}

	return history.NewSyncer(log, history.SyncConfig{
		BaseURL:    h.HABaseURL,
		Token:      h.HAToken,
		Entity:     h.HAEntity,
		Lines:      h.SyncLines,
		Timeout:    h.GetTimeoutDuration(),
		MaxRetries: h.MaxRetries,
	}, logger.With(slog.String("component", "history")))
}

// listWakeWords prints the local catalog with the active set marked
func listWakeWords(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := initLogger(config.LoggingConfig{Level: "error", Output: "stderr"})

	registry, err := openRegistry(cfg, logger)
	if err != nil {
		return err
	}

	store := prefs.NewStore(cfg.Preferences.Path, cfg.Preferences.GlobalPath, logger)
	if err := store.Load(); err != nil {
		return err
	}
	active := store.ActiveWakeWords()
	if len(active) == 0 {
		active = []string{cfg.WakeWord.DefaultModel}
	}

	out := cmd.OutOrStdout()
	for _, m := range registry.Models() {
		marker := " "
		if lo.Contains(active, m.ID) {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-24s %-14s %-28s %s\n",
			marker, m.ID, m.Kind, store.FriendlyName(m.ID, m.WakeWord), strings.Join(m.TrainedLanguages, ","))
	}
	return nil
}

// hardwareAddress returns the MAC of the first non-loopback interface
func hardwareAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
