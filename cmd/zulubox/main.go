// Package main provides the zulubox player entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	humanize "github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/zulubot/zulubox/internal/app/cleanup"
	"github.com/zulubot/zulubox/internal/app/filter"
	"github.com/zulubot/zulubox/internal/app/notification"
	"github.com/zulubot/zulubox/internal/app/playback"
	"github.com/zulubot/zulubox/internal/app/session"
	"github.com/zulubot/zulubox/internal/domain/playlist"
	"github.com/zulubot/zulubox/internal/domain/track"
	"github.com/zulubot/zulubox/internal/infra/audio"
	"github.com/zulubot/zulubox/internal/infra/config"
	"github.com/zulubot/zulubox/internal/infra/logger"
	"github.com/zulubot/zulubox/internal/infra/metrics"
)

var (
	app        = kingpin.New("zulubox", "zulubox audio player")
	configPath = app.Flag("config", "Path to config file (built-in defaults when empty)").Envar("ZULU_CONFIG").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()
	logFormat  = app.Flag("log-format", "Console log format").Default("console").Enum("console", "json")

	playCmd     = app.Command("play", "Play files and stream links in order (default)").Default()
	playSources = playCmd.Arg("source", "Local file or stream link").Required().Strings()
	playStream  = playCmd.Flag("stream", "Treat every source as a stream").Bool()

	cleanCmd       = app.Command("clean", "Delete everything in the download directory and exit")
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stderr",
		Level:  "info",
		Format: *logFormat,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	switch command {
	case cleanCmd.FullCommand():
		err = runClean(cfg)
	default:
		err = runPlay(cfg, *playSources)
	}
	if err != nil {
		zlog.Error().Msgf("zulubox: %v", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		zlog.Info().Msg("No config file given, using defaults")
		return config.Default()
	}
	zlog.Info().Msgf("Loading config from %s", path)
	return config.Load(path)
}

// runPlay submits every source and runs until the queue drains or a signal arrives.
func runPlay(cfg *config.Config, sources []string) error {
	settings, err := audio.DecodeSettings(cfg.Output.Settings)
	if err != nil {
		return errors.Wrap(err, "invalid output settings")
	}

	device, err := audio.NewSpeaker(settings)
	if err != nil {
		return err
	}
	defer device.Close()

	m := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				zlog.Error().Msgf("Metrics server error: %v", err)
			}
		}()
	}

	mgr, err := session.NewManager(cfg, device, audio.NewProbe(nil, !cfg.Playback.SkipStreamProbe), m)
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}
	defer mgr.Close()

	events := notification.NewChannelStream(cfg.Playback.EventBuffer)
	mgr.Subscribe(events)

	executeHooks(cfg.Hooks.OnStarted, "on_started")
	defer executeHooks(cfg.Hooks.OnStopped, "on_stopped")

	tracks, err := expandSources(sources, *playStream)
	if err != nil {
		return err
	}
	for _, t := range tracks {
		msg, err := mgr.Submit(ctx, t)
		if err != nil {
			return errors.Wrapf(err, "failed to submit %s", t.Source)
		}
		fmt.Println(msg)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// Notifications can be dropped when the stream is full
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if mgr.State() == playback.StateIdle && mgr.QueueLen() == 0 {
			return nil
		}

		select {
		case <-sigCh:
			zlog.Info().Msg("Received shutdown signal...")
			msg, err := mgr.Stop()
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		case n := <-events.C():
			printNotification(n)
			if n.Type == playback.EventQueueEmpty.String() {
				return nil
			}
		case <-ticker.C:
		}
	}
}

// runClean runs a single cleanup pass with nothing playing.
func runClean(cfg *config.Config) error {
	c := cleanup.New(cleanup.Config{Dir: cfg.Cleanup.DownloadDir}, nil)
	defer c.Close()

	if err := c.EnsureDir(); err != nil {
		return err
	}
	res := c.Sweep(func() (string, error) { return "", nil })
	fmt.Printf("Deleted %d files (%s) from %s, %d failed\n", res.Deleted, humanize.Bytes(uint64(res.Freed)), c.Dir(), res.Failed)
	if res.Failed > 0 {
		return errors.Newf("%d files could not be deleted", res.Failed)
	}
	return nil
}

// expandSources turns arguments into tracks, inlining local M3U playlists.
func expandSources(sources []string, forceStream bool) ([]track.Track, error) {
	var tracks []track.Track
	for _, source := range sources {
		if !forceStream && playlist.IsPlaylistFile(source) {
			if _, err := os.Stat(source); err == nil {
				p, err := playlist.Load(source)
				if err != nil {
					return nil, err
				}
				zlog.Info().Msgf("Loaded playlist: name=%s tracks=%d", p.Name, len(p.Tracks))
				tracks = append(tracks, p.Tracks...)
				continue
			}
		}
		tracks = append(tracks, newTrack(source, forceStream))
	}
	return tracks, nil
}

// newTrack builds a file track for existing local paths and a stream track for links.
func newTrack(source string, forceStream bool) track.Track {
	if !forceStream {
		if info, err := os.Stat(source); err == nil && !info.IsDir() {
			if abs, err := filepath.Abs(source); err == nil {
				source = abs
			}
			return track.NewFile(source, "")
		}
	}
	if forceStream || track.IsURL(source) {
		return track.NewStream(source, "")
	}
	// Let the filters report the missing file
	return track.NewFile(source, "")
}

func printNotification(n *notification.Notification) {
	switch n.Type {
	case playback.EventTrackStarted.String():
		fmt.Printf("> %s\n", n.Title)
	case playback.EventTrackFailed.String():
		fmt.Printf("! %s: %s\n", n.Title, n.Error)
	default:
		zlog.Debug().Msgf("notification: seq=%d type=%s state=%s queue=%d", n.SequenceNo, n.Type, n.State, n.QueueLen)
	}
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	registry := filter.GetRegistered()
	for _, name := range filter.RegisteredNames() {
		f := registry[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
