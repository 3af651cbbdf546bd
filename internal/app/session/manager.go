// Package session provides the session manager.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/zulubot/zulubox/internal/app/cleanup"
	"github.com/zulubot/zulubox/internal/app/filter"
	"github.com/zulubot/zulubox/internal/app/notification"
	"github.com/zulubot/zulubox/internal/app/playback"
	"github.com/zulubot/zulubox/internal/domain/track"
	"github.com/zulubot/zulubox/internal/infra/config"
	"github.com/zulubot/zulubox/internal/infra/metrics"
)

// ErrUnknownFilter is returned when the configuration enables a filter that is not registered.
var ErrUnknownFilter = errors.New("unknown filter")

// Manager is the producer-facing facade over the player.
type Manager struct {
	config *config.Config

	// Components
	playback     *playback.Controller
	filterChain  *filter.Chain
	notification *notification.Manager
	metrics      *metrics.Metrics
	collector    *cleanup.Collector // nil when cleanup is disabled

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a new session manager driving device.
// resolver may be nil to play sources as given.
func NewManager(
	cfg *config.Config,
	device playback.Device,
	resolver playback.Resolver,
	m *metrics.Metrics,
) (*Manager, error) {
	mgr := &Manager{
		config:       cfg,
		notification: notification.NewManager(),
		filterChain:  filter.NewChain(),
		metrics:      m,
		done:         make(chan struct{}),
	}

	pbConfig := playback.Config{
		StopGrace:      cfg.Playback.StopGrace(),
		ResolveTimeout: cfg.Playback.ResolveTimeout(),
		EventBuffer:    cfg.Playback.EventBuffer,
		Messages:       playerMessages(cfg.Messages),
		Resolver:       resolver,
	}

	if !cfg.Cleanup.Disabled {
		mgr.collector = cleanup.New(cleanup.Config{
			Dir:   cfg.Cleanup.DownloadDir,
			Grace: cfg.Cleanup.Grace(),
		}, mgr)
		if err := mgr.collector.EnsureDir(); err != nil {
			return nil, errors.Wrap(err, "failed to prepare download directory")
		}
		pbConfig.Cleaner = mgr.collector
	}

	mgr.playback = playback.NewController(device, pbConfig)

	if err := mgr.setupFilters(); err != nil {
		mgr.playback.Close()
		if mgr.collector != nil {
			mgr.collector.Close()
		}
		return nil, err
	}

	go mgr.eventLoop()

	return mgr, nil
}

// setupFilters initializes the filter chain.
// source_required always runs first; enabled filters follow in name order.
func (m *Manager) setupFilters() error {
	m.filterChain.Add(&filter.SourceRequiredFilter{})

	names := m.config.EnabledFilters()
	sort.Strings(names)

	registered := filter.GetRegistered()
	for _, name := range names {
		if name == "source_required" {
			continue
		}
		factory, ok := registered[name]
		if !ok {
			return errors.Wrapf(ErrUnknownFilter, "filter %q", name)
		}

		f := factory()
		if err := f.ValidateConfig(m.config.Filters[name].Settings); err != nil {
			return errors.Wrapf(err, "invalid settings for filter %q", name)
		}
		if qa, ok := f.(filter.QueueAware); ok {
			qa.SetQueue(m.playback)
		}
		m.filterChain.Add(f)
		zlog.Info().Msgf("filter enabled: name=%s", name)
	}
	return nil
}

// Submit runs the filter chain and hands an accepted track to the player.
// A rejection is reported through the returned status text.
func (m *Manager) Submit(ctx context.Context, t track.Track) (string, error) {
	result := m.filterChain.Execute(ctx, t)
	zlog.Info().Msgf("submit: title=%s producer=%s result=%t code=%s", t.DisplayName(), t.Producer, result.Accepted, result.Code)
	if !result.Accepted {
		m.metrics.TrackEvent("rejected")
		return m.config.GetMessage(result.Code), nil
	}

	msg, err := m.playback.Submit(ctx, t)
	m.metrics.Command("submit", err)
	return msg, err
}

// Pause pauses playback.
func (m *Manager) Pause() (string, error) {
	return m.command("pause", m.playback.Pause)
}

// Resume resumes playback.
func (m *Manager) Resume() (string, error) {
	return m.command("resume", m.playback.Resume)
}

// Skip ends the current track and moves on to the next one.
func (m *Manager) Skip() (string, error) {
	return m.command("skip", m.playback.Skip)
}

// Stop ends playback and clears the queue.
func (m *Manager) Stop() (string, error) {
	return m.command("stop", m.playback.Stop)
}

// QueueStatus renders the current track and the pending queue.
func (m *Manager) QueueStatus() (string, error) {
	return m.command("queue", m.playback.QueueStatus)
}

func (m *Manager) command(name string, fn func() (string, error)) (string, error) {
	msg, err := fn()
	m.metrics.Command(name, err)
	if err != nil {
		zlog.Warn().Msgf("command failed: command=%s error=%v", name, err)
	}
	return msg, err
}

// State returns the player state.
func (m *Manager) State() playback.State {
	return m.playback.State()
}

// QueueLen returns the number of pending tracks.
func (m *Manager) QueueLen() int {
	return m.playback.QueueLen()
}

// Subscribe registers a stream for player notifications.
func (m *Manager) Subscribe(stream notification.Stream) string {
	return m.notification.Subscribe(stream)
}

// Unsubscribe removes a notification stream.
func (m *Manager) Unsubscribe(id string) {
	m.notification.Unsubscribe(id)
}

// Sweep runs one cleanup pass immediately, keeping the current file.
func (m *Manager) Sweep() (cleanup.Result, error) {
	if m.collector == nil {
		return cleanup.Result{}, errors.New("cleanup is disabled")
	}
	return m.collector.Sweep(m.playback.CurrentFile), nil
}

// CleanupFinished implements cleanup.Recorder.
func (m *Manager) CleanupFinished(res cleanup.Result) {
	m.metrics.Cleanup(res.Deleted, res.Failed, res.Freed)
}

// eventLoop forwards player events to subscribers and metrics.
func (m *Manager) eventLoop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("event loop panicked: %v", r)
			zlog.Info().Msg("restarting event loop")
			go m.eventLoop()
			return
		}
		close(m.done)
	}()

	for event := range m.playback.Events() {
		m.handlePlaybackEvent(event)
	}
}

// handlePlaybackEvent handles playback events.
func (m *Manager) handlePlaybackEvent(event playback.Event) {
	zlog.Debug().Msgf("playback event: type=%s state=%s queue=%d", event.Type, event.State, event.QueueLen)

	switch event.Type {
	case playback.EventTrackStarted, playback.EventTrackEnded, playback.EventTrackFailed, playback.EventTrackQueued:
		m.metrics.TrackEvent(strings.TrimPrefix(event.Type.String(), "track_"))
	}
	m.metrics.SetQueueLength(event.QueueLen)

	m.notification.Broadcast(toNotification(event))
}

// toNotification converts a player event for subscribers.
func toNotification(event playback.Event) *notification.Notification {
	n := &notification.Notification{
		Type:     event.Type.String(),
		State:    event.State.String(),
		QueueLen: event.QueueLen,
		Time:     time.Now(),
	}
	if event.Track != nil {
		n.TrackID = event.Track.ID
		n.Title = event.Track.DisplayName()
		n.Source = event.Track.Source
		n.Producer = string(event.Track.Producer)
	}
	if event.Err != nil {
		n.Error = event.Err.Error()
	}
	return n
}

// playerMessages maps configured texts onto the player's; empty entries keep the defaults.
func playerMessages(c config.MessagesConfig) playback.Messages {
	return playback.Messages{
		NowPlaying:     c.NowPlaying,
		Queued:         c.Queued,
		PlayError:      c.PlayError,
		Paused:         c.Paused,
		AlreadyPaused:  c.AlreadyPaused,
		NothingPlaying: c.NothingPlaying,
		Resumed:        c.Resumed,
		NothingPaused:  c.NothingPaused,
		Stopped:        c.Stopped,
		QueueCleared:   c.QueueCleared,
		Skipped:        c.Skipped,
		SkippedLast:    c.SkippedLast,
		SkipToNext:     c.SkipToNext,
		NothingToSkip:  c.NothingToSkip,
		QueueEmpty:     c.QueueEmpty,
		QueueHeader:    c.QueueHeader,
	}
}

// Close stops playback and releases all components.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.playback.Close()
		<-m.done
		if m.collector != nil {
			m.collector.Close()
		}
		m.notification.Close()
	})
}
