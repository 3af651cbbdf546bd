package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/zulubot/zulubox/internal/app/queue"
	"github.com/zulubot/zulubox/internal/domain/track"
)

// Errors
var (
	ErrClosed        = errors.New("player is closed")
	ErrCommandFailed = errors.New("player command failed")
	ErrFinishTimeout = errors.New("finish signal not received within stop grace period")
)

const (
	defaultStopGrace      = 500 * time.Millisecond
	defaultResolveTimeout = 10 * time.Second
	defaultEventBuffer    = 16
)

// Device is the single audio output the controller drives.
// onFinish must fire exactly once per accepted Play, including after Stop.
type Device interface {
	IsPlaying() bool
	IsPaused() bool
	Play(source string, onFinish func(error)) error
	Pause()
	Resume()
	Stop()
}

// Resolver turns a track into a source the device can play.
// It runs off the controller loop.
type Resolver interface {
	Resolve(ctx context.Context, t track.Track) (string, error)
}

// CurrentFunc returns the local file backing the current track, or "" if
// the current slot is empty or holds a stream.
type CurrentFunc = func() (string, error)

// Cleaner removes transient files once a file-backed track has finished.
type Cleaner interface {
	Collect(ctx context.Context, current CurrentFunc)
}

// Config holds controller configuration.
type Config struct {
	StopGrace      time.Duration // Bounded wait for the finish signal after Stop
	ResolveTimeout time.Duration // Timeout for a single Resolver call
	EventBuffer    int           // Event channel capacity
	Messages       Messages      // Status texts; empty fields use defaults
	Resolver       Resolver      // Optional; nil plays Source as is
	Cleaner        Cleaner       // Optional; nil disables cleanup
}

// slot is the current track together with the play call it belongs to.
type slot struct {
	track  track.Track
	gen    uint64
	source string // Source handed to the device, set once playing
}

// loadResult is the outcome of resolving a track off the loop.
type loadResult struct {
	gen    uint64
	source string
	err    error
}

// pendingLoad tracks a start that has not reached the device yet.
type pendingLoad struct {
	gen   uint64
	reply chan<- string // Submit caller waiting for the outcome; nil when queue-driven
}

func (p *pendingLoad) respond(msg string) {
	if p != nil && p.reply != nil {
		p.reply <- msg
	}
}

// Controller is the playback state machine.
// All state below is confined to the loop goroutine; public methods hand
// work to the loop and wait for it.
type Controller struct {
	device Device
	config Config

	// Loop-confined state
	queue   *queue.Queue
	state   State
	current *slot
	gen     uint64
	load    *pendingLoad
	waiters map[uint64][]chan struct{}

	// Loop inputs
	cmds     chan func()
	loaded   chan loadResult
	dispatch *dispatcher

	// Events
	eventCh chan Event

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewController creates a controller for the given device and starts its loop.
func NewController(device Device, config Config) *Controller {
	if config.StopGrace <= 0 {
		config.StopGrace = defaultStopGrace
	}
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = defaultResolveTimeout
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	config.Messages = config.Messages.Merge(DefaultMessages())

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		device:   device,
		config:   config,
		queue:    queue.New(),
		state:    StateIdle,
		waiters:  make(map[uint64][]chan struct{}),
		cmds:     make(chan func()),
		loaded:   make(chan loadResult),
		dispatch: newDispatcher(ctx, config.EventBuffer),
		eventCh:  make(chan Event, config.EventBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go c.run()
	return c
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Submit plays the track if the player is idle, otherwise appends it to the queue.
// When the track starts immediately, Submit waits until the device accepted it.
func (c *Controller) Submit(ctx context.Context, t track.Track) (string, error) {
	var (
		msg   string
		reply chan string
	)

	err := c.exec(func() {
		if c.state != StateIdle {
			pos := c.queue.Enqueue(t)
			zlog.Info().Msgf("playback: track queued: title=%s position=%d producer=%s", t.DisplayName(), pos, t.Producer)
			c.sendEvent(Event{Type: EventTrackQueued, Track: &t})
			msg = fmt.Sprintf(c.config.Messages.Queued, pos, t.DisplayName())
			return
		}

		reply = make(chan string, 1)
		c.start(t, reply)
	})
	if err != nil {
		return "", err
	}
	if reply == nil {
		return msg, nil
	}

	select {
	case msg = <-reply:
		return msg, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.ctx.Done():
		return "", ErrClosed
	}
}

// Pause pauses the current track.
func (c *Controller) Pause() (string, error) {
	var msg string
	err := c.exec(func() {
		switch c.state {
		case StatePlaying:
			if !c.device.IsPlaying() {
				// Finished, finish signal still on its way
				msg = c.config.Messages.NothingPlaying
				return
			}
			c.device.Pause()
			c.state = StatePaused
			zlog.Info().Msgf("playback: paused: title=%s", c.current.track.DisplayName())
			c.sendEvent(Event{Type: EventStateChanged, Track: c.currentTrack()})
			msg = c.config.Messages.Paused
		case StatePaused:
			msg = c.config.Messages.AlreadyPaused
		default:
			msg = c.config.Messages.NothingPlaying
		}
	})
	return msg, err
}

// Resume resumes a paused track.
func (c *Controller) Resume() (string, error) {
	var msg string
	err := c.exec(func() {
		if c.state != StatePaused {
			msg = c.config.Messages.NothingPaused
			return
		}
		c.device.Resume()
		c.state = StatePlaying
		zlog.Info().Msgf("playback: resumed: title=%s", c.current.track.DisplayName())
		c.sendEvent(Event{Type: EventStateChanged, Track: c.currentTrack()})
		msg = c.config.Messages.Resumed
	})
	return msg, err
}

// Stop clears the queue and stops the current track.
// It returns once the finish signal has been handled, or after the stop grace
// period, whichever comes first.
func (c *Controller) Stop() (string, error) {
	var (
		msg  string
		gen  uint64
		wait <-chan struct{}
	)

	err := c.exec(func() {
		switch c.state {
		case StatePlaying, StatePaused:
			c.clearQueue()
			gen = c.current.gen
			wait = c.addWaiter(gen)
			zlog.Info().Msgf("playback: stopping: title=%s", c.current.track.DisplayName())
			c.device.Stop()
			msg = c.config.Messages.Stopped
		case StateLoading:
			c.clearQueue()
			t := c.abandonLoad(c.config.Messages.Stopped)
			c.sendEvent(Event{Type: EventTrackEnded, Track: &t})
			c.sendEvent(Event{Type: EventQueueEmpty})
			msg = c.config.Messages.Stopped
		default:
			if n := c.clearQueue(); n > 0 {
				msg = fmt.Sprintf(c.config.Messages.QueueCleared, n)
				return
			}
			msg = c.config.Messages.NothingPlaying
		}
	})
	if err != nil || wait == nil {
		return msg, err
	}

	timer := time.NewTimer(c.config.StopGrace)
	defer timer.Stop()

	select {
	case <-wait:
	case <-timer.C:
		zlog.Warn().Msgf("playback: no finish signal after %v, forcing idle: gen=%d", c.config.StopGrace, gen)
		_ = c.exec(func() { c.forceFinish(gen) })
	case <-c.ctx.Done():
	}

	return msg, nil
}

// Skip stops the current track so the next queued one starts, or starts the
// next queued track directly when nothing is playing.
func (c *Controller) Skip() (string, error) {
	var msg string
	err := c.exec(func() {
		switch c.state {
		case StatePlaying, StatePaused:
			title := c.current.track.DisplayName()
			if c.queue.IsEmpty() {
				msg = fmt.Sprintf(c.config.Messages.SkippedLast, title)
			} else {
				msg = fmt.Sprintf(c.config.Messages.Skipped, title)
			}
			zlog.Info().Msgf("playback: skipping: title=%s queued=%d", title, c.queue.Len())
			// The finish handler advances the queue
			c.device.Stop()
		case StateLoading:
			if c.queue.IsEmpty() {
				msg = fmt.Sprintf(c.config.Messages.SkippedLast, c.current.track.DisplayName())
			} else {
				msg = fmt.Sprintf(c.config.Messages.Skipped, c.current.track.DisplayName())
			}
			t := c.abandonLoad(msg)
			c.sendEvent(Event{Type: EventTrackEnded, Track: &t})
			c.advance(c.queue.Len())
		default:
			if c.queue.IsEmpty() {
				msg = c.config.Messages.NothingToSkip
				return
			}
			msg = c.config.Messages.SkipToNext
			c.advance(c.queue.Len())
		}
	})
	return msg, err
}

// QueueStatus returns the formatted view of the current and queued tracks.
func (c *Controller) QueueStatus() (string, error) {
	var msg string
	err := c.exec(func() {
		msg = c.config.Messages.formatQueue(c.currentTrack(), c.state == StatePaused, c.queue.PeekAll())
	})
	return msg, err
}

// State returns the current playback state.
func (c *Controller) State() State {
	state := StateIdle
	_ = c.exec(func() { state = c.state })
	return state
}

// Current returns the track in the current slot.
func (c *Controller) Current() (track.Track, bool) {
	var (
		t  track.Track
		ok bool
	)
	_ = c.exec(func() {
		if c.current != nil {
			t, ok = c.current.track, true
		}
	})
	return t, ok
}

// CurrentFile returns the local file backing the current track, or "" if
// nothing is current or the current track is a stream.
// A track being loaded counts as current.
func (c *Controller) CurrentFile() (string, error) {
	var path string
	err := c.exec(func() {
		if c.current != nil && c.current.track.IsFileBacked() {
			path = c.current.track.Source
		}
	})
	return path, err
}

// QueuedTracks returns a copy of the pending tracks.
func (c *Controller) QueuedTracks() []track.Track {
	var tracks []track.Track
	_ = c.exec(func() { tracks = c.queue.PeekAll() })
	return tracks
}

// QueueLen returns the number of pending tracks.
func (c *Controller) QueueLen() int {
	n := 0
	_ = c.exec(func() { n = c.queue.Len() })
	return n
}

// Close stops the loop and the device, and closes the event channel.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done

		// The loop is gone; nothing else touches the device now
		if c.state.Active() {
			c.device.Stop()
		}
		c.current = nil
		c.state = StateIdle
		close(c.eventCh)
	})
}

// run is the controller loop. Every state mutation happens here.
func (c *Controller) run() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.cmds:
			c.handle(fn)
		case res := <-c.loaded:
			c.handle(func() { c.onLoaded(res) })
		case fin := <-c.dispatch.inbox:
			c.handle(func() { c.onFinish(fin) })
		}
	}
}

// handle runs fn and keeps the loop alive if it panics.
func (c *Controller) handle(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback: loop handler panicked: %v", r)
			if c.current == nil || (c.state == StateLoading && c.load == nil) {
				c.load = nil
				c.clearCurrent()
			}
		}
	}()
	fn()
}

// exec runs fn on the loop and waits for it.
func (c *Controller) exec(fn func()) error {
	done := make(chan struct{})
	completed := false

	select {
	case c.cmds <- func() {
		defer close(done)
		fn()
		completed = true
	}:
	case <-c.ctx.Done():
		return ErrClosed
	}

	<-done
	if !completed {
		return ErrCommandFailed
	}
	return nil
}

// start makes t current and hands it to the resolver or the device.
// Returns false if the track failed synchronously.
func (c *Controller) start(t track.Track, reply chan<- string) bool {
	c.gen++
	gen := c.gen
	c.current = &slot{track: t, gen: gen}
	c.state = StateLoading
	c.load = &pendingLoad{gen: gen, reply: reply}

	if c.config.Resolver == nil {
		return c.applyLoad(loadResult{gen: gen, source: t.Source})
	}

	zlog.Debug().Msgf("playback: resolving track: title=%s gen=%d", t.DisplayName(), gen)
	go c.resolve(gen, t)
	return true
}

// resolve runs the resolver off the loop and posts the result back.
func (c *Controller) resolve(gen uint64, t track.Track) {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.ResolveTimeout)
	defer cancel()

	source, err := c.config.Resolver.Resolve(ctx, t)
	if err != nil {
		err = errors.Wrapf(err, "failed to resolve %s", t.DisplayName())
	}

	select {
	case c.loaded <- loadResult{gen: gen, source: source, err: err}:
	case <-c.ctx.Done():
	}
}

// onLoaded applies an asynchronous resolution result.
func (c *Controller) onLoaded(res loadResult) {
	if c.load == nil || c.load.gen != res.gen {
		zlog.Debug().Msgf("playback: ignoring stale resolution: gen=%d", res.gen)
		return
	}
	if !c.applyLoad(res) {
		c.advance(c.queue.Len())
	}
}

// applyLoad commands the device to play the loading track.
// Returns false and clears the slot if the track could not be started.
func (c *Controller) applyLoad(res loadResult) bool {
	load := c.load
	c.load = nil
	t := c.current.track

	err := res.err
	if err == nil {
		err = c.device.Play(res.source, c.dispatch.bind(res.gen, t))
	}
	if err != nil {
		zlog.Error().Msgf("playback: failed to start track: title=%s source=%s error=%v", t.DisplayName(), t.Source, err)
		c.clearCurrent()
		c.sendEvent(Event{Type: EventTrackFailed, Track: &t, Err: err})
		load.respond(fmt.Sprintf(c.config.Messages.PlayError, t.DisplayName(), err))
		return false
	}

	c.current.source = res.source
	c.state = StatePlaying
	zlog.Info().Msgf("playback: track started: title=%s stream=%t gen=%d", t.DisplayName(), t.IsStream, res.gen)

	c.ready(t)
	c.sendEvent(Event{Type: EventTrackStarted, Track: &t})
	load.respond(fmt.Sprintf(c.config.Messages.NowPlaying, t.DisplayName()))
	return true
}

// advance starts queued tracks until one starts or the budget is spent.
// Each attempt dequeues, so a queue of unplayable tracks drains instead of looping.
func (c *Controller) advance(budget int) {
	for budget > 0 {
		next, ok := c.queue.DequeueNext()
		if !ok {
			break
		}
		budget--

		if c.start(next, nil) {
			return
		}
	}

	c.clearCurrent()
	c.sendEvent(Event{Type: EventQueueEmpty})
}

// onFinish handles the device finish signal: the single path by which a
// playing track leaves the current slot, whether it ended, was skipped or stopped.
func (c *Controller) onFinish(fin completion) {
	if c.current == nil || c.current.gen != fin.gen {
		zlog.Debug().Msgf("playback: ignoring stale finish signal: title=%s gen=%d", fin.track.DisplayName(), fin.gen)
		return
	}

	finished := c.current.track
	if fin.err != nil {
		zlog.Error().Msgf("playback: error in playback: title=%s error=%v", finished.DisplayName(), fin.err)
	}

	c.clearCurrent()
	c.releaseWaiters(fin.gen)
	zlog.Info().Msgf("playback: track ended: title=%s queued=%d", finished.DisplayName(), c.queue.Len())
	c.sendEvent(Event{Type: EventTrackEnded, Track: &finished, Err: fin.err})

	if finished.IsFileBacked() && c.config.Cleaner != nil {
		go c.config.Cleaner.Collect(context.WithoutCancel(c.ctx), c.CurrentFile)
	}

	if c.queue.IsEmpty() {
		c.sendEvent(Event{Type: EventQueueEmpty})
		return
	}
	c.advance(c.queue.Len())
}

// forceFinish handles a stop whose finish signal never arrived.
func (c *Controller) forceFinish(gen uint64) {
	if c.current == nil || c.current.gen != gen {
		return
	}
	c.onFinish(completion{gen: gen, track: c.current.track, err: ErrFinishTimeout})
}

// abandonLoad drops the loading track; its resolution result will be stale.
func (c *Controller) abandonLoad(reply string) track.Track {
	t := c.current.track
	c.load.respond(reply)
	c.load = nil
	c.clearCurrent()
	zlog.Info().Msgf("playback: abandoned loading track: title=%s", t.DisplayName())
	return t
}

func (c *Controller) clearCurrent() {
	c.current = nil
	c.state = StateIdle
}

func (c *Controller) clearQueue() int {
	removed := c.queue.Clear()
	if len(removed) > 0 {
		zlog.Info().Msgf("playback: queue cleared: removed=%d", len(removed))
		c.sendEvent(Event{Type: EventQueueCleared})
	}
	return len(removed)
}

func (c *Controller) currentTrack() *track.Track {
	if c.current == nil {
		return nil
	}
	t := c.current.track
	return &t
}

func (c *Controller) addWaiter(gen uint64) <-chan struct{} {
	ch := make(chan struct{})
	c.waiters[gen] = append(c.waiters[gen], ch)
	return ch
}

func (c *Controller) releaseWaiters(gen uint64) {
	for _, ch := range c.waiters[gen] {
		close(ch)
	}
	delete(c.waiters, gen)
}

// ready runs the track's OnReady action; a panic there does not stop playback.
func (c *Controller) ready(t track.Track) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback: on-ready action panicked: title=%s panic=%v", t.DisplayName(), r)
		}
	}()
	t.Ready()
}

// sendEvent sends an event without blocking.
// Must be called on the loop.
func (c *Controller) sendEvent(e Event) {
	e.State = c.state
	e.QueueLen = c.queue.Len()

	select {
	case c.eventCh <- e:
	case <-c.ctx.Done():
	default:
		zlog.Debug().Msgf("playback: event channel full, dropping event: type=%s", e.Type)
	}
}
