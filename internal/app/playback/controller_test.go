package playback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulubot/zulubox/internal/domain/track"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errDeviceBusy = errors.New("device busy")

// fakeDevice records play calls and lets tests end tracks.
type fakeDevice struct {
	mu         sync.Mutex
	playing    bool
	paused     bool
	onFinish   func(error)
	late       func(error) // Callback withheld by a silent Stop
	played     []string
	failing    map[string]error
	stops      int
	silentStop bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{failing: make(map[string]error)}
}

func (d *fakeDevice) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing && !d.paused
}

func (d *fakeDevice) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

func (d *fakeDevice) Play(source string, onFinish func(error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playing {
		return errDeviceBusy
	}
	if err, ok := d.failing[source]; ok {
		return err
	}
	d.playing = true
	d.paused = false
	d.onFinish = onFinish
	d.played = append(d.played, source)
	return nil
}

func (d *fakeDevice) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

func (d *fakeDevice) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}

// Stop fires the finish callback synchronously, like a real output would.
func (d *fakeDevice) Stop() {
	d.mu.Lock()
	d.stops++
	cb := d.onFinish
	d.onFinish = nil
	d.playing = false
	d.paused = false
	if d.silentStop {
		d.late = cb
		cb = nil
	}
	d.mu.Unlock()

	if cb != nil {
		cb(nil)
	}
}

// finish ends the current track naturally.
func (d *fakeDevice) finish(err error) {
	d.mu.Lock()
	cb := d.onFinish
	d.onFinish = nil
	d.playing = false
	d.paused = false
	d.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

func (d *fakeDevice) playedSources() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.played...)
}

func (d *fakeDevice) playCount() int {
	return len(d.playedSources())
}

func (d *fakeDevice) fail(source string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing[source] = err
}

func newTestController(t *testing.T, dev Device, config Config) *Controller {
	t.Helper()
	c := NewController(dev, config)
	t.Cleanup(c.Close)
	return c
}

func fileTrack(name string) track.Track {
	return track.NewFile("/downloads/"+name+".mp3", name)
}

func TestController_SubmitIdlePlaysImmediately(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	msg, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)

	assert.Equal(t, "Now playing: a", msg)
	assert.Equal(t, StatePlaying, c.State())
	assert.Equal(t, []string{"/downloads/a.mp3"}, dev.playedSources())

	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.Title)
}

func TestController_SubmitWhilePlayingQueues(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	_, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)

	msg, err := c.Submit(context.Background(), fileTrack("b"))
	require.NoError(t, err)
	assert.Equal(t, "Queued at position 1: b", msg)

	msg, err = c.Submit(context.Background(), fileTrack("c"))
	require.NoError(t, err)
	assert.Equal(t, "Queued at position 2: c", msg)

	assert.Equal(t, 2, c.QueueLen())
	assert.Equal(t, 1, dev.playCount())
}

func TestController_FinishAdvancesInOrder(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	for _, name := range []string{"a", "b", "c"} {
		_, err := c.Submit(context.Background(), fileTrack(name))
		require.NoError(t, err)
	}

	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool { return dev.playCount() == i }, waitFor, tick)
		dev.finish(nil)
	}

	require.Eventually(t, func() bool { return c.State() == StateIdle }, waitFor, tick)
	assert.Equal(t, []string{"/downloads/a.mp3", "/downloads/b.mp3", "/downloads/c.mp3"}, dev.playedSources())
	assert.Equal(t, 0, c.QueueLen())
}

func TestController_SubmitPlayFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.fail("/downloads/bad.mp3", errors.New("decode failed"))
	c := newTestController(t, dev, Config{})

	msg, err := c.Submit(context.Background(), fileTrack("bad"))
	require.NoError(t, err)

	assert.Equal(t, "Error playing bad: decode failed", msg)
	assert.Equal(t, StateIdle, c.State())

	_, ok := c.Current()
	assert.False(t, ok)
}

func TestController_FailedQueuedTrackIsSkipped(t *testing.T) {
	dev := newFakeDevice()
	dev.fail("/downloads/b.mp3", errors.New("decode failed"))
	dev.fail("/downloads/c.mp3", errors.New("decode failed"))
	c := newTestController(t, dev, Config{})

	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := c.Submit(context.Background(), fileTrack(name))
		require.NoError(t, err)
	}

	dev.finish(nil)

	require.Eventually(t, func() bool { return dev.playCount() == 2 }, waitFor, tick)
	assert.Equal(t, []string{"/downloads/a.mp3", "/downloads/d.mp3"}, dev.playedSources())
	assert.Equal(t, StatePlaying, c.State())
	assert.Equal(t, 0, c.QueueLen())
}

func TestController_AllQueuedTracksFail(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	_, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("bad%d", i)
		dev.fail("/downloads/"+name+".mp3", errors.New("decode failed"))
		_, err := c.Submit(context.Background(), fileTrack(name))
		require.NoError(t, err)
	}

	dev.finish(nil)

	require.Eventually(t, func() bool { return c.State() == StateIdle }, waitFor, tick)
	assert.Equal(t, 0, c.QueueLen())
	assert.Equal(t, 1, dev.playCount())
}

func TestController_PauseResume(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	msg, err := c.Pause()
	require.NoError(t, err)
	assert.Equal(t, "Nothing is playing.", msg)

	msg, err = c.Resume()
	require.NoError(t, err)
	assert.Equal(t, "Nothing is paused.", msg)

	_, err = c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)

	msg, err = c.Pause()
	require.NoError(t, err)
	assert.Equal(t, "Playback paused.", msg)
	assert.Equal(t, StatePaused, c.State())
	assert.True(t, dev.IsPaused())

	msg, err = c.Pause()
	require.NoError(t, err)
	assert.Equal(t, "Playback is already paused.", msg)

	msg, err = c.Resume()
	require.NoError(t, err)
	assert.Equal(t, "Playback resumed.", msg)
	assert.Equal(t, StatePlaying, c.State())
	assert.False(t, dev.IsPaused())

	msg, err = c.Resume()
	require.NoError(t, err)
	assert.Equal(t, "Nothing is paused.", msg)
}

func TestController_SubmitWhilePausedQueues(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	_, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)
	_, err = c.Pause()
	require.NoError(t, err)

	msg, err := c.Submit(context.Background(), fileTrack("b"))
	require.NoError(t, err)
	assert.Equal(t, "Queued at position 1: b", msg)
	assert.Equal(t, StatePaused, c.State())
	assert.Equal(t, 1, dev.playCount())
}

func TestController_StopClearsQueue(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	for _, name := range []string{"a", "b", "c"} {
		_, err := c.Submit(context.Background(), fileTrack(name))
		require.NoError(t, err)
	}

	msg, err := c.Stop()
	require.NoError(t, err)

	assert.Equal(t, "Playback stopped and queue cleared.", msg)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0, c.QueueLen())

	assert.Never(t, func() bool { return dev.playCount() > 1 }, 50*time.Millisecond, tick)
}

func TestController_StopWhilePaused(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	_, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)
	_, err = c.Pause()
	require.NoError(t, err)

	msg, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, "Playback stopped and queue cleared.", msg)
	assert.Equal(t, StateIdle, c.State())
}

func TestController_StopIdle(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	msg, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, "Nothing is playing.", msg)
	assert.Equal(t, 0, dev.stops)
}

func TestController_StopWithoutFinishSignal(t *testing.T) {
	dev := newFakeDevice()
	dev.silentStop = true
	c := newTestController(t, dev, Config{StopGrace: 30 * time.Millisecond})

	_, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)

	start := time.Now()
	msg, err := c.Stop()
	require.NoError(t, err)

	assert.Equal(t, "Playback stopped and queue cleared.", msg)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, StateIdle, c.State())

	// A new track plays; the withheld signal of the old one must not end it
	_, err = c.Submit(context.Background(), fileTrack("b"))
	require.NoError(t, err)

	dev.mu.Lock()
	late := dev.late
	dev.mu.Unlock()
	require.NotNil(t, late)
	late(nil)

	assert.Never(t, func() bool { return c.State() != StatePlaying }, 50*time.Millisecond, tick)
	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.Title)
}

func TestController_Skip(t *testing.T) {
	tests := []struct {
		name      string
		submitted []string
		wantMsg   string
		wantState State
		wantPlays int
	}{
		{
			name:      "nothing to skip",
			wantMsg:   "Nothing to skip.",
			wantState: StateIdle,
		},
		{
			name:      "last track",
			submitted: []string{"a"},
			wantMsg:   "Skipped a. The queue is empty.",
			wantState: StateIdle,
			wantPlays: 1,
		},
		{
			name:      "queued track follows",
			submitted: []string{"a", "b"},
			wantMsg:   "Skipped a.",
			wantState: StatePlaying,
			wantPlays: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice()
			c := newTestController(t, dev, Config{})

			for _, name := range tt.submitted {
				_, err := c.Submit(context.Background(), fileTrack(name))
				require.NoError(t, err)
			}

			msg, err := c.Skip()
			require.NoError(t, err)
			assert.Equal(t, tt.wantMsg, msg)

			require.Eventually(t, func() bool {
				return c.State() == tt.wantState && dev.playCount() == tt.wantPlays
			}, waitFor, tick)
		})
	}
}

func TestController_StaleFinishIgnored(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	_, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)

	dev.mu.Lock()
	first := dev.onFinish
	dev.mu.Unlock()

	_, err = c.Submit(context.Background(), fileTrack("b"))
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), fileTrack("c"))
	require.NoError(t, err)

	dev.finish(nil)
	require.Eventually(t, func() bool { return dev.playCount() == 2 }, waitFor, tick)

	// Second call of an already delivered callback
	first(nil)
	assert.Never(t, func() bool { return dev.playCount() > 2 }, 50*time.Millisecond, tick)
	assert.Equal(t, 1, c.QueueLen())
}

func TestController_QueueStatus(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	msg, err := c.QueueStatus()
	require.NoError(t, err)
	assert.Equal(t, "The queue is empty.", msg)

	for _, name := range []string{"a", "b", "c"} {
		_, err := c.Submit(context.Background(), fileTrack(name))
		require.NoError(t, err)
	}

	msg, err = c.QueueStatus()
	require.NoError(t, err)
	assert.Equal(t, "Now playing: a\n\nUp next:\n1. b\n2. c", msg)

	_, err = c.Pause()
	require.NoError(t, err)

	msg, err = c.QueueStatus()
	require.NoError(t, err)
	assert.Equal(t, "Now playing (paused): a\n\nUp next:\n1. b\n2. c", msg)
}

func TestController_CustomMessages(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{
		Messages: Messages{NothingToSkip: "Nothing to skip, friend."},
	})

	msg, err := c.Skip()
	require.NoError(t, err)
	assert.Equal(t, "Nothing to skip, friend.", msg)

	msg, err = c.Stop()
	require.NoError(t, err)
	assert.Equal(t, "Nothing is playing.", msg)
}

func TestController_OnReady(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	var ready atomic.Int32
	_, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), track.NewFile("/downloads/b.mp3", "b", track.WithOnReady(func() {
		ready.Add(1)
	})))
	require.NoError(t, err)

	assert.Equal(t, int32(0), ready.Load())

	dev.finish(nil)
	require.Eventually(t, func() bool { return ready.Load() == 1 }, waitFor, tick)

	dev.finish(nil)
	require.Eventually(t, func() bool { return c.State() == StateIdle }, waitFor, tick)
	assert.Equal(t, int32(1), ready.Load())
}

func TestController_OnReadyPanicDoesNotStopPlayback(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	msg, err := c.Submit(context.Background(), track.NewFile("/downloads/a.mp3", "a", track.WithOnReady(func() {
		panic("boom")
	})))
	require.NoError(t, err)

	assert.Equal(t, "Now playing: a", msg)
	assert.Equal(t, StatePlaying, c.State())
}

func TestController_Events(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{})

	_, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)
	dev.finish(nil)

	var got []EventType
	timeout := time.After(waitFor)
	for len(got) < 3 {
		select {
		case e := <-c.Events():
			got = append(got, e.Type)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	assert.Equal(t, []EventType{EventTrackStarted, EventTrackEnded, EventQueueEmpty}, got)
}

// gateResolver blocks until released or the context ends.
type gateResolver struct {
	gate  chan struct{}
	calls atomic.Int32
}

func (r *gateResolver) Resolve(ctx context.Context, t track.Track) (string, error) {
	r.calls.Add(1)
	select {
	case <-r.gate:
		return t.Source, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestController_ResolverLoadsAsynchronously(t *testing.T) {
	dev := newFakeDevice()
	res := &gateResolver{gate: make(chan struct{})}
	c := newTestController(t, dev, Config{Resolver: res})

	done := make(chan string, 1)
	go func() {
		msg, _ := c.Submit(context.Background(), fileTrack("a"))
		done <- msg
	}()

	require.Eventually(t, func() bool { return c.State() == StateLoading }, waitFor, tick)

	// Commands keep working while the track loads
	msg, err := c.Submit(context.Background(), fileTrack("b"))
	require.NoError(t, err)
	assert.Equal(t, "Queued at position 1: b", msg)

	close(res.gate)
	select {
	case msg := <-done:
		assert.Equal(t, "Now playing: a", msg)
	case <-time.After(waitFor):
		t.Fatal("submit did not return")
	}
	assert.Equal(t, StatePlaying, c.State())
}

func TestController_StopWhileLoading(t *testing.T) {
	dev := newFakeDevice()
	res := &gateResolver{gate: make(chan struct{})}
	c := newTestController(t, dev, Config{Resolver: res})

	done := make(chan string, 1)
	go func() {
		msg, _ := c.Submit(context.Background(), fileTrack("a"))
		done <- msg
	}()
	require.Eventually(t, func() bool { return c.State() == StateLoading }, waitFor, tick)

	msg, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, "Playback stopped and queue cleared.", msg)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "Playback stopped and queue cleared.", <-done)

	// Late resolution result is discarded
	close(res.gate)
	assert.Never(t, func() bool { return dev.playCount() > 0 }, 50*time.Millisecond, tick)
}

func TestController_ResolveTimeout(t *testing.T) {
	dev := newFakeDevice()
	res := &gateResolver{gate: make(chan struct{})}
	c := newTestController(t, dev, Config{Resolver: res, ResolveTimeout: 20 * time.Millisecond})

	msg, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)

	assert.Contains(t, msg, "Error playing a")
	assert.Contains(t, msg, "deadline exceeded")
	assert.Equal(t, StateIdle, c.State())
}

// fakeCleaner records cleanup requests.
type fakeCleaner struct {
	calls chan CurrentFunc
}

func (f *fakeCleaner) Collect(_ context.Context, current CurrentFunc) {
	f.calls <- current
}

func TestController_CleanupAfterFileTrack(t *testing.T) {
	dev := newFakeDevice()
	cleaner := &fakeCleaner{calls: make(chan CurrentFunc, 4)}
	c := newTestController(t, dev, Config{Cleaner: cleaner})

	_, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), fileTrack("b"))
	require.NoError(t, err)

	dev.finish(nil)

	var current CurrentFunc
	select {
	case current = <-cleaner.calls:
	case <-time.After(waitFor):
		t.Fatal("cleanup was not requested")
	}

	require.Eventually(t, func() bool {
		path, err := current()
		return err == nil && path == "/downloads/b.mp3"
	}, waitFor, tick)
}

func TestController_NoCleanupAfterStream(t *testing.T) {
	dev := newFakeDevice()
	cleaner := &fakeCleaner{calls: make(chan CurrentFunc, 4)}
	c := newTestController(t, dev, Config{Cleaner: cleaner})

	_, err := c.Submit(context.Background(), track.NewStream("https://radio.example.com/live", "radio"))
	require.NoError(t, err)

	path, err := c.CurrentFile()
	require.NoError(t, err)
	assert.Empty(t, path)

	dev.finish(nil)

	select {
	case <-cleaner.calls:
		t.Fatal("cleanup requested after stream")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestController_ConcurrentSubmit(t *testing.T) {
	dev := newFakeDevice()
	c := newTestController(t, dev, Config{EventBuffer: 64})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Submit(context.Background(), fileTrack(fmt.Sprintf("t%02d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n-1, c.QueueLen())

	for i := 1; i <= n; i++ {
		require.Eventually(t, func() bool { return dev.playCount() == i }, waitFor, tick)
		dev.finish(nil)
	}

	require.Eventually(t, func() bool { return c.State() == StateIdle }, waitFor, tick)

	seen := make(map[string]bool)
	for _, src := range dev.playedSources() {
		assert.False(t, seen[src], "played twice: %s", src)
		seen[src] = true
	}
	assert.Len(t, seen, n)
}

func TestController_Close(t *testing.T) {
	dev := newFakeDevice()
	c := NewController(dev, Config{})

	_, err := c.Submit(context.Background(), fileTrack("a"))
	require.NoError(t, err)

	c.Close()
	c.Close()

	_, err = c.Submit(context.Background(), fileTrack("b"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, dev.IsPlaying())

	for range c.Events() {
	}
}
