// Package cleanup removes transient media files from the download area.
package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	zlog "github.com/rs/zerolog/log"
)

const defaultGrace = 2 * time.Second

// CurrentFunc returns the file backing the track currently held by the
// player, or "" when there is none.
type CurrentFunc = func() (string, error)

// Recorder receives the outcome of each cleanup pass.
type Recorder interface {
	CleanupFinished(result Result)
}

// Config holds collector configuration.
type Config struct {
	Dir   string        // Download area
	Grace time.Duration // Wait before a pass starts
}

// Result summarizes one cleanup pass.
type Result struct {
	Deleted  int
	Skipped  int // Kept because it backs the current track
	Failed   int
	Freed    int64 // Bytes
	Duration time.Duration
}

// Collector deletes files in the download area that do not back the
// current track. The current track is re-queried before every deletion.
type Collector struct {
	dir      string
	grace    time.Duration
	recorder Recorder
	remove   func(path string) error

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	done   chan struct{}
}

// New creates a collector. recorder may be nil.
func New(config Config, recorder Recorder) *Collector {
	if config.Grace <= 0 {
		config.Grace = defaultGrace
	}
	return &Collector{
		dir:      config.Dir,
		grace:    config.Grace,
		recorder: recorder,
		remove:   os.Remove,
		done:     make(chan struct{}),
	}
}

// Dir returns the download area.
func (c *Collector) Dir() string {
	return c.dir
}

// EnsureDir creates the download area if it does not exist.
func (c *Collector) EnsureDir() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create download directory %s", c.dir)
	}
	return nil
}

// Collect waits the grace period and then runs a pass.
// Only ctx or Close abort the wait; a started pass always runs to the end.
func (c *Collector) Collect(ctx context.Context, current CurrentFunc) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	timer := time.NewTimer(c.grace)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		zlog.Debug().Msg("cleanup: pass cancelled before start")
		return
	case <-c.done:
		zlog.Debug().Msg("cleanup: collector closed before pass")
		return
	}

	c.Sweep(current)
}

// Sweep deletes every regular file in the download area except the one
// backing the current track. Directories and symlinks are left alone.
// If the current track cannot be queried the pass stops.
func (c *Collector) Sweep(current CurrentFunc) Result {
	start := time.Now()
	var res Result

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		zlog.Warn().Msgf("cleanup: failed to list download directory: dir=%s error=%v", c.dir, err)
		res.Failed++
		return c.finish(res, start)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())

		playing, err := current()
		if err != nil {
			zlog.Warn().Msgf("cleanup: cannot query current track, stopping pass: error=%v", err)
			break
		}
		if playing != "" && samePath(playing, path) {
			zlog.Debug().Msgf("cleanup: keeping current track file: path=%s", path)
			res.Skipped++
			continue
		}

		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}

		if err := c.remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			zlog.Warn().Msgf("cleanup: failed to delete file: path=%s error=%v", path, err)
			res.Failed++
			continue
		}

		zlog.Debug().Msgf("cleanup: deleted file: path=%s size=%s", path, humanize.Bytes(uint64(size)))
		res.Deleted++
		res.Freed += size
	}

	return c.finish(res, start)
}

// Close aborts pending grace waits and waits for running passes.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Collector) finish(res Result, start time.Time) Result {
	res.Duration = time.Since(start)
	zlog.Info().Msgf("cleanup: pass finished: deleted=%d skipped=%d failed=%d freed=%s duration=%v",
		res.Deleted, res.Skipped, res.Failed, humanize.Bytes(uint64(res.Freed)), res.Duration)

	if c.recorder != nil {
		c.recorder.CleanupFinished(res)
	}
	return res
}

// samePath compares two paths after making them absolute and clean.
func samePath(a, b string) bool {
	return normalize(a) == normalize(b)
}

func normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
