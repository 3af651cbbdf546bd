// Package audio drives the local sound output and checks sources before playback.
package audio

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	zlog "github.com/rs/zerolog/log"
)

// ErrDeviceBusy is returned by Play while a track is loaded.
var ErrDeviceBusy = errors.New("audio device is busy")

// engine is the mixer the speaker plays into.
type engine interface {
	Play(s ...beep.Streamer)
	Clear()
	Lock()
	Unlock()
	Close()
}

// beepEngine forwards to the global beep speaker.
type beepEngine struct{}

func (beepEngine) Play(s ...beep.Streamer) { speaker.Play(s...) }
func (beepEngine) Clear()                  { speaker.Clear() }
func (beepEngine) Lock()                   { speaker.Lock() }
func (beepEngine) Unlock()                 { speaker.Unlock() }
func (beepEngine) Close()                  { speaker.Close() }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Speaker plays one source at a time on the system audio output.
// The finish callback of each Play fires exactly once: when the source is
// exhausted, when it fails, or when Stop is called.
type Speaker struct {
	settings Settings
	rate     beep.SampleRate
	engine   engine
	open     func(source string) (beep.Streamer, beep.Format, io.Closer, error)

	mu     sync.Mutex
	ctrl   *beep.Ctrl
	closer io.Closer
	finish func(error)
}

// NewSpeaker initializes the system audio output.
func NewSpeaker(settings Settings) (*Speaker, error) {
	rate := beep.SampleRate(settings.SampleRate)
	if err := speaker.Init(rate, rate.N(time.Duration(settings.BufferMs)*time.Millisecond)); err != nil {
		return nil, errors.Wrap(err, "failed to initialize speaker")
	}
	zlog.Info().Msgf("audio: speaker initialized: sample_rate=%d buffer_ms=%d", settings.SampleRate, settings.BufferMs)
	return newSpeaker(settings, beepEngine{}), nil
}

func newSpeaker(settings Settings, e engine) *Speaker {
	s := &Speaker{
		settings: settings,
		rate:     beep.SampleRate(settings.SampleRate),
		engine:   e,
	}
	s.open = s.openSource
	return s
}

// Play starts source and returns once the output accepted it.
func (s *Speaker) Play(source string, onFinish func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctrl != nil {
		return ErrDeviceBusy
	}

	stream, format, closer, err := s.open(source)
	if err != nil {
		return err
	}

	var streamer beep.Streamer = stream
	if format.SampleRate != s.rate {
		streamer = beep.Resample(s.settings.ResampleQuality, format.SampleRate, s.rate, stream)
	}

	var once sync.Once
	ctrl := &beep.Ctrl{Streamer: streamer}
	s.ctrl = ctrl
	s.closer = closer
	s.finish = func(err error) {
		once.Do(func() { onFinish(err) })
	}

	// The callback runs under the speaker lock
	s.engine.Play(beep.Seq(ctrl, beep.Callback(func() {
		go s.ended(ctrl)
	})))

	zlog.Debug().Msgf("audio: playing: source=%s sample_rate=%d", source, format.SampleRate)
	return nil
}

// Pause pauses the loaded source.
func (s *Speaker) Pause() {
	s.setPaused(true)
}

// Resume resumes the loaded source.
func (s *Speaker) Resume() {
	s.setPaused(false)
}

// Stop unloads the current source and fires its finish callback.
func (s *Speaker) Stop() {
	s.mu.Lock()
	if s.ctrl == nil {
		s.mu.Unlock()
		return
	}

	finish := s.finish
	// Close first so a blocked read returns before the mixer lock is taken
	if err := s.releaseLocked(); err != nil {
		zlog.Debug().Msgf("audio: error releasing source on stop: %v", err)
	}
	s.engine.Clear()
	s.mu.Unlock()

	finish(nil)
}

// IsPlaying reports whether a source is loaded and not paused.
func (s *Speaker) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl != nil && !s.pausedLocked()
}

// IsPaused reports whether a source is loaded and paused.
func (s *Speaker) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl != nil && s.pausedLocked()
}

// Close stops playback and shuts the output down.
func (s *Speaker) Close() {
	s.Stop()
	s.engine.Close()
}

// ended handles a source that played to its end or failed.
func (s *Speaker) ended(ctrl *beep.Ctrl) {
	s.mu.Lock()
	if s.ctrl != ctrl {
		// Already stopped
		s.mu.Unlock()
		return
	}

	err := ctrl.Err()
	finish := s.finish
	if closeErr := s.releaseLocked(); err == nil {
		err = closeErr
	}
	s.mu.Unlock()

	if err != nil {
		zlog.Warn().Msgf("audio: source ended with error: %v", err)
	}
	finish(err)
}

func (s *Speaker) setPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctrl == nil {
		return
	}
	s.engine.Lock()
	s.ctrl.Paused = paused
	s.engine.Unlock()
}

func (s *Speaker) pausedLocked() bool {
	s.engine.Lock()
	defer s.engine.Unlock()
	return s.ctrl.Paused
}

func (s *Speaker) releaseLocked() error {
	var err error
	if s.closer != nil {
		err = s.closer.Close()
	}
	s.ctrl = nil
	s.closer = nil
	s.finish = nil
	return err
}

// openSource decodes local mp3, wav and flac files directly; everything else
// goes through ffmpeg.
func (s *Speaker) openSource(source string) (beep.Streamer, beep.Format, io.Closer, error) {
	if info, err := os.Stat(source); err == nil && info.Mode().IsRegular() {
		switch strings.ToLower(filepath.Ext(source)) {
		case ".mp3", ".wav", ".flac":
			return decodeFile(source)
		}
	}

	t, err := startTranscoder(s.settings.FFmpegPath, source, s.settings.SampleRate)
	if err != nil {
		return nil, beep.Format{}, nil, err
	}
	format := beep.Format{SampleRate: s.rate, NumChannels: 2, Precision: 2}
	return t, format, t, nil
}

func decodeFile(path string) (beep.Streamer, beep.Format, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, nil, errors.Wrapf(err, "failed to open %s", path)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		stream, format, err = mp3.Decode(f)
	case ".wav":
		stream, format, err = wav.Decode(f)
	case ".flac":
		stream, format, err = flac.Decode(f)
	default:
		err = errors.Newf("unsupported file type %s", filepath.Ext(path))
	}
	if err != nil {
		_ = f.Close()
		return nil, beep.Format{}, nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	closer := closerFunc(func() error {
		err := stream.Close()
		_ = f.Close()
		return err
	})
	return stream, format, closer, nil
}
