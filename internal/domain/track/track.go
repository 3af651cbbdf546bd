// Package track provides the Track domain entity.
package track

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Producer identifies the component that submitted a track.
type Producer string

const (
	ProducerUser    Producer = "USER"
	ProducerTTS     Producer = "TTS"
	ProducerYouTube Producer = "YOUTUBE"
	ProducerSystem  Producer = "SYSTEM"
)

// Track is one playable unit handed to the player.
// A Track is never mutated after creation; the player only changes which
// Track occupies its current slot.
type Track struct {
	ID       string    // UUID, for logs and events
	Source   string    // Local file path or remote stream locator
	Title    string    // Human-readable label
	IsStream bool      // Remote stream; never deleted by cleanup
	Producer Producer  // Who submitted the track
	AddedAt  time.Time // Submission time

	// OnReady runs on the player loop at the moment the track starts playing.
	// It must not call back into the player synchronously.
	OnReady func()
}

// Option customizes a Track at creation.
type Option func(*Track)

// WithProducer sets the submitting producer.
func WithProducer(p Producer) Option {
	return func(t *Track) {
		t.Producer = p
	}
}

// WithOnReady sets the readiness action.
func WithOnReady(fn func()) Option {
	return func(t *Track) {
		t.OnReady = fn
	}
}

// NewFile creates a track backed by a local file in the download area.
func NewFile(path, title string, opts ...Option) Track {
	return newTrack(path, title, false, opts)
}

// NewStream creates a track backed by a remote stream.
func NewStream(locator, title string, opts ...Option) Track {
	return newTrack(locator, title, true, opts)
}

func newTrack(source, title string, isStream bool, opts []Option) Track {
	t := Track{
		ID:       uuid.New().String(),
		Source:   source,
		Title:    title,
		IsStream: isStream,
		Producer: ProducerUser,
		AddedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(&t)
	}
	if t.Title == "" {
		t.Title = t.DisplayName()
	}
	return t
}

// IsFileBacked reports whether the track owns a local file eligible for cleanup.
func (t Track) IsFileBacked() bool {
	return !t.IsStream && t.Source != ""
}

// DisplayName returns the title, falling back to the file name or the locator.
func (t Track) DisplayName() string {
	if t.Title != "" {
		return t.Title
	}
	if t.IsStream {
		return t.Source
	}
	return filepath.Base(t.Source)
}

// Ready runs OnReady if set.
func (t Track) Ready() {
	if t.OnReady != nil {
		t.OnReady()
	}
}

var urlPattern = regexp.MustCompile(`^(https?://)?(www\.)?([a-zA-Z0-9\-]+\.)+[a-zA-Z]{2,}(/\S*)?$`)

// IsURL reports whether text looks like a web locator, with or without scheme.
func IsURL(text string) bool {
	return urlPattern.MatchString(strings.TrimSpace(text))
}
