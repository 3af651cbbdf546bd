package playback

import (
	"fmt"
	"strings"

	"github.com/zulubot/zulubox/internal/domain/track"
)

// Messages holds the status texts returned to producers.
// Entries with a verb are fmt formats; the arguments are noted per field.
type Messages struct {
	NowPlaying     string // title
	Queued         string // position, title
	PlayError      string // title, error
	Paused         string
	AlreadyPaused  string
	NothingPlaying string
	Resumed        string
	NothingPaused  string
	Stopped        string
	QueueCleared   string // removed count
	Skipped        string // title
	SkippedLast    string // title
	SkipToNext     string
	NothingToSkip  string
	QueueEmpty     string
	QueueHeader    string
	NowPlayingLine string // title
	PausedLine     string // title
}

// DefaultMessages returns the built-in status texts.
func DefaultMessages() Messages {
	return Messages{
		NowPlaying:     "Now playing: %s",
		Queued:         "Queued at position %d: %s",
		PlayError:      "Error playing %s: %v",
		Paused:         "Playback paused.",
		AlreadyPaused:  "Playback is already paused.",
		NothingPlaying: "Nothing is playing.",
		Resumed:        "Playback resumed.",
		NothingPaused:  "Nothing is paused.",
		Stopped:        "Playback stopped and queue cleared.",
		QueueCleared:   "Queue cleared (%d removed).",
		Skipped:        "Skipped %s.",
		SkippedLast:    "Skipped %s. The queue is empty.",
		SkipToNext:     "Skipping to the next queued track.",
		NothingToSkip:  "Nothing to skip.",
		QueueEmpty:     "The queue is empty.",
		QueueHeader:    "Up next:",
		NowPlayingLine: "Now playing: %s",
		PausedLine:     "Now playing (paused): %s",
	}
}

// Merge returns m with empty fields taken from base.
func (m Messages) Merge(base Messages) Messages {
	pick := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}
	return Messages{
		NowPlaying:     pick(m.NowPlaying, base.NowPlaying),
		Queued:         pick(m.Queued, base.Queued),
		PlayError:      pick(m.PlayError, base.PlayError),
		Paused:         pick(m.Paused, base.Paused),
		AlreadyPaused:  pick(m.AlreadyPaused, base.AlreadyPaused),
		NothingPlaying: pick(m.NothingPlaying, base.NothingPlaying),
		Resumed:        pick(m.Resumed, base.Resumed),
		NothingPaused:  pick(m.NothingPaused, base.NothingPaused),
		Stopped:        pick(m.Stopped, base.Stopped),
		QueueCleared:   pick(m.QueueCleared, base.QueueCleared),
		Skipped:        pick(m.Skipped, base.Skipped),
		SkippedLast:    pick(m.SkippedLast, base.SkippedLast),
		SkipToNext:     pick(m.SkipToNext, base.SkipToNext),
		NothingToSkip:  pick(m.NothingToSkip, base.NothingToSkip),
		QueueEmpty:     pick(m.QueueEmpty, base.QueueEmpty),
		QueueHeader:    pick(m.QueueHeader, base.QueueHeader),
		NowPlayingLine: pick(m.NowPlayingLine, base.NowPlayingLine),
		PausedLine:     pick(m.PausedLine, base.PausedLine),
	}
}

// formatQueue renders the queue view shown by QueueStatus.
func (m Messages) formatQueue(current *track.Track, paused bool, pending []track.Track) string {
	if current == nil && len(pending) == 0 {
		return m.QueueEmpty
	}

	var b strings.Builder
	if current != nil {
		line := m.NowPlayingLine
		if paused {
			line = m.PausedLine
		}
		fmt.Fprintf(&b, line, current.DisplayName())
	}

	if len(pending) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.QueueHeader)
		for i, t := range pending {
			fmt.Fprintf(&b, "\n%d. %s", i+1, t.DisplayName())
		}
	}

	return b.String()
}
