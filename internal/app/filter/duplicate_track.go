package filter

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zulubot/zulubox/internal/domain/track"
)

// DuplicateTrackFilter checks for duplicate tracks in the queue.
// Detects:
// - Same source (file path or stream locator)
// - Same title after removing version suffixes, from the same kind of source
type DuplicateTrackFilter struct {
	queue QueueReader
}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter(queue QueueReader) *DuplicateTrackFilter {
	return &DuplicateTrackFilter{
		queue: queue,
	}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already waiting in the queue, including re-uploads of the same title"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// AppliesTo returns which producers this filter applies to.
func (f *DuplicateTrackFilter) AppliesTo(producer track.Producer) bool {
	// Spoken replies may legitimately repeat
	return producer == track.ProducerUser || producer == track.ProducerYouTube
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	// No configuration needed
	return nil
}

// SetQueue sets the queue the filter inspects.
func (f *DuplicateTrackFilter) SetQueue(q QueueReader) {
	f.queue = q
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, requested track.Track) Result {
	if f.queue == nil {
		return Accept()
	}

	for _, queued := range f.queue.QueuedTracks() {
		// 1. Same source
		if sameSource(queued, requested) {
			return Reject("duplicate_track")
		}

		// 2. Same song with a version suffix
		if queued.IsStream == requested.IsStream && isSameSong(queued, requested) {
			return Reject("duplicate_track")
		}
	}

	return Accept()
}

func sameSource(a, b track.Track) bool {
	if a.IsStream != b.IsStream {
		return false
	}
	if a.IsStream {
		return strings.EqualFold(strings.TrimSpace(a.Source), strings.TrimSpace(b.Source))
	}
	return filepath.Clean(a.Source) == filepath.Clean(b.Source)
}

// isSameSong compares normalized titles.
func isSameSong(a, b track.Track) bool {
	na := normalizeTrackName(a.Title)
	return na != "" && na == normalizeTrackName(b.Title)
}

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(official\s+(music\s+)?(video|audio)\)`), // "(Official Video)"
		regexp.MustCompile(`\s*\[official\s+(music\s+)?(video|audio)\]`), // "[Official Audio]"
		regexp.MustCompile(`\s*\(lyrics?(\s+video)?\)`),                  // "(Lyrics)"
		regexp.MustCompile(`\s*\(.*?version\)`),                          // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),                             // "(Radio Edit)"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),                       // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`),                   // "- Single Version"
	}
	whitespace = regexp.MustCompile(`\s+`)
)

// normalizeTrackName removes remaster information and version details.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)

	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = whitespace.ReplaceAllString(normalized, " ")

	// Remove trailing dashes
	return strings.TrimRight(normalized, " -")
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return &DuplicateTrackFilter{}
	})
}
