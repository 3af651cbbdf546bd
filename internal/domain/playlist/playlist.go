// Package playlist provides the Playlist domain entity and M3U loading.
package playlist

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/zulubot/zulubox/internal/domain/track"
)

// ErrEmpty is returned for playlists without entries.
var ErrEmpty = errors.New("playlist has no entries")

// Playlist represents an ordered list of tracks.
type Playlist struct {
	Name   string        // From #PLAYLIST or the file name
	Tracks []track.Track // Tracks in file order
}

// IsPlaylistFile reports whether path names an M3U playlist.
func IsPlaylistFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u", ".m3u8":
		return true
	}
	return false
}

// Load reads an M3U playlist file. Relative entries resolve against the file's directory.
func Load(path string, opts ...track.Option) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open playlist")
	}
	defer f.Close()

	p, err := Parse(f, filepath.Dir(path), opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "playlist %s", path)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Parse reads M3U entries from r.
// Entries with an http(s) scheme become stream tracks; everything else is a file.
// An #EXTINF title applies to the entry that follows it.
func Parse(r io.Reader, baseDir string, opts ...track.Option) (*Playlist, error) {
	p := &Playlist{}
	var title string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "\ufeff")

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			if _, t, ok := strings.Cut(line, ","); ok {
				title = strings.TrimSpace(t)
			}
		case strings.HasPrefix(line, "#PLAYLIST:"):
			p.Name = strings.TrimSpace(strings.TrimPrefix(line, "#PLAYLIST:"))
		case strings.HasPrefix(line, "#"):
			// Other directives and comments
		default:
			p.Tracks = append(p.Tracks, newEntry(line, title, baseDir, opts))
			title = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read playlist")
	}
	if len(p.Tracks) == 0 {
		return nil, ErrEmpty
	}
	return p, nil
}

func newEntry(entry, title, baseDir string, opts []track.Option) track.Track {
	lower := strings.ToLower(entry)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return track.NewStream(entry, title, opts...)
	}
	path := strings.TrimPrefix(entry, "file://")
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	return track.NewFile(filepath.Clean(path), title, opts...)
}

// TrackIDs returns all track IDs in the playlist.
func (p *Playlist) TrackIDs() []string {
	ids := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		ids[i] = t.ID
	}
	return ids
}

// Sources returns the track sources in order.
func (p *Playlist) Sources() []string {
	sources := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		sources[i] = t.Source
	}
	return sources
}
