// Package queue provides the FIFO of tracks waiting to be played.
package queue

import "github.com/zulubot/zulubox/internal/domain/track"

// Queue is an unbounded FIFO of pending tracks.
// It is not safe for concurrent use; the playback loop owns it.
type Queue struct {
	tracks []track.Track
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		tracks: make([]track.Track, 0),
	}
}

// Enqueue appends a track and returns the new length, which is the
// track's position in the queue.
func (q *Queue) Enqueue(t track.Track) int {
	q.tracks = append(q.tracks, t)
	return len(q.tracks)
}

// DequeueNext removes and returns the head track.
// Returns false if the queue is empty.
func (q *Queue) DequeueNext() (track.Track, bool) {
	if len(q.tracks) == 0 {
		return track.Track{}, false
	}

	t := q.tracks[0]
	q.tracks[0] = track.Track{} // drop OnReady closure reference
	q.tracks = q.tracks[1:]
	return t, true
}

// Clear drops all pending tracks and returns them.
func (q *Queue) Clear() []track.Track {
	removed := q.tracks
	q.tracks = make([]track.Track, 0)
	return removed
}

// PeekAll returns a copy of the pending tracks in play order.
func (q *Queue) PeekAll() []track.Track {
	result := make([]track.Track, len(q.tracks))
	copy(result, q.tracks)
	return result
}

// Len returns the number of pending tracks.
func (q *Queue) Len() int {
	return len(q.tracks)
}

// IsEmpty returns true if no tracks are pending.
func (q *Queue) IsEmpty() bool {
	return len(q.tracks) == 0
}
