package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulubot/zulubox/internal/domain/track"
)

func titles(tracks []track.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.Title
	}
	return out
}

func TestQueue_EnqueueReturnsPosition(t *testing.T) {
	q := New()

	assert.Equal(t, 1, q.Enqueue(track.NewFile("a.mp3", "A")))
	assert.Equal(t, 2, q.Enqueue(track.NewFile("b.mp3", "B")))
	assert.Equal(t, 3, q.Enqueue(track.NewStream("https://example.com/c", "C")))
	assert.Equal(t, 3, q.Len())
}

func TestQueue_FIFO(t *testing.T) {
	q := New()
	for _, title := range []string{"A", "B", "C"} {
		q.Enqueue(track.NewFile(title+".mp3", title))
	}

	var got []string
	for {
		tr, ok := q.DequeueNext()
		if !ok {
			break
		}
		got = append(got, tr.Title)
	}

	assert.Equal(t, []string{"A", "B", "C"}, got)
	assert.True(t, q.IsEmpty())
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := New()

	tr, ok := q.DequeueNext()
	assert.False(t, ok)
	assert.Equal(t, track.Track{}, tr)
}

func TestQueue_Clear(t *testing.T) {
	q := New()
	q.Enqueue(track.NewFile("a.mp3", "A"))
	q.Enqueue(track.NewFile("b.mp3", "B"))

	removed := q.Clear()

	assert.Equal(t, []string{"A", "B"}, titles(removed))
	assert.Equal(t, 0, q.Len())

	// Queue is usable after clear
	assert.Equal(t, 1, q.Enqueue(track.NewFile("c.mp3", "C")))
}

func TestQueue_PeekAllIsCopy(t *testing.T) {
	q := New()
	q.Enqueue(track.NewFile("a.mp3", "A"))
	q.Enqueue(track.NewFile("b.mp3", "B"))

	view := q.PeekAll()
	require.Len(t, view, 2)
	view[0].Title = "mutated"

	assert.Equal(t, []string{"A", "B"}, titles(q.PeekAll()))
}

func TestQueue_KeepsDuplicates(t *testing.T) {
	q := New()
	a := track.NewFile("a.mp3", "A")
	q.Enqueue(a)
	q.Enqueue(a)

	assert.Equal(t, 2, q.Len())
}
