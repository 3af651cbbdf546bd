package playback

import "github.com/zulubot/zulubox/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted EventType = iota // Track started playing
	EventTrackEnded                    // Track left the current slot (finish, skip or stop)
	EventTrackFailed                   // Track could not be resolved or played
	EventTrackQueued                   // Track was appended to the queue
	EventStateChanged                  // Playback state changed (pause/resume)
	EventQueueCleared                  // Queue was cleared by stop
	EventQueueEmpty                    // Nothing left to play
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackFailed:
		return "track_failed"
	case EventTrackQueued:
		return "track_queued"
	case EventStateChanged:
		return "state_changed"
	case EventQueueCleared:
		return "queue_cleared"
	case EventQueueEmpty:
		return "queue_empty"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type     EventType
	Track    *track.Track // Track concerned (nil for some events)
	State    State        // Playback state after the event
	QueueLen int          // Pending tracks after the event
	Err      error        // Failure cause for EventTrackFailed, finish error for EventTrackEnded
}
