// Package playback provides the player state machine driving a single output device.
package playback

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // No current track
	StateLoading              // Current track is being resolved, device not started yet
	StatePlaying              // Current track is playing
	StatePaused               // Current track is paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Active reports whether the device holds the current track (playing or paused).
func (s State) Active() bool {
	return s == StatePlaying || s == StatePaused
}
