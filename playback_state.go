package avplay

// Video playback state can be [Stopped], [Playing], [Paused] or [Seeking].
type PlaybackState uint8

// Returns a string representation of the playback state
// ("Stopped", "Playing", "Paused", "Seeking", "Unknown").
func (s PlaybackState) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Seeking:
		return "Seeking"
	default:
		return "Unknown"
	}
}

const (
	Stopped PlaybackState = iota
	Playing
	Paused

	// Seeking is a transitional state held by [Player.Seek] while it hands
	// a seek request to the reader. It is observable through [Player.State]
	// but never persists: Seek restores Playing or Paused before returning,
	// without waiting for the seek's packet queue flush to be applied.
	Seeking

	invalidPlaybackState PlaybackState = 255
)
