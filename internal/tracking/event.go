package tracking

// TrackData is one poll result. Err is empty on success and otherwise holds
// the translated error document from the library.
type TrackData struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	A   float64 `json:"a"`
	R   float64 `json:"r"`
	M   int32   `json:"m"`
	Err string  `json:"err"`
}

type EventKind int

const (
	// EventTrack carries a poll result in Track.
	EventTrack EventKind = iota
	// EventStarted follows a successful Start.
	EventStarted
	// EventStopped is emitted once per loop, after Uninit.
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventTrack:
		return "track"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event crosses from the poll goroutine to whoever drains Session.Events.
type Event struct {
	Kind  EventKind
	Track TrackData
}
