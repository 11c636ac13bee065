package media

// TrackType classifies a timeline track.
type TrackType string

const (
	TrackVideo TrackType = "video"
	TrackAudio TrackType = "audio"
)

// Element is a clip placed on a track. StartTime is in global timeline time;
// TrimStart/TrimEnd carve the usable region out of the underlying source.
type Element struct {
	ID        string
	MediaID   string
	StartTime float64
	Duration  float64
	TrimStart float64
	TrimEnd   float64
	Hidden    bool
}

// ActiveInterval returns the global [start, end) window the element covers.
func (e *Element) ActiveInterval() (start, end float64) {
	visible := e.Duration - e.TrimStart - e.TrimEnd
	if visible < 0 {
		visible = 0
	}
	return e.StartTime, e.StartTime + visible
}

// LocalTime maps a global timeline time to the element's trim-adjusted
// source time. Callers must ensure globalTime falls inside ActiveInterval.
func (e *Element) LocalTime(globalTime float64) float64 {
	local := globalTime - e.StartTime + e.TrimStart
	if local < 0 {
		local = 0
	}
	return local
}

// Track is an ordered lane of elements.
type Track struct {
	ID       string
	Type     TrackType
	Muted    bool
	Hidden   bool
	Elements []*Element
}
