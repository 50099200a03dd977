package song

import "sort"

// ----- Timeline ----- //

// TempoMarker pins a BPM from its column onward.
type TempoMarker struct {
	Column int
	Bpm    float64
}

// Timeline is a piecewise-constant tempo map: an ordered list of
// markers, each valid from its column until the next one. Access is
// serialized by the engine lock.
type Timeline struct {
	markers []TempoMarker
	active  bool
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

func (t *Timeline) Activate()      { t.active = true }
func (t *Timeline) Deactivate()    { t.active = false }
func (t *Timeline) IsActive() bool { return t.active }

// HasMarkers reports whether at least one tempo marker is set.
func (t *Timeline) HasMarkers() bool {
	return len(t.markers) > 0
}

// AddMarker inserts or replaces the marker at the column.
func (t *Timeline) AddMarker(column int, bpm float64) {
	for i := range t.markers {
		if t.markers[i].Column == column {
			t.markers[i].Bpm = bpm
			return
		}
	}
	t.markers = append(t.markers, TempoMarker{Column: column, Bpm: bpm})
	sort.Slice(t.markers, func(i, j int) bool {
		return t.markers[i].Column < t.markers[j].Column
	})
}

// DeleteMarker removes the marker at the column, if any.
func (t *Timeline) DeleteMarker(column int) {
	for i := range t.markers {
		if t.markers[i].Column == column {
			t.markers = append(t.markers[:i], t.markers[i+1:]...)
			return
		}
	}
}

// TempoAtColumn returns the tempo governing the column. Columns before
// the first marker fall back to the given default.
func (t *Timeline) TempoAtColumn(column int, fallback float64) float64 {
	bpm := fallback
	for _, m := range t.markers {
		if m.Column > column {
			break
		}
		bpm = m.Bpm
	}
	return bpm
}

// Markers returns the sorted markers; callers must not mutate them.
func (t *Timeline) Markers() []TempoMarker {
	return t.markers
}
