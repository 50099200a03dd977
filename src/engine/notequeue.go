package engine

import (
	"container/heap"
	"math"

	"github.com/soundbench/drum-machine/src/song"
)

// ----- Song Note Queue ----- //

// queuedNote pairs a note copy with its insertion sequence so equal
// start frames dispatch in insertion order.
type queuedNote struct {
	note *song.Note
	seq  int64
}

// noteHeap is a min-heap on (noteStart, seq).
type noteHeap []queuedNote

func (h noteHeap) Len() int { return len(h) }
func (h noteHeap) Less(i, j int) bool {
	if h[i].note.NoteStart != h[j].note.NoteStart {
		return h[i].note.NoteStart < h[j].note.NoteStart
	}
	return h[i].seq < h[j].seq
}
func (h noteHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *noteHeap) Push(x interface{}) {
	*h = append(*h, x.(queuedNote))
}

func (h *noteHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// pushSongNote enqueues the note copy, bumping its instrument's queued
// counter.
func (e *Engine) pushSongNote(n *song.Note) {
	if n.Instrument != nil {
		n.Instrument.Enqueue()
	}
	e.noteSeq++
	heap.Push(&e.songNoteQueue, queuedNote{note: n, seq: e.noteSeq})
}

func (e *Engine) topSongNote() *song.Note {
	if len(e.songNoteQueue) == 0 {
		return nil
	}
	return e.songNoteQueue[0].note
}

func (e *Engine) popSongNote() *song.Note {
	item := heap.Pop(&e.songNoteQueue).(queuedNote)
	return item.note
}

// rebuildSongNoteQueue restores the heap order after bulk rewrites.
func (e *Engine) rebuildSongNoteQueue() {
	heap.Init(&e.songNoteQueue)
}

// clearNoteQueues drops all queued note copies.
func (e *Engine) clearNoteQueues() {
	for len(e.songNoteQueue) > 0 {
		n := e.popSongNote()
		if n.Instrument != nil {
			n.Instrument.Dequeue()
		}
	}
	e.midiNoteQueue = e.midiNoteQueue[:0]
}

// computeNoteStart derives the note's absolute start frame from its
// tick position and humanize delay. Must run after both are set.
func (e *Engine) computeNoteStart(n *song.Note) {
	frame, _ := e.frameFromTick(float64(n.Position))
	n.NoteStart = frame + n.HumanizeDelay
}

// ----- Helpers ----- //

// gaussian draws from a normal distribution scaled by z (Box-Muller).
func (e *Engine) gaussian(z float64) float64 {
	var x1, x2, w float64
	for {
		x1 = 2.0*e.rng.Float64() - 1.0
		x2 = 2.0*e.rng.Float64() - 1.0
		w = x1*x1 + x2*x2
		if w < 1.0 && w > 0 {
			break
		}
	}
	w = math.Sqrt(-2.0 * math.Log(w) / w)
	return x1 * w * z
}

// coarseGrainTick floors the tick, rounding up when the round trip
// through the frame axis left it within 1e-6 below the next integer.
// Without this, relocations to large ticks would enqueue notes of the
// preceding tick again.
func coarseGrainTick(tick float64) float64 {
	if math.Ceil(tick)-tick > 0 && math.Ceil(tick)-tick < 1e-6 {
		return math.Floor(tick) + 1
	}
	return math.Floor(tick)
}

// ----- Tick Interval ----- //

// computeTickInterval determines the tick window [tickStart, tickEnd)
// to enqueue in this cycle and returns the lead-lag factor in frames.
//
// The window is anchored at the playhead frame (or the realtime frame
// when transport is stopped), extended by the look-ahead, and shifted
// past the previously covered window once look-ahead has been applied
// so successive windows tile without overlap.
func (e *Engine) computeTickInterval(intervalLengthInFrames int) (tickStart, tickEnd float64, leadLag int64) {
	pos := e.transportPos

	var frameStart int64
	if e.state == StateReady {
		// Playback is stopped; pretend it still rolls using the
		// realtime frame so MIDI and virtual keyboard input keeps
		// sounding.
		frameStart = e.realtimeFrame
	} else {
		frameStart = pos.frame
	}

	leadLag = e.leadLagInFrames(pos.tick)

	// With tempo markers the lookahead is not constant: moved cycle by
	// cycle across a marker it would produce holes and overlaps in the
	// tick coverage. A single cached factor is used instead,
	// invalidated whenever the tempo changes.
	if pos.lastLeadLagFactor != 0 {
		if pos.lastLeadLagFactor != leadLag {
			leadLag = pos.lastLeadLagFactor
		}
	} else {
		pos.lastLeadLagFactor = leadLag
	}

	lookahead := leadLag + maxTimeHumanize + 1

	frameEnd := frameStart + lookahead + int64(intervalLengthInFrames)

	if e.lookaheadApplied {
		frameStart += lookahead
	}

	tickStart = e.tickFromFrame(frameStart) + pos.tickMismatch - pos.tickOffsetQueuing
	tickEnd = e.tickFromFrame(frameEnd) - pos.tickOffsetQueuing

	return tickStart, tickEnd, leadLag
}

// ----- Note Queue Update ----- //

// endOfSongReached is the internal -1 result of updateNoteQueue.
const endOfSongReached = -1

// updateNoteQueue advances the queuing position through the next tick
// window and enqueues every due note: realtime MIDI input, metronome
// clicks and pattern notes with swing, humanize and lead-lag applied.
// Returns endOfSongReached when the song ran out without looping.
func (e *Engine) updateNoteQueue(intervalLengthInFrames int) int {
	tickStartComp, tickEndComp, leadLag := e.computeTickInterval(intervalLengthInFrames)

	// MIDI events are moved into the song note queue as well.
	for len(e.midiNoteQueue) > 0 {
		n := e.midiNoteQueue[0]
		if float64(n.Position) > coarseGrainTick(tickEndComp) {
			break
		}
		e.midiNoteQueue = e.midiNoteQueue[1:]
		e.computeNoteStart(n)
		e.pushSongNote(n)
	}

	if e.state != StatePlaying && e.state != StateTesting {
		return 0
	}

	// The lookahead is only marked consumed once the associated tick
	// interval is actually traversed by the queuing position.
	if !e.lookaheadApplied {
		e.lookaheadApplied = true
	}

	tickStart := int64(coarseGrainTick(tickStartComp))
	tickEnd := int64(coarseGrainTick(tickEndComp))

	e.lastTickEnd = tickEndComp

	// Looping over integer ticks keeps all notes encountered between
	// two iterations within the same pattern.
	for tick := tickStart; tick < tickEnd; tick++ {

		if e.song.Mode == song.ModeSong {
			previousPosition := e.queuingPos.patternStartTick + e.queuingPos.patternTickPosition

			newFrame, mismatch := e.frameFromTick(float64(tick))
			e.queuingPos.tickMismatch = mismatch
			e.updateSongTransportPosition(float64(tick), newFrame, e.queuingPos)

			if e.song.LoopMode != song.LoopEnabled &&
				(previousPosition > e.queuingPos.patternStartTick+e.queuingPos.patternTickPosition ||
					len(e.song.PatternGroupVector) == 0) {
				// End of song.
				if e.midiOut != nil && e.midiOut.Active() {
					e.midiOut.AllNotesOff()
				}
				return endOfSongReached
			}
		} else {
			newFrame, mismatch := e.frameFromTick(float64(tick))
			e.queuingPos.tickMismatch = mismatch
			e.updatePatternTransportPosition(float64(tick), newFrame, e.queuingPos)
		}

		// Metronome, triggered every beat. The first tick of a pattern
		// uses an accented click.
		var metronomeTickPosition int64
		if len(e.song.PatternGroupVector) == 0 {
			metronomeTickPosition = tick
		} else {
			metronomeTickPosition = e.queuingPos.patternTickPosition
		}

		if metronomeTickPosition%metronomeDivisor == 0 {
			var pitch, velocity float64
			if metronomeTickPosition == 0 {
				pitch = 3
				velocity = 1.0
				e.events.Push(EventMetronome, 1)
			} else {
				pitch = 0
				velocity = 0.8
				e.events.Push(EventMetronome, 0)
			}
			if e.useMetronome {
				e.metronome.Volume = e.metronomeVolume
				click := song.NewNote(e.metronome, tick, velocity, 0, pitch)
				click.HumanizeDelay = 0
				e.computeNoteStart(click)
				e.pushSongNote(click)
			}
		}

		if e.song.Mode == song.ModeSong && len(e.song.PatternGroupVector) == 0 {
			// No patterns in song. Transport keeps rolling in case
			// patterns are added again, and the metronome stays usable.
			if e.useMetronome {
				continue
			}
			return 0
		}

		for _, pattern := range e.queuingPos.playingPatterns.All() {
			for _, note := range pattern.NotesAt(e.queuingPos.patternTickPosition) {
				if note == nil {
					continue
				}
				note.JustRecorded = false

				// Offset in frames: sum of swing, humanized timing and
				// lead-lag.
				var offset int64

				// Swing: delay the upbeat 16th notes. With the
				// timeline active the tick size may change at any
				// point, so the frame length of the 16th offset is
				// computed at this very position.
				if e.queuingPos.patternTickPosition%(song.MaxNotes/16) == 0 &&
					e.queuingPos.patternTickPosition%(song.MaxNotes/8) != 0 &&
					e.song.SwingFactor > 0 {
					swung, _ := e.frameFromTick(float64(tick) + song.MaxNotes/32.0)
					plain, _ := e.frameFromTick(float64(tick))
					offset += int64(float64(swung)*e.song.SwingFactor) - plain
				}

				// Humanize: a gaussian timing offset; the song factor
				// also scales the variance.
				if e.song.HumanizeTimeValue != 0 {
					offset += int64(e.gaussian(0.3) * e.song.HumanizeTimeValue * maxTimeHumanize)
				}

				// Lead or lag: constant per-note offset.
				offset += int64(note.LeadLag * float64(leadLag))

				// No note may start before the beginning of the song.
				if e.queuingPos.frame+offset < 0 {
					offset = -e.queuingPos.frame
				}

				if offset > maxTimeHumanize {
					offset = maxTimeHumanize
				} else if offset < -maxTimeHumanize {
					offset = -maxTimeHumanize
				}

				copied := note.Copy()
				copied.HumanizeDelay = offset
				copied.Position = tick
				// Has to run after position and delay are assigned.
				e.computeNoteStart(copied)

				if e.song.Mode == song.ModeSong {
					pos := float64(e.queuingPos.column) +
						float64(copied.Position%song.MaxNotes)/float64(song.MaxNotes)
					copied.Velocity = note.Velocity * e.song.VelocityAutomation.Value(pos)
				}
				e.pushSongNote(copied)
			}
		}
	}

	return 0
}
