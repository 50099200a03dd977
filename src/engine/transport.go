package engine

import (
	"log"
	"math"

	"github.com/soundbench/drum-machine/src/song"
)

// ----- Transport Position ----- //

// TransportPosition is one transport cursor. Two instances exist: the
// playhead (what is audible this buffer) and the queuing position
// (where notes are enqueued, one look-ahead window ahead).
//
// frame and tick always describe the same point in time, up to
// tickMismatch precision. The offset fields absorb shifts of the frame
// and tick axes caused by tempo changes and song edits, so that
// neither already-queued intervals are requeued nor the perceived
// position moves.
type TransportPosition struct {
	label string

	frame        int64
	tick         float64
	tickMismatch float64

	column              int
	patternStartTick    int64
	patternTickPosition int64
	patternSize         int64

	bpm      float64
	tickSize float64

	frameOffsetTempo   int64
	tickOffsetQueuing  float64
	tickOffsetSongSize float64

	lastLeadLagFactor int64

	playingPatterns *song.PatternList
	nextPatterns    *song.PatternList
}

func newTransportPosition(label string) *TransportPosition {
	p := &TransportPosition{
		label:           label,
		playingPatterns: song.NewPatternList(),
		nextPatterns:    song.NewPatternList(),
	}
	p.Reset()
	return p
}

// Reset zeroes the cursor. The pattern size falls back to MaxNotes so
// tick arithmetic stays defined with no playing patterns.
func (p *TransportPosition) Reset() {
	p.frame = 0
	p.tick = 0
	p.tickMismatch = 0
	p.column = -1
	p.patternStartTick = 0
	p.patternTickPosition = 0
	p.patternSize = song.MaxNotes
	p.bpm = 120
	p.tickSize = 0
	p.frameOffsetTempo = 0
	p.tickOffsetQueuing = 0
	p.tickOffsetSongSize = 0
	p.lastLeadLagFactor = 0
	p.playingPatterns.Clear()
	p.nextPatterns.Clear()
}

// Set deep-copies the other cursor, including its pattern sets.
func (p *TransportPosition) Set(other *TransportPosition) {
	p.frame = other.frame
	p.tick = other.tick
	p.tickMismatch = other.tickMismatch
	p.column = other.column
	p.patternStartTick = other.patternStartTick
	p.patternTickPosition = other.patternTickPosition
	p.patternSize = other.patternSize
	p.bpm = other.bpm
	p.tickSize = other.tickSize
	p.frameOffsetTempo = other.frameOffsetTempo
	p.tickOffsetQueuing = other.tickOffsetQueuing
	p.tickOffsetSongSize = other.tickOffsetSongSize
	p.lastLeadLagFactor = other.lastLeadLagFactor
	p.playingPatterns.Clear()
	for _, pp := range other.playingPatterns.All() {
		p.playingPatterns.Add(pp)
	}
	p.nextPatterns.Clear()
	for _, pp := range other.nextPatterns.All() {
		p.nextPatterns.Add(pp)
	}
}

func (p *TransportPosition) Label() string { return p.label }
func (p *TransportPosition) Frame() int64 { return p.frame }
func (p *TransportPosition) Tick() float64 { return p.tick }
func (p *TransportPosition) TickMismatch() float64 { return p.tickMismatch }
func (p *TransportPosition) Column() int { return p.column }
func (p *TransportPosition) PatternStartTick() int64 { return p.patternStartTick }
func (p *TransportPosition) PatternTickPosition() int64 { return p.patternTickPosition }
func (p *TransportPosition) PatternSize() int64 { return p.patternSize }
func (p *TransportPosition) Bpm() float64 { return p.bpm }
func (p *TransportPosition) TickSize() float64 { return p.tickSize }
func (p *TransportPosition) FrameOffsetTempo() int64 { return p.frameOffsetTempo }
func (p *TransportPosition) TickOffsetQueuing() float64 { return p.tickOffsetQueuing }
func (p *TransportPosition) TickOffsetSongSize() float64 { return p.tickOffsetSongSize }
func (p *TransportPosition) LastLeadLagFactor() int64 { return p.lastLeadLagFactor }

func (p *TransportPosition) PlayingPatterns() *song.PatternList { return p.playingPatterns }
func (p *TransportPosition) NextPatterns() *song.PatternList { return p.nextPatterns }

// ----- BPM and tick size ----- //

// bpmAtColumn resolves the tempo for a column: the external master
// (when slaved in song mode) wins over the timeline (song mode) wins
// over the pending user tempo.
func (e *Engine) bpmAtColumn(column int) float64 {
	if e.song == nil {
		return song.MinBpm
	}

	bpm := e.transportPos.bpm

	if e.timebaseSlave && e.song.Mode == song.ModeSong {
		if !math.IsNaN(e.masterBpm) && bpm != e.masterBpm {
			bpm = e.masterBpm
		}
	} else if e.song.Timeline.IsActive() && e.song.Mode == song.ModeSong {
		if column < 0 {
			column = 0
		}
		bpm = e.song.Timeline.TempoAtColumn(column, e.song.Bpm)
	} else if e.nextBpm != bpm {
		bpm = e.nextBpm
	}
	return bpm
}

// updateBpmAndTickSize recomputes the cursor's tempo and tick size,
// propagating offsets when the tick size changed.
func (e *Engine) updateBpmAndTickSize(pos *TransportPosition) {
	if !(e.state == StatePlaying || e.state == StateReady || e.state == StateTesting) {
		return
	}
	if e.song == nil {
		return
	}

	oldBpm := pos.bpm
	newBpm := e.bpmAtColumn(pos.column)
	if newBpm != oldBpm {
		pos.bpm = newBpm
		e.events.Push(EventTempoChanged, 0)
	}

	oldTickSize := pos.tickSize
	newTickSize := computeTickSize(e.sampleRate(), newBpm, e.song.Resolution)
	if newTickSize == oldTickSize {
		return
	}
	if newTickSize == 0 {
		log.Printf("[%s] tick size went to zero [oldTS: %f, bpm: %f]\n",
			pos.label, oldTickSize, newBpm)
		e.raiseError(ErrorTickSizeZero)
		return
	}

	// The lookahead is tempo dependent: it holds both a tick and a
	// frame component. Invalidating the cached factor lets the next
	// cycle pick an arbitrary new one.
	pos.lastLeadLagFactor = 0

	pos.tickSize = newTickSize

	e.calculateTransportOffsetOnBpmChange(pos)
}

// calculateTransportOffsetOnBpmChange rebuilds the frame counterpart
// of the cursor's tick under the new tempo and accumulates the shift
// into frameOffsetTempo. If look-ahead was already applied, the
// queuing tick offset is rebased too so already enqueued intervals are
// not enqueued twice.
func (e *Engine) calculateTransportOffsetOnBpmChange(pos *TransportPosition) {
	newFrame, mismatch, err := e.computeFrameFromTick(pos.tick)
	if err != nil {
		log.Printf("[%s] offset calculation failed: %v\n", pos.label, err)
		return
	}
	pos.tickMismatch = mismatch
	pos.frameOffsetTempo = newFrame - pos.frame + pos.frameOffsetTempo

	if e.lookaheadApplied {
		newLookahead := e.leadLagInFrames(pos.tick) + maxTimeHumanize + 1
		newTickEnd := e.tickFromFrame(newFrame+newLookahead) + pos.tickMismatch
		pos.tickOffsetQueuing = newTickEnd - e.lastTickEnd
	}

	// Happens when the timeline was toggled or the tempo changed while
	// it was deactivated.
	if pos.frame != newFrame {
		pos.frame = newFrame
	}

	e.handleTempoChange()
}

// ----- Position updates ----- //

// updateTransportPosition moves the cursor to the given (tick, frame)
// pair and refreshes the derived pattern coordinates.
func (e *Engine) updateTransportPosition(tick float64, frame int64, pos *TransportPosition) {
	if e.song == nil {
		return
	}
	if e.song.Mode == song.ModeSong {
		e.updateSongTransportPosition(tick, frame, pos)
	} else {
		e.updatePatternTransportPosition(tick, frame, pos)
	}
	e.updateBpmAndTickSize(pos)
}

func (e *Engine) updatePatternTransportPosition(tick float64, frame int64, pos *TransportPosition) {
	pos.tick = tick
	pos.frame = frame

	patternStartTick := float64(pos.patternStartTick)
	patternSize := pos.patternSize

	if tick >= patternStartTick+float64(patternSize) || tick < patternStartTick {
		// Transport went past the end of the pattern or pattern mode
		// was just activated.
		pos.patternStartTick += int64(math.Floor((tick-patternStartTick)/float64(patternSize))) * patternSize

		// In stacked pattern mode the playing patterns are only
		// updated when the transport loops back to the beginning, so
		// every pattern starts fresh.
		if e.song.PatternMode == song.PatternModeStacked {
			e.updatePlayingPatternsPos(pos)
		}
	}

	patternTickPosition := int64(math.Floor(tick)) - pos.patternStartTick
	if patternTickPosition > pos.patternSize {
		patternTickPosition = (int64(math.Floor(tick)) - pos.patternStartTick) % pos.patternSize
	}
	pos.patternTickPosition = patternTickPosition
}

func (e *Engine) updateSongTransportPosition(tick float64, frame int64, pos *TransportPosition) {
	pos.tick = tick
	pos.frame = frame

	if tick < 0 {
		log.Printf("[%s] provided tick [%f] is negative\n", pos.label, tick)
		return
	}

	newColumn := 0
	if len(e.song.PatternGroupVector) == 0 {
		// There are no patterns in the song.
		pos.patternStartTick = 0
		pos.patternTickPosition = 0
	} else {
		col, patternStartTick := e.song.ColumnForTick(
			int64(math.Floor(tick)), e.song.LoopMode == song.LoopEnabled)
		newColumn = col
		pos.patternStartTick = patternStartTick

		// The tick grows without bound while patternStartTick is only
		// defined between 0 and the song size; strip the loops.
		if tick >= e.songSizeInTicks && e.songSizeInTicks != 0 {
			pos.patternTickPosition = int64(math.Mod(
				math.Floor(tick)-float64(patternStartTick), e.songSizeInTicks))
		} else {
			pos.patternTickPosition = int64(math.Floor(tick)) - patternStartTick
		}
	}

	if pos.column != newColumn {
		pos.column = newColumn
		e.updatePlayingPatternsPos(pos)
		e.handleSelectedPattern()
	}
}

// incrementTransportPosition advances the playhead by one buffer. The
// queuing position is advanced in updateNoteQueue instead.
func (e *Engine) incrementTransportPosition(frames int) {
	if e.song == nil {
		return
	}
	newFrame := e.transportPos.frame + int64(frames)
	newTick := e.tickFromFrame(newFrame)
	e.transportPos.tickMismatch = 0

	e.updateTransportPosition(newTick, newFrame, e.transportPos)
}
