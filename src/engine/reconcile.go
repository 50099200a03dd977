package engine

import (
	"log"
	"math"

	"github.com/soundbench/drum-machine/src/song"
)

// ----- Edit-Time Reconciliation ----- //

// reset clears queues, offsets and both cursors. Lock held.
func (e *Engine) reset() {
	e.clearNoteQueues()

	e.masterPeakL = 0
	e.masterPeakR = 0

	e.lastTickEnd = 0
	e.lookaheadApplied = false

	e.transportPos.Reset()
	e.queuingPos.Reset()

	e.updateBpmAndTickSize(e.transportPos)
	e.updateBpmAndTickSize(e.queuingPos)

	e.updatePlayingPatterns()
}

// resetOffsets drops all accumulated tempo and song-size offsets along
// with the in-flight notes they applied to. Lock held.
func (e *Engine) resetOffsets() {
	e.clearNoteQueues()

	e.lastTickEnd = 0
	e.lookaheadApplied = false

	for _, pos := range []*TransportPosition{e.transportPos, e.queuingPos} {
		pos.frameOffsetTempo = 0
		pos.tickOffsetQueuing = 0
		pos.tickOffsetSongSize = 0
		pos.lastLeadLagFactor = 0
	}
}

// Locate relocates the transport to the given tick.
func (e *Engine) Locate(tick float64) {
	e.Lock()
	defer e.Unlock()
	e.locate(tick)
}

// locate implements Locate with the lock held. When an external
// transport master is attached, the relocation is delegated; the new
// frame arrives in the next process cycle.
func (e *Engine) locate(tick float64) {
	if master, ok := e.audioDriver.(TransportRelocator); ok {
		frame, _, err := e.computeFrameFromTick(tick)
		if err != nil {
			log.Printf("locate(%f): %v\n", tick, err)
			return
		}
		master.LocateTransport(frame)
		return
	}

	e.resetOffsets()
	e.lastTickEnd = tick
	newFrame, mismatch, err := e.computeFrameFromTick(tick)
	if err != nil {
		log.Printf("locate(%f): %v\n", tick, err)
		return
	}
	e.transportPos.tickMismatch = mismatch

	e.updateTransportPosition(tick, newFrame, e.transportPos)
	e.queuingPos.Set(e.transportPos)

	e.handleTempoChange()

	e.events.Push(EventRelocation, 0)
}

// TransportRelocator is implemented by transport-master drivers that
// perform relocations themselves.
type TransportRelocator interface {
	LocateTransport(frame int64)
}

// LocateToFrame relocates to a frame coming back from an external
// transport. The tick mismatch was lost on the way out, so fractional
// ticks close below an integer are rounded up to avoid glitches.
func (e *Engine) LocateToFrame(frame int64) {
	e.Lock()
	defer e.Unlock()

	e.resetOffsets()

	newTick, err := e.computeTickFromFrame(frame)
	if err != nil {
		log.Printf("locateToFrame(%d): %v\n", frame, err)
		return
	}
	if frac := math.Mod(newTick, 1); frac >= 0.97 {
		log.Printf("computed tick [%.10f] rounded to [%.0f] to avoid glitches\n",
			newTick, math.Round(newTick))
		newTick = math.Round(newTick)
	}
	e.lastTickEnd = newTick

	// Reacquire the mismatch so tick<->frame convert cleanly again.
	newFrame, mismatch, err := e.computeFrameFromTick(newTick)
	if err != nil {
		log.Printf("locateToFrame(%d): %v\n", frame, err)
		return
	}
	e.transportPos.tickMismatch = mismatch

	e.updateTransportPosition(newTick, newFrame, e.transportPos)
	e.queuingPos.Set(e.transportPos)

	e.handleTempoChange()

	e.events.Push(EventRelocation, 0)
}

// ----- Song Size ----- //

// UpdateSongSize reconciles both cursors and all in-flight notes after
// patterns were added, removed or resized, keeping the perceived
// position (column, pattern tick) constant.
func (e *Engine) UpdateSongSize() {
	e.Lock()
	defer e.Unlock()
	e.updateSongSize()
}

func (e *Engine) updateSongSize() {
	if e.song == nil {
		log.Println("no song set yet")
		return
	}

	updatePatternSize := func(pos *TransportPosition) {
		if pos.playingPatterns.Size() > 0 {
			pos.patternSize = pos.playingPatterns.LongestPatternLength()
		} else {
			pos.patternSize = song.MaxNotes
		}
	}
	updatePatternSize(e.transportPos)
	updatePatternSize(e.queuingPos)

	if e.song.Mode == song.ModePattern {
		e.songSizeInTicks = float64(e.song.LengthInTicks())
		e.events.Push(EventSongSizeChanged, 0)
		return
	}

	// Expected behavior:
	// - editing any part of the song except the pattern currently
	//   playing must not move the transport
	// - the position is defined as column + pattern tick position
	// - looped and non-looped playback behave alike
	newSongSizeInTicks := float64(e.song.LengthInTicks())

	emptySong := e.songSizeInTicks == 0 || newSongSizeInTicks == 0

	var newStrippedTick, repetitions float64
	if e.songSizeInTicks != 0 {
		// Strip the loop repetitions but keep their number;
		// patternStartTick and column are only defined within one
		// song length.
		newStrippedTick = math.Mod(e.transportPos.tick, e.songSizeInTicks)
		repetitions = math.Floor(e.transportPos.tick / e.songSizeInTicks)
	} else {
		newStrippedTick = e.transportPos.tick
		repetitions = 0
	}

	oldColumn := e.transportPos.column

	e.songSizeInTicks = newSongSizeInTicks

	endOfSong := func() {
		e.stopTransport()
		e.stopPlayback()
		e.locate(0)
		e.events.Push(EventSongSizeChanged, 0)
	}

	if oldColumn >= len(e.song.PatternGroupVector) && e.song.LoopMode != song.LoopEnabled {
		// The old column exceeds the new song size.
		endOfSong()
		return
	}

	newPatternStartTick := e.song.TickForColumn(oldColumn)
	if newPatternStartTick == -1 && e.song.LoopMode != song.LoopEnabled {
		// Failsafe in case the old column exceeds the new song size.
		endOfSong()
		return
	}

	if newPatternStartTick != e.transportPos.patternStartTick && !emptySong {
		// A pattern prior to the current one was toggled, enlarged or
		// shrunk; compensate to keep the pattern tick position fixed.
		newStrippedTick += float64(newPatternStartTick - e.transportPos.patternStartTick)
	}

	// Reapply the stripped loop repetitions.
	newTick := newStrippedTick + repetitions*newSongSizeInTicks
	newFrame, mismatch, err := e.computeFrameFromTick(newTick)
	if err != nil {
		log.Printf("updateSongSize: %v\n", err)
		return
	}
	e.transportPos.tickMismatch = mismatch

	tickOffset := newTick - e.transportPos.tick

	// The last covered tick interval end is a double and needs the
	// unrounded precision.
	e.lastTickEnd += tickOffset

	// Rounding noise would spoil the floor applied to the offset later
	// on; pin it to 1e-8.
	tickOffset = math.Round(tickOffset*1e8) * 1e-8
	e.transportPos.tickOffsetSongSize = tickOffset

	// Move every note currently in flight by the same offset.
	e.handleSongSizeChange()

	e.transportPos.frameOffsetTempo = newFrame - e.transportPos.frame +
		e.transportPos.frameOffsetTempo

	oldTickSize := e.transportPos.tickSize
	e.updateTransportPosition(newTick, newFrame, e.transportPos)

	// The tempo is not expected to change in here, so make sure the
	// offsets are recalculated anyway.
	if oldTickSize == e.transportPos.tickSize {
		e.calculateTransportOffsetOnBpmChange(e.transportPos)
	}

	// The queuing position moves by the same offset to stay in sync.
	newTickQueuing := e.queuingPos.tick + tickOffset
	newFrameQueuing, mismatchQueuing, err := e.computeFrameFromTick(newTickQueuing)
	if err != nil {
		log.Printf("updateSongSize: %v\n", err)
		return
	}
	e.queuingPos.Set(e.transportPos)
	e.queuingPos.tickMismatch = mismatchQueuing
	e.updateTransportPosition(newTickQueuing, newFrameQueuing, e.queuingPos)

	e.updatePlayingPatterns()

	if e.queuingPos.column == -1 && e.song.LoopMode != song.LoopEnabled {
		endOfSong()
		return
	}

	e.events.Push(EventSongSizeChanged, 0)
}

// ----- Tempo / Timeline Changes ----- //

// handleTempoChange recomputes the start frame of every note in
// flight; the tick size changed underneath them. Lock held.
func (e *Engine) handleTempoChange() {
	if len(e.songNoteQueue) > 0 {
		notes := make([]*song.Note, 0, len(e.songNoteQueue))
		for len(e.songNoteQueue) > 0 {
			notes = append(notes, e.popSongNote())
		}
		for _, n := range notes {
			e.computeNoteStart(n)
			e.noteSeq++
			e.songNoteQueue = append(e.songNoteQueue, queuedNote{note: n, seq: e.noteSeq})
		}
		e.rebuildSongNoteQueue()
	}
	for _, n := range e.midiNoteQueue {
		e.computeNoteStart(n)
	}

	e.sampler.HandleTimelineOrTempoChange()
}

// handleSongSizeChange shifts the tick position of every note in
// flight by the floored song-size offset, then recomputes their start
// frames. Lock held.
func (e *Engine) handleSongSizeChange() {
	tickOffset := int64(math.Floor(e.transportPos.tickOffsetSongSize))

	shift := func(n *song.Note) {
		position := n.Position + tickOffset
		if position < 0 {
			position = 0
		}
		n.Position = position
		e.computeNoteStart(n)
	}

	if len(e.songNoteQueue) > 0 {
		notes := make([]*song.Note, 0, len(e.songNoteQueue))
		for len(e.songNoteQueue) > 0 {
			notes = append(notes, e.popSongNote())
		}
		for _, n := range notes {
			shift(n)
			e.noteSeq++
			e.songNoteQueue = append(e.songNoteQueue, queuedNote{note: n, seq: e.noteSeq})
		}
		e.rebuildSongNoteQueue()
	}
	for _, n := range e.midiNoteQueue {
		shift(n)
	}

	e.sampler.HandleSongSizeChange()
}

// HandleTimelineChange reconciles the cursors after timeline edits.
// Even when the tempo at the cursor did not change, being at tick X
// with a plain 120 bpm differs from being there with markers located
// before X, so the offsets are recalculated either way.
func (e *Engine) HandleTimelineChange() {
	e.Lock()
	defer e.Unlock()
	e.handleTimelineChange()
}

func (e *Engine) handleTimelineChange() {
	oldTickSize := e.transportPos.tickSize
	e.updateBpmAndTickSize(e.transportPos)
	e.updateBpmAndTickSize(e.queuingPos)

	if oldTickSize == e.transportPos.tickSize {
		e.calculateTransportOffsetOnBpmChange(e.transportPos)
	}
}
