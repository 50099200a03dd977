package engine

import (
	"log"

	"github.com/soundbench/drum-machine/src/song"
)

// ----- Playing Pattern Resolver ----- //

// updatePlayingPatterns refreshes the playing pattern sets of both
// cursors.
func (e *Engine) updatePlayingPatterns() {
	e.updatePlayingPatternsPos(e.transportPos)
	e.updatePlayingPatternsPos(e.queuingPos)
}

// updatePlayingPatternsPos resolves the set of patterns sounding at
// the cursor, depending on mode and pattern mode.
func (e *Engine) updatePlayingPatternsPos(pos *TransportPosition) {
	if e.song == nil {
		return
	}
	playing := pos.playingPatterns

	if e.song.Mode == song.ModeSong {
		prevPatternNumber := playing.Size()
		playing.Clear()

		if len(e.song.PatternGroupVector) == 0 {
			// No patterns in the current song.
			if prevPatternNumber > 0 {
				e.events.Push(EventPlayingPatternsChanged, 0)
			}
		} else {
			column := pos.column
			if column < 0 {
				column = 0
			}
			if column >= len(e.song.PatternGroupVector) {
				log.Printf("provided column [%d] exceeds allowed range [0,%d], using 0 as fallback\n",
					column, len(e.song.PatternGroupVector)-1)
				column = 0
			}
			for _, p := range e.song.PatternGroupVector[column].All() {
				if p != nil {
					playing.Add(p)
					p.AddFlattenedVirtualPatterns(playing)
				}
			}

			// The event is omitted when passing from one empty column
			// to the next; the UI just follows the transport.
			if pos == e.transportPos && (prevPatternNumber != 0 || playing.Size() != 0) {
				e.events.Push(EventPlayingPatternsChanged, 0)
			}
		}
	} else if e.song.PatternMode == song.PatternModeSelected {
		selected := e.song.PatternList.Get(e.selectedPatternNumber)

		if selected != nil &&
			!(playing.Size() == 1 && playing.Get(0) == selected) {
			playing.Clear()
			playing.Add(selected)
			selected.AddFlattenedVirtualPatterns(playing)

			if pos == e.transportPos {
				e.events.Push(EventPlayingPatternsChanged, 0)
			}
		}
	} else if e.song.PatternMode == song.PatternModeStacked {
		next := pos.nextPatterns

		if next.Size() > 0 {
			for _, p := range next.All() {
				if p == nil {
					continue
				}
				if !playing.Del(p) {
					// Not present yet; it starts playing.
					playing.Add(p)
					p.AddFlattenedVirtualPatterns(playing)
				} else {
					// Already present; it stops.
					p.RemoveFlattenedVirtualPatterns(playing)
				}
				if pos == e.transportPos {
					e.events.Push(EventPlayingPatternsChanged, 0)
				}
			}
			next.Clear()
		}
	}

	if playing.Size() > 0 {
		pos.patternSize = playing.LongestPatternLength()
	} else {
		pos.patternSize = song.MaxNotes
	}
}

// ToggleNextPattern schedules the pattern to start or stop at the next
// stacked-mode boundary.
func (e *Engine) ToggleNextPattern(patternNumber int) {
	e.Lock()
	defer e.Unlock()
	if e.song == nil {
		return
	}
	p := e.song.PatternList.Get(patternNumber)
	if p == nil {
		return
	}
	if !e.transportPos.nextPatterns.Del(p) {
		e.transportPos.nextPatterns.Add(p)
	}
	if !e.queuingPos.nextPatterns.Del(p) {
		e.queuingPos.nextPatterns.Add(p)
	}
}

// ClearNextPatterns drops all scheduled pattern toggles.
func (e *Engine) ClearNextPatterns() {
	e.Lock()
	defer e.Unlock()
	e.transportPos.nextPatterns.Clear()
	e.queuingPos.nextPatterns.Clear()
}

// FlushAndAddNextPattern schedules every currently playing pattern to
// stop and the requested one to start at the next boundary. An out of
// range pattern number just flushes.
func (e *Engine) FlushAndAddNextPattern(patternNumber int) {
	e.Lock()
	defer e.Unlock()
	if e.song == nil {
		return
	}
	requested := e.song.PatternList.Get(patternNumber)

	flushAndAddNext := func(pos *TransportPosition) {
		alreadyPlaying := false
		pos.nextPatterns.Clear()
		for _, playing := range pos.playingPatterns.All() {
			if playing != requested {
				pos.nextPatterns.Add(playing)
			} else if requested != nil {
				alreadyPlaying = true
			}
		}
		if !alreadyPlaying && requested != nil {
			pos.nextPatterns.Add(requested)
		}
	}

	flushAndAddNext(e.transportPos)
	flushAndAddNext(e.queuingPos)
}

// RemovePlayingPattern drops the pattern from both playing sets, e.g.
// when it is deleted from the song.
func (e *Engine) RemovePlayingPattern(p *song.Pattern) {
	e.Lock()
	defer e.Unlock()
	e.transportPos.playingPatterns.Del(p)
	e.queuingPos.playingPatterns.Del(p)
}

// handleSelectedPattern follows the transport with the pattern
// selection while the pattern editor is locked.
func (e *Engine) handleSelectedPattern() {
	if e.song == nil || !e.patternEditorLocked {
		return
	}
	if !(e.state == StatePlaying || e.state == StateTesting) {
		return
	}

	// -1 deselects in case no pattern is found.
	patternNumber := -1

	column := e.transportPos.column
	if column < 0 {
		column = 0
	}
	if column < len(e.song.PatternGroupVector) {
		for _, p := range e.song.PatternGroupVector[column].All() {
			if idx := e.song.PatternList.Index(p); idx > patternNumber {
				patternNumber = idx
			}
		}
	}

	if patternNumber != e.selectedPatternNumber {
		e.selectedPatternNumber = patternNumber
		e.events.Push(EventSelectedPatternChanged, patternNumber)
	}
}
