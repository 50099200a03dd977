package engine

import (
	"testing"

	"github.com/soundbench/drum-machine/src/song"
)

// S5/P7: enlarging a pattern in a column before the playhead keeps the
// perceived position (column, pattern tick) constant and shifts the
// in-flight notes by the song-size offset.
func TestUpdateSongSizePreservesPosition(t *testing.T) {
	e, fake := newTestEngine(t)
	s := twoColumnSong()
	kick := song.NewInstrument(0, "kick")
	s.Instruments.Add(kick)
	// A note near the end of column 1 so it stays in flight.
	n := song.NewNote(kick, 120, 1, 0, 0)
	s.PatternGroupVector[1].Get(0).AddNote(n)
	e.SetSong(s)

	e.Locate(300)
	e.Play()
	fake.Process(1024)
	fake.Process(1024)
	fake.Process(1024)

	e.Lock()
	oldColumn := e.transportPos.column
	oldPatternTick := e.transportPos.patternTickPosition
	var oldPositions []int64
	for _, qn := range e.songNoteQueue {
		if qn.note.Instrument == kick {
			oldPositions = append(oldPositions, qn.note.Position)
		}
	}
	e.Unlock()

	if oldColumn != 1 {
		t.Fatalf("setup: expected column 1 at tick 300, got %d", oldColumn)
	}
	if len(oldPositions) == 0 {
		t.Fatal("setup: expected an in-flight note")
	}

	// Extend column 0's pattern by 96 ticks: 384 -> 480 total.
	e.Lock()
	s.PatternGroupVector[0].Get(0).Length = song.MaxNotes + 96
	e.Unlock()
	e.UpdateSongSize()

	e.Lock()
	defer e.Unlock()

	if e.transportPos.column != oldColumn {
		t.Errorf("column changed: %d -> %d", oldColumn, e.transportPos.column)
	}
	expectEqualInt(t, "patternTickPosition",
		e.transportPos.patternTickPosition, oldPatternTick)
	expectNear(t, "tickOffsetSongSize", e.transportPos.tickOffsetSongSize, 96, 1e-9)
	expectNear(t, "songSizeInTicks", e.songSizeInTicks, 480, 1e-9)

	i := 0
	for _, qn := range e.songNoteQueue {
		if qn.note.Instrument != kick {
			continue
		}
		if i >= len(oldPositions) {
			break
		}
		expectEqualInt(t, "shifted note position", qn.note.Position, oldPositions[i]+96)
		// The start frame follows the new position.
		frame, _ := e.frameFromTick(float64(qn.note.Position))
		expectEqualInt(t, "shifted note start", qn.note.NoteStart, frame+qn.note.HumanizeDelay)
		i++
	}
}

// Shrinking the song below the current column ends playback.
func TestUpdateSongSizeEndOfSong(t *testing.T) {
	e, fake := newTestEngine(t)
	s := twoColumnSong()
	e.SetSong(s)

	e.Locate(300)
	e.Play()
	fake.Process(1024)

	e.Lock()
	if e.transportPos.column != 1 {
		e.Unlock()
		t.Fatalf("setup: expected column 1, got %d", e.transportPos.column)
	}
	// Drop column 1 entirely.
	s.PatternGroupVector = s.PatternGroupVector[:1]
	e.Unlock()
	e.UpdateSongSize()
	fake.Process(1024)

	e.Lock()
	defer e.Unlock()
	if e.state != StateReady {
		t.Errorf("expected Ready after shrink past playhead, got %s", e.state)
	}
	expectNear(t, "tick", e.transportPos.tick, 0, 1e-9)
}

// Relocation resets offsets, clears queues and syncs both cursors.
func TestLocate(t *testing.T) {
	e, fake := newTestEngine(t)
	s := emptySong()
	s.LoopMode = song.LoopEnabled
	e.SetSong(s)
	e.Play()
	for i := 0; i < 10; i++ {
		fake.Process(1024)
	}
	drainEvents(e)

	e.Locate(96)

	e.Lock()
	defer e.Unlock()

	expectNear(t, "tick", e.transportPos.tick, 96, 1e-9)
	expectEqualInt(t, "frame", e.transportPos.frame, 48000)
	if e.queuingPos.tick != e.transportPos.tick ||
		e.queuingPos.frame != e.transportPos.frame {
		t.Error("queuing cursor must follow the playhead on relocation")
	}
	if e.lookaheadApplied {
		t.Error("relocation must reset the lookahead flag")
	}
	if len(e.songNoteQueue) != 0 || len(e.midiNoteQueue) != 0 {
		t.Error("relocation must clear the note queues")
	}

	counts, _ := drainEvents(e)
	if counts[EventRelocation] != 1 {
		t.Errorf("relocation events: got %d, want 1", counts[EventRelocation])
	}
}

// An inbound frame relocation with a fractional tick close below an
// integer is rounded up to avoid re-playing the previous tick.
func TestLocateToFrameGlitchRounding(t *testing.T) {
	e, _ := newTestEngine(t)
	s := emptySong()
	s.LoopMode = song.LoopEnabled
	e.SetSong(s)
	drainEvents(e)

	// 24.98 ticks at 500 frames per tick.
	e.LocateToFrame(12490)

	e.Lock()
	defer e.Unlock()
	expectNear(t, "rounded tick", e.transportPos.tick, 25, 1e-9)
}

// Tempo changes rewrite the start frame of notes already in flight.
func TestHandleTempoChangeRewritesNotes(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetSong(emptySong())

	e.Lock()
	defer e.Unlock()

	kick := song.NewInstrument(0, "kick")
	n := song.NewNote(kick, 48, 1, 0, 0)
	e.computeNoteStart(n)
	e.pushSongNote(n)
	expectEqualInt(t, "note start at 120 bpm", n.NoteStart, 24000)

	e.setNextBpm(240)
	e.updateBpmAndTickSize(e.transportPos)

	expectEqualInt(t, "note start at 240 bpm", n.NoteStart, 12000)
}
