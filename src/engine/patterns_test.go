package engine

import (
	"testing"

	"github.com/soundbench/drum-machine/src/song"
)

// Stacked mode merges nextPatterns into playingPatterns by symmetric
// difference, then clears nextPatterns.
func TestStackedPatternMerge(t *testing.T) {
	e, _ := newTestEngine(t)
	s := song.New("test", 120)
	s.Mode = song.ModePattern
	s.PatternMode = song.PatternModeStacked
	a := song.NewPattern("a", song.MaxNotes)
	b := song.NewPattern("b", song.MaxNotes)
	s.PatternList.Add(a)
	s.PatternList.Add(b)
	e.SetSong(s)

	e.Lock()
	defer e.Unlock()

	pos := e.queuingPos
	pos.nextPatterns.Add(a)
	e.updatePlayingPatternsPos(pos)
	if pos.playingPatterns.Size() != 1 || pos.playingPatterns.Get(0) != a {
		t.Fatalf("expected {a} playing, got %d patterns", pos.playingPatterns.Size())
	}
	if pos.nextPatterns.Size() != 0 {
		t.Error("nextPatterns must be cleared after the merge")
	}

	// a toggles off, b toggles on.
	pos.nextPatterns.Add(a)
	pos.nextPatterns.Add(b)
	e.updatePlayingPatternsPos(pos)
	if pos.playingPatterns.Size() != 1 || pos.playingPatterns.Get(0) != b {
		t.Fatalf("expected {b} playing after toggle")
	}
}

// Selected mode plays exactly the selected pattern plus its virtual
// flattening.
func TestSelectedPatternMode(t *testing.T) {
	e, _ := newTestEngine(t)
	s := song.New("test", 120)
	s.Mode = song.ModePattern
	s.PatternMode = song.PatternModeSelected
	a := song.NewPattern("a", song.MaxNotes)
	b := song.NewPattern("b", song.MaxNotes)
	v := song.NewPattern("virtual", song.MaxNotes)
	b.AddVirtual(v)
	s.PatternList.Add(a)
	s.PatternList.Add(b)
	e.SetSong(s)

	e.Lock()
	e.selectedPatternNumber = 1
	e.updatePlayingPatternsPos(e.transportPos)
	playing := e.transportPos.playingPatterns
	if playing.Index(b) < 0 || playing.Index(v) < 0 {
		t.Errorf("expected b and its virtual pattern to play")
	}
	if playing.Index(a) >= 0 {
		t.Errorf("pattern a must not play")
	}
	e.Unlock()
}

// Song mode resolves the pattern group at the cursor's column and
// updates the pattern size to the longest playing pattern.
func TestSongModeResolution(t *testing.T) {
	e, _ := newTestEngine(t)
	s := song.New("test", 120)
	long := song.NewPattern("long", song.MaxNotes)
	short := song.NewPattern("short", 96)
	s.PatternList.Add(long)
	s.PatternList.Add(short)
	s.PatternGroupVector = append(s.PatternGroupVector,
		song.NewPatternList(long, short))
	e.SetSong(s)

	e.Lock()
	defer e.Unlock()
	playing := e.transportPos.playingPatterns
	if playing.Size() != 2 {
		t.Fatalf("expected both patterns playing, got %d", playing.Size())
	}
	expectEqualInt(t, "pattern size", e.transportPos.patternSize, song.MaxNotes)
}

// With no playing patterns the pattern size falls back to MaxNotes.
func TestEmptyColumnPatternSize(t *testing.T) {
	e, _ := newTestEngine(t)
	s := song.New("test", 120)
	s.PatternGroupVector = append(s.PatternGroupVector, song.NewPatternList())
	e.SetSong(s)

	e.Lock()
	defer e.Unlock()
	expectEqualInt(t, "pattern size", e.transportPos.patternSize, song.MaxNotes)
}

func TestToggleNextPattern(t *testing.T) {
	e, _ := newTestEngine(t)
	s := song.New("test", 120)
	s.Mode = song.ModePattern
	s.PatternMode = song.PatternModeStacked
	a := song.NewPattern("a", song.MaxNotes)
	s.PatternList.Add(a)
	e.SetSong(s)

	e.ToggleNextPattern(0)
	e.Lock()
	if e.transportPos.nextPatterns.Size() != 1 || e.queuingPos.nextPatterns.Size() != 1 {
		t.Error("toggle must schedule on both cursors")
	}
	e.Unlock()

	e.ToggleNextPattern(0)
	e.Lock()
	if e.transportPos.nextPatterns.Size() != 0 || e.queuingPos.nextPatterns.Size() != 0 {
		t.Error("second toggle must unschedule")
	}
	e.Unlock()
}

func TestFlushAndAddNextPattern(t *testing.T) {
	e, _ := newTestEngine(t)
	s := song.New("test", 120)
	s.Mode = song.ModePattern
	s.PatternMode = song.PatternModeStacked
	a := song.NewPattern("a", song.MaxNotes)
	b := song.NewPattern("b", song.MaxNotes)
	s.PatternList.Add(a)
	s.PatternList.Add(b)
	e.SetSong(s)

	e.Lock()
	e.queuingPos.playingPatterns.Add(a)
	e.Unlock()

	e.FlushAndAddNextPattern(1)

	e.Lock()
	defer e.Unlock()
	next := e.queuingPos.nextPatterns
	// a is scheduled off, b on; the merge yields exactly {b}.
	if next.Index(a) < 0 || next.Index(b) < 0 {
		t.Errorf("expected a and b in nextPatterns")
	}
	e.updatePlayingPatternsPos(e.queuingPos)
	playing := e.queuingPos.playingPatterns
	if playing.Size() != 1 || playing.Get(0) != b {
		t.Errorf("expected only b playing after flush")
	}
}
