package engine

import (
	"testing"

	"github.com/soundbench/drum-machine/src/driver"
	"github.com/soundbench/drum-machine/src/song"
)

func expectNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
}

func expectEqualInt(t *testing.T, label string, got, want int64) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %d, want %d", label, got, want)
	}
}

func expectNear(t *testing.T, label string, got, want, tolerance float64) {
	t.Helper()
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("%s: got %f, want %f (tolerance %f)", label, got, want, tolerance)
	}
}

// newTestEngine wires an engine to a fake driver at 48 kHz.
func newTestEngine(t *testing.T) (*Engine, *driver.FakeDriver) {
	t.Helper()
	e := New(NewEventQueue(65536))
	var fake *driver.FakeDriver
	factory := func(name string, callback driver.ProcessCallback) (driver.AudioOutput, error) {
		fake = driver.NewFakeDriver(48000, callback)
		return fake, nil
	}
	expectNoError(t, e.StartAudioDrivers([]string{"fake"}, factory, nil))
	if fake == nil {
		t.Fatal("fake driver was not created")
	}
	return e, fake
}

// emptySong holds one empty pattern of a full 192 ticks.
func emptySong() *song.Song {
	s := song.New("test", 120)
	p := song.NewPattern("empty", song.MaxNotes)
	s.PatternList.Add(p)
	s.PatternGroupVector = append(s.PatternGroupVector, song.NewPatternList(p))
	return s
}

// twoColumnSong has two full-length patterns in sequence.
func twoColumnSong() *song.Song {
	s := song.New("test", 120)
	p0 := song.NewPattern("one", song.MaxNotes)
	p1 := song.NewPattern("two", song.MaxNotes)
	s.PatternList.Add(p0)
	s.PatternList.Add(p1)
	s.PatternGroupVector = append(s.PatternGroupVector,
		song.NewPatternList(p0), song.NewPatternList(p1))
	return s
}

// drainEvents empties the queue and returns counts per kind plus the
// ordered state transitions.
func drainEvents(e *Engine) (map[EventKind]int, []State) {
	counts := map[EventKind]int{}
	var states []State
	for {
		ev, ok := e.events.Pop()
		if !ok {
			break
		}
		counts[ev.Kind]++
		if ev.Kind == EventStateChanged {
			states = append(states, State(ev.Value))
		}
	}
	return counts, states
}

func TestStateMachineLifecycle(t *testing.T) {
	e, fake := newTestEngine(t)

	if e.State() != StatePrepared {
		t.Fatalf("expected Prepared after driver start, got %s", e.State())
	}

	e.SetSong(emptySong())
	if e.State() != StateReady {
		t.Fatalf("expected Ready after SetSong, got %s", e.State())
	}

	e.Play()
	fake.Process(1024)
	if e.State() != StatePlaying {
		t.Fatalf("expected Playing after process cycle, got %s", e.State())
	}

	e.Stop()
	fake.Process(1024)
	if e.State() != StateReady {
		t.Fatalf("expected Ready after stop, got %s", e.State())
	}

	e.RemoveSong()
	if e.State() != StatePrepared {
		t.Fatalf("expected Prepared after RemoveSong, got %s", e.State())
	}

	e.StopAudioDrivers()
	if e.State() != StateInitialized {
		t.Fatalf("expected Initialized after driver stop, got %s", e.State())
	}
}

func TestSetSongInitializesTransport(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetSong(emptySong())

	pos := e.Transport()
	expectEqualInt(t, "frame", pos.Frame(), 0)
	expectNear(t, "tick", pos.Tick(), 0, 1e-9)
	expectNear(t, "tickSize", pos.TickSize(), 500, 1e-9)
	if pos.Column() != 0 {
		t.Errorf("column: got %d, want 0", pos.Column())
	}
	if e.QueuingPos().Frame() != pos.Frame() {
		t.Errorf("queuing position should equal playhead after SetSong")
	}
	if e.SongSizeInTicks() != 192 {
		t.Errorf("song size: got %f, want 192", e.SongSizeInTicks())
	}
}

func TestNoteOnRejectedInWrongState(t *testing.T) {
	e := New(NewEventQueue(16))
	n := song.NewNote(song.NewInstrument(0, "kick"), 0, 1, 0, 0)
	e.NoteOn(n)
	e.Lock()
	if len(e.midiNoteQueue) != 0 {
		t.Errorf("note must be rejected in Initialized state")
	}
	e.Unlock()
}
