package engine

import (
	"testing"

	"github.com/soundbench/drum-machine/src/song"
)

// S1: an empty 192-tick pattern at 120 bpm, ten 1024-frame buffers.
// Only the single metronome click at tick 0 falls into the covered
// interval; no note-ons are emitted.
func TestPlayStopEmptyPattern(t *testing.T) {
	e, fake := newTestEngine(t)
	s := emptySong()
	s.LoopMode = song.LoopEnabled
	e.SetSong(s)
	drainEvents(e)

	e.Play()
	for i := 0; i < 10; i++ {
		if code := fake.Process(1024); code != 0 {
			t.Fatalf("process returned %d", code)
		}
	}
	e.Stop()
	fake.Process(1024)

	counts, states := drainEvents(e)
	if counts[EventMetronome] != 1 {
		t.Errorf("metronome events: got %d, want 1", counts[EventMetronome])
	}
	if counts[EventNoteOn] != 0 {
		t.Errorf("note-on events: got %d, want 0", counts[EventNoteOn])
	}

	var transitions []State
	for _, st := range states {
		if st == StatePlaying || st == StateReady {
			transitions = append(transitions, st)
		}
	}
	if len(transitions) != 2 || transitions[0] != StatePlaying || transitions[1] != StateReady {
		t.Errorf("state transitions: got %v, want [Playing Ready]", transitions)
	}
}

// S3: humanize off, a single note at tick 24 with leadLag -0.5 starts
// half a lead-lag window early.
func TestLeadLagNoteStart(t *testing.T) {
	e, fake := newTestEngine(t)
	s := song.New("test", 120)
	kick := song.NewInstrument(0, "kick")
	s.Instruments.Add(kick)
	p := song.NewPattern("p", song.MaxNotes)
	n := song.NewNote(kick, 24, 1.0, 0, 0)
	n.LeadLag = -0.5
	p.AddNote(n)
	s.PatternList.Add(p)
	s.PatternGroupVector = append(s.PatternGroupVector, song.NewPatternList(p))
	s.LoopMode = song.LoopEnabled
	e.SetSong(s)

	e.Play()
	for i := 0; i < 9; i++ {
		fake.Process(1024)
	}

	e.Lock()
	defer e.Unlock()

	// frame(24) = 12000, leadLag = 2500 frames.
	var found *song.Note
	for _, qn := range e.songNoteQueue {
		if qn.note.Instrument == kick && qn.note.Position == 24 {
			found = qn.note
			break
		}
	}
	if found == nil {
		t.Fatal("note at tick 24 was not enqueued")
	}
	expectEqualInt(t, "noteStart", found.NoteStart, 12000-1250)
	expectEqualInt(t, "humanizeDelay", found.HumanizeDelay, -1250)
}

// P3: pops from the song note queue never decrease in start frame.
func TestQueueOrdering(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetSong(emptySong())

	e.Lock()
	defer e.Unlock()

	kick := song.NewInstrument(0, "kick")
	starts := []int64{500, 250, 1250, 0, 1000, 250, 750}
	for _, start := range starts {
		n := song.NewNote(kick, 0, 1, 0, 0)
		n.NoteStart = start
		e.pushSongNote(n)
	}

	prev := int64(-1)
	for len(e.songNoteQueue) > 0 {
		n := e.popSongNote()
		if n.NoteStart < prev {
			t.Fatalf("queue order violated: %d after %d", n.NoteStart, prev)
		}
		prev = n.NoteStart
	}
}

// Equal start frames dispatch in insertion order.
func TestQueueInsertionOrderOnTies(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetSong(emptySong())

	e.Lock()
	defer e.Unlock()

	first := song.NewNote(song.NewInstrument(0, "a"), 0, 1, 0, 0)
	second := song.NewNote(song.NewInstrument(1, "b"), 0, 1, 0, 0)
	first.NoteStart = 100
	second.NoteStart = 100
	e.pushSongNote(first)
	e.pushSongNote(second)

	if e.popSongNote() != first || e.popSongNote() != second {
		t.Error("ties must pop in insertion order")
	}
}

// P4: after the first cycle the queuing cursor leads the playhead by
// one look-ahead window.
func TestLookaheadWindow(t *testing.T) {
	e, fake := newTestEngine(t)
	s := emptySong()
	s.LoopMode = song.LoopEnabled
	e.SetSong(s)
	e.Play()

	for i := 0; i < 5; i++ {
		fake.Process(1024)
	}

	e.Lock()
	defer e.Unlock()

	// The playhead has already consumed the current buffer, so the
	// remaining lead is the look-ahead itself, up to flooring slack.
	if e.LookaheadInFrames() != 2500+maxTimeHumanize+1 {
		t.Errorf("lookahead frames: got %d", e.LookaheadInFrames())
	}
	lookaheadTicks := float64(e.LookaheadInFrames()) / 500.0
	diff := e.queuingPos.tick - e.transportPos.tick
	expectNear(t, "queuing lead", diff, lookaheadTicks, 2.0)
	if !e.lookaheadApplied {
		t.Error("lookahead must be marked applied")
	}
	if e.queuingPos.tick < e.transportPos.tick {
		t.Error("playhead must never lead the queuing position")
	}
}

// P6/S4: without looping the engine stops at the end of the song and
// relocates to tick 0; with looping it plays on.
func TestEndOfSong(t *testing.T) {
	e, fake := newTestEngine(t)
	e.SetSong(twoColumnSong())
	drainEvents(e)
	e.Play()

	stopped := false
	for i := 0; i < 500; i++ {
		fake.Process(1024)
		e.Lock()
		state := e.state
		e.Unlock()
		if state == StateReady && i > 0 {
			stopped = true
			break
		}
	}
	if !stopped {
		t.Fatal("engine never stopped at end of song")
	}

	e.Lock()
	defer e.Unlock()
	expectNear(t, "tick after end", e.transportPos.tick, 0, 1e-9)
	expectEqualInt(t, "frame after end", e.transportPos.frame, 0)
}

func TestLoopKeepsPlaying(t *testing.T) {
	e, fake := newTestEngine(t)
	s := twoColumnSong()
	s.LoopMode = song.LoopEnabled
	e.SetSong(s)
	e.Play()

	// Three songs worth of ticks: 3 * 384 * 500 frames.
	columns := map[int]bool{}
	for i := 0; i < 3*384*500/1024+10; i++ {
		fake.Process(1024)
		e.Lock()
		if e.state != StatePlaying && i > 0 {
			e.Unlock()
			t.Fatal("engine stopped while looping")
		}
		columns[e.transportPos.column] = true
		e.Unlock()
	}
	if !columns[0] || !columns[1] {
		t.Errorf("expected both columns to play, got %v", columns)
	}
}

// The metronome accents the first tick of each pattern.
func TestMetronomeAccent(t *testing.T) {
	e, fake := newTestEngine(t)
	s := emptySong()
	s.LoopMode = song.LoopEnabled
	e.SetSong(s)
	drainEvents(e)
	e.Play()

	// Cover more than one full pattern: 192 ticks = 96000 frames.
	for i := 0; i < 110; i++ {
		fake.Process(1024)
	}

	accents := 0
	plain := 0
	for {
		ev, ok := e.events.Pop()
		if !ok {
			break
		}
		if ev.Kind == EventMetronome {
			if ev.Value == 1 {
				accents++
			} else {
				plain++
			}
		}
	}
	if accents < 1 {
		t.Errorf("expected at least one accented click, got %d", accents)
	}
	if plain < 3 {
		t.Errorf("expected plain clicks between accents, got %d", plain)
	}
}

// Realtime MIDI input is drained into the song queue even while
// transport is stopped.
func TestMidiQueueDrainWhileStopped(t *testing.T) {
	e, fake := newTestEngine(t)
	s := emptySong()
	kick := song.NewInstrument(0, "kick")
	kick.Sample = &song.Sample{DataL: make([]float32, 100), DataR: make([]float32, 100), Rate: 48000}
	s.Instruments.Add(kick)
	e.SetSong(s)
	drainEvents(e)

	e.HandleMidiMessage([]byte{0x90, 36, 100})
	e.Lock()
	if len(e.midiNoteQueue) != 1 {
		t.Fatalf("midi queue length: got %d, want 1", len(e.midiNoteQueue))
	}
	e.Unlock()

	fake.Process(1024)
	fake.Process(1024)
	fake.Process(1024)

	counts, _ := drainEvents(e)
	if counts[EventNoteOn] != 1 {
		t.Errorf("note-on events: got %d, want 1", counts[EventNoteOn])
	}
	e.Lock()
	if len(e.midiNoteQueue) != 0 {
		t.Errorf("midi queue not drained")
	}
	e.Unlock()
}
