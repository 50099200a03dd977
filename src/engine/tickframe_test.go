package engine

import (
	"math"
	"testing"
)

func TestComputeTickSize(t *testing.T) {
	if got := computeTickSize(48000, 120, 48); got != 500 {
		t.Errorf("tick size: got %f, want 500", got)
	}
	if got := computeTickSize(48000, 240, 48); got != 250 {
		t.Errorf("tick size: got %f, want 250", got)
	}
	if got := computeTickSize(48000, 0, 48); got != 0 {
		t.Errorf("tick size with zero bpm: got %f, want 0", got)
	}
}

func TestFrameFromTickPlain(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetSong(emptySong())

	e.Lock()
	defer e.Unlock()

	frame, mismatch, err := e.computeFrameFromTick(24)
	expectNoError(t, err)
	expectEqualInt(t, "frame", frame, 12000)
	expectNear(t, "mismatch", mismatch, 0, 1e-9)
}

func TestFrameFromTickNegative(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetSong(emptySong())

	e.Lock()
	defer e.Unlock()

	if _, _, err := e.computeFrameFromTick(-1); err != ErrInvalidTime {
		t.Errorf("expected ErrInvalidTime, got %v", err)
	}
	if _, err := e.computeTickFromFrame(-1); err != ErrInvalidTime {
		t.Errorf("expected ErrInvalidTime, got %v", err)
	}
}

func TestRoundTripPlain(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetSong(emptySong())

	e.Lock()
	defer e.Unlock()

	for tick := 0.0; tick <= 192; tick += 0.37 {
		frame, mismatch, err := e.computeFrameFromTick(tick)
		expectNoError(t, err)
		back, err := e.computeTickFromFrame(frame)
		expectNoError(t, err)
		expectNear(t, "round trip", back+mismatch, tick, 1e-6)
	}
}

func TestRoundTripWithTimeline(t *testing.T) {
	e, _ := newTestEngine(t)
	s := twoColumnSong()
	s.Timeline.AddMarker(1, 240)
	s.Timeline.Activate()
	e.SetSong(s)

	e.Lock()
	defer e.Unlock()

	// The marker at column 1 (tick 192) halves the tick size.
	frame, _, err := e.computeFrameFromTick(192)
	expectNoError(t, err)
	expectEqualInt(t, "frame at marker", frame, 192*500)

	frame, _, err = e.computeFrameFromTick(193)
	expectNoError(t, err)
	expectEqualInt(t, "frame after marker", frame, 192*500+250)

	for tick := 0.0; tick <= 384; tick += 0.73 {
		frame, mismatch, err := e.computeFrameFromTick(tick)
		expectNoError(t, err)
		back, err := e.computeTickFromFrame(frame)
		expectNoError(t, err)
		if math.Abs(back+mismatch-tick) > 1e-6 {
			t.Fatalf("round trip at tick %f: got %.9f", tick, back+mismatch)
		}
	}
}

func TestTickFromFrameMonotonic(t *testing.T) {
	e, _ := newTestEngine(t)
	s := twoColumnSong()
	s.Timeline.AddMarker(1, 60)
	s.Timeline.Activate()
	e.SetSong(s)

	e.Lock()
	defer e.Unlock()

	prev := -1.0
	for frame := int64(0); frame < 300000; frame += 997 {
		tick, err := e.computeTickFromFrame(frame)
		expectNoError(t, err)
		if tick < prev {
			t.Fatalf("tick regressed at frame %d: %f < %f", frame, tick, prev)
		}
		prev = tick
	}
}

func TestLeadLagInFrames(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetSong(emptySong())

	e.Lock()
	defer e.Unlock()

	// 5 ticks at 500 frames each.
	if got := e.leadLagInFrames(0); got != 2500 {
		t.Errorf("lead lag: got %d, want 2500", got)
	}
}

func TestCoarseGrainTick(t *testing.T) {
	if got := coarseGrainTick(86753.999999934); got != 86754 {
		t.Errorf("coarse grain: got %f, want 86754", got)
	}
	if got := coarseGrainTick(86753.9); got != 86753 {
		t.Errorf("coarse grain: got %f, want 86753", got)
	}
	if got := coarseGrainTick(12.0); got != 12 {
		t.Errorf("coarse grain: got %f, want 12", got)
	}
}
