package engine

import (
	"errors"
	"math"

	"github.com/soundbench/drum-machine/src/song"
)

// ----- Tick <-> Frame Conversion ----- //

var (
	// ErrInvalidTime is returned for negative tick or frame values.
	ErrInvalidTime = errors.New("invalid time")
	// ErrTickSizeZero guards the conversion against a degenerate tempo.
	ErrTickSizeZero = errors.New("tick size is zero")
)

// computeTickSize returns the number of frames covered by one tick.
func computeTickSize(sampleRate int, bpm float64, resolution int) float64 {
	if bpm == 0 || resolution == 0 {
		return 0
	}
	return float64(sampleRate) * 60.0 / bpm / float64(resolution)
}

// tempoSegment is one piece of the piecewise-constant tempo map: from
// startTick onward every tick spans tickSize frames.
type tempoSegment struct {
	startTick float64
	tickSize  float64
}

// conversionBpm is the tempo applied to the whole tick axis when the
// timeline does not provide markers. It follows the same
// source-of-truth order as bpmAtColumn.
func (e *Engine) conversionBpm() float64 {
	if e.timebaseSlave && e.song != nil && e.song.Mode == song.ModeSong &&
		!math.IsNaN(e.masterBpm) {
		return e.masterBpm
	}
	return e.nextBpm
}

// tempoSegments snapshots the tempo map. The result always holds at
// least one segment starting at tick 0.
func (e *Engine) tempoSegments() []tempoSegment {
	sampleRate := e.sampleRate()
	resolution := song.DefaultResolution
	if e.song != nil {
		resolution = e.song.Resolution
	}
	fallback := computeTickSize(sampleRate, e.conversionBpm(), resolution)

	if e.song == nil || !e.song.Timeline.IsActive() ||
		!e.song.Timeline.HasMarkers() || e.song.Mode != song.ModeSong {
		return []tempoSegment{{startTick: 0, tickSize: fallback}}
	}

	segments := make([]tempoSegment, 0, len(e.song.Timeline.Markers())+1)
	segments = append(segments, tempoSegment{startTick: 0, tickSize: fallback})
	for _, m := range e.song.Timeline.Markers() {
		tick := e.song.TickForColumn(m.Column)
		if tick < 0 {
			continue
		}
		size := computeTickSize(sampleRate, m.Bpm, resolution)
		if tick == 0 {
			segments[0].tickSize = size
			continue
		}
		segments = append(segments, tempoSegment{startTick: float64(tick), tickSize: size})
	}
	return segments
}

// computeFrameFromTick integrates the tempo map from tick 0. The
// returned mismatch is the fractional tick lost to the integer frame,
// so computeTickFromFrame(frame) + mismatch round-trips to tick.
func (e *Engine) computeFrameFromTick(tick float64) (int64, float64, error) {
	if tick < 0 {
		return 0, 0, ErrInvalidTime
	}
	segments := e.tempoSegments()
	if segments[0].tickSize == 0 {
		return 0, 0, ErrTickSizeZero
	}

	var frames float64
	lastSize := segments[0].tickSize
	for i, seg := range segments {
		if seg.tickSize == 0 {
			return 0, 0, ErrTickSizeZero
		}
		if tick <= seg.startTick {
			break
		}
		end := tick
		if i+1 < len(segments) && segments[i+1].startTick < tick {
			end = segments[i+1].startTick
		}
		frames += (end - seg.startTick) * seg.tickSize
		lastSize = seg.tickSize
	}
	frame := math.Floor(frames)
	mismatch := (frames - frame) / lastSize
	return int64(frame), mismatch, nil
}

// computeTickFromFrame is the inverse integration; monotonic in frame.
func (e *Engine) computeTickFromFrame(frame int64) (float64, error) {
	if frame < 0 {
		return 0, ErrInvalidTime
	}
	segments := e.tempoSegments()

	var consumed float64
	for i, seg := range segments {
		if seg.tickSize == 0 {
			return 0, ErrTickSizeZero
		}
		if i+1 < len(segments) {
			next := segments[i+1]
			segFrames := (next.startTick - seg.startTick) * seg.tickSize
			if float64(frame) >= consumed+segFrames {
				consumed += segFrames
				continue
			}
		}
		return seg.startTick + (float64(frame)-consumed)/seg.tickSize, nil
	}
	return 0, ErrTickSizeZero
}

// frameFromTick is computeFrameFromTick with errors degraded to a zero
// result (nothing is logged); used on paths that cannot fail (tick
// already validated).
func (e *Engine) frameFromTick(tick float64) (int64, float64) {
	frame, mismatch, err := e.computeFrameFromTick(tick)
	if err != nil {
		return 0, 0
	}
	return frame, mismatch
}

// tickFromFrame mirrors frameFromTick for the inverse direction.
func (e *Engine) tickFromFrame(frame int64) float64 {
	tick, err := e.computeTickFromFrame(frame)
	if err != nil {
		return 0
	}
	return tick
}

// leadLagInTicks is the fixed per-note timing window in ticks.
func leadLagInTicks() float64 {
	return 5
}

// leadLagInFrames converts the lead-lag window to frames at the given
// position; tempo markers make this position dependent.
func (e *Engine) leadLagInFrames(tick float64) int64 {
	frameStart, _ := e.frameFromTick(tick)
	frameEnd, _ := e.frameFromTick(tick + leadLagInTicks())
	return frameEnd - frameStart
}

// LookaheadInFrames is the distance the queuing cursor runs ahead of
// the playhead. Lock held.
func (e *Engine) LookaheadInFrames() int64 {
	return e.leadLagInFrames(e.transportPos.tick) + maxTimeHumanize + 1
}
