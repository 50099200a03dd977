package engine

import (
	"log"
	"time"

	"github.com/soundbench/drum-machine/src/driver"
	"github.com/soundbench/drum-machine/src/song"
)

// ----- Process Callback ----- //

// Process is the realtime entry point, invoked by the audio backend
// once per buffer. It must not block beyond the bounded lock wait; a
// missed lock yields one buffer of silence (or a retry code for the
// offline writer).
func (e *Engine) Process(frames int) int {
	startTime := time.Now()

	e.clearAudioBuffers(frames)

	// The maximum time to wait for the lock: what is left of this
	// buffer after the previous cycle's processing time.
	sampleRate := float64(e.sampleRate())
	if sampleRate == 0 {
		return driver.ProcessOK
	}
	e.maxProcessTime = 1000.0 / (sampleRate / float64(frames))
	slack := e.maxProcessTime - e.processTime
	// If processing is expected to exceed the buffer anyway, require
	// immediate locking or none at all.
	if slack < 0 {
		slack = 0
	}

	if !e.lock.tryLockFor(time.Duration(slack * float64(time.Millisecond))) {
		log.Printf("failed to lock audio engine in allowed %f ms, missed buffer\n", slack)
		e.events.Push(EventXrun, -1)

		if _, ok := e.audioDriver.(*driver.DiskWriterDriver); ok {
			// The disk writer repeats the cycle instead of dropping it.
			return driver.ProcessRetry
		}
		return driver.ProcessOK
	}

	if !(e.state == StateReady || e.state == StatePlaying) {
		e.lock.unlock()
		return driver.ProcessOK
	}

	// Sync with an external transport master, in case the driver is
	// designed that way.
	if master, ok := e.audioDriver.(TransportMaster); ok {
		master.UpdateTransportPosition(e)
	}

	// Check whether the tempo was changed.
	e.updateBpmAndTickSize(e.transportPos)
	e.updateBpmAndTickSize(e.queuingPos)

	// Start or stop playback as requested since the last cycle.
	if e.nextState == StatePlaying {
		if e.state == StateReady {
			e.startPlayback()
		}
		e.realtimeFrame = e.transportPos.frame
	} else {
		if e.state == StatePlaying {
			e.stopPlayback()
		}
		// Advance the realtime frame regardless, to keep realtime
		// keyboard and MIDI event timing rolling.
		e.realtimeFrame += int64(frames)
	}

	// Always update the note queue; input can come from patterns or
	// realtime sources.
	if e.updateNoteQueue(frames) == endOfSongReached {
		log.Println("end of song received")
		e.stopTransport()
		e.stopPlayback()
		e.locate(0)

		if _, ok := e.audioDriver.(*driver.DiskWriterDriver); ok {
			e.lock.unlock()
			return driver.ProcessTerminate
		}
	}

	e.processAudio(frames)

	if e.state == StatePlaying {
		e.incrementTransportPosition(frames)
	}

	e.processTime = float64(time.Since(startTime)) / float64(time.Millisecond)
	if e.processTime > e.maxProcessTime {
		e.events.Push(EventXrun, int(e.processTime-e.maxProcessTime))
	}

	e.lock.unlock()
	return driver.ProcessOK
}

// TransportMaster is implemented by drivers that own the transport
// (external sync); the engine pulls their position every cycle.
type TransportMaster interface {
	UpdateTransportPosition(e *Engine)
}

// clearAudioBuffers zeroes the master output pair under the output
// pointer mutex, which guards against driver rebinds mid-cycle.
func (e *Engine) clearAudioBuffers(frames int) {
	e.outputPointerMu.Lock()
	if e.audioDriver != nil {
		outL := e.audioDriver.OutL()
		outR := e.audioDriver.OutR()
		if frames > len(outL) {
			frames = len(outL)
		}
		for i := 0; i < frames; i++ {
			outL[i] = 0
			outR[i] = 0
		}
	}
	e.outputPointerMu.Unlock()
}

// ----- Note Dispatch ----- //

// processPlayNotes hands every note whose start frame falls into this
// buffer over to the sampler, in non-decreasing start frame order.
func (e *Engine) processPlayNotes(frames int) {
	var frame int64
	if e.state == StatePlaying || e.state == StateTesting {
		frame = e.transportPos.frame
	} else {
		// Playback is stopped: realtime events still sound, timed on
		// the realtime frame and disregarding timeline tempo changes.
		frame = e.realtimeFrame
	}

	for {
		n := e.topSongNote()
		if n == nil {
			break
		}
		if n.NoteStart >= frame+int64(frames) {
			// This note is not due yet.
			break
		}

		if n.Probability != 1 && n.Probability < e.rng.Float64() {
			e.popSongNote()
			if n.Instrument != nil {
				n.Instrument.Dequeue()
			}
			continue
		}

		if e.song.HumanizeVelocityValue != 0 {
			random := e.song.HumanizeVelocityValue * e.gaussian(0.2)
			n.Velocity += random - e.song.HumanizeVelocityValue/2.0
			if n.Velocity > 1.0 {
				n.Velocity = 1.0
			} else if n.Velocity < 0.0 {
				n.Velocity = 0.0
			}
		}

		if n.Instrument != nil {
			pitch := n.Pitch + n.Instrument.PitchOffset
			if n.Instrument.RandomPitchFactor != 0 {
				pitch += e.gaussian(0.4) * n.Instrument.RandomPitchFactor
			}
			n.Pitch = pitch

			// Instruments with stop-notes get a note-off delivered
			// ahead of each hit; the sampler copies what it needs at
			// the call boundary.
			if n.Instrument.StopNotes {
				offNote := song.NewNote(n.Instrument, 0, 0, 0, 0)
				offNote.NoteOff = true
				e.sampler.NoteOn(offNote)
			}
		}

		e.sampler.NoteOn(n)
		e.popSongNote()
		if n.Instrument != nil {
			n.Instrument.Dequeue()
			if idx := e.song.Instruments.Index(n.Instrument); idx != -1 {
				e.events.Push(EventNoteOn, idx)
			}
		}
	}
}

// processAudio renders sampler and synth, applies the effect chain and
// updates the peak meters.
func (e *Engine) processAudio(frames int) {
	e.processPlayNotes(frames)

	outL := e.audioDriver.OutL()
	outR := e.audioDriver.OutR()
	if frames > len(outL) {
		frames = len(outL)
	}

	e.sampler.Process(frames, e.song)
	sampL := e.sampler.MainOutL()
	sampR := e.sampler.MainOutR()
	for i := 0; i < frames; i++ {
		outL[i] += sampL[i]
		outR[i] += sampR[i]
	}

	e.synth.Process(frames)
	synL := e.synth.OutL()
	synR := e.synth.OutR()
	for i := 0; i < frames; i++ {
		outL[i] += synL[i]
		outR[i] += synR[i]
	}

	for fi, fx := range e.fx {
		if fx == nil {
			continue
		}
		fx.Process(outL[:frames], outR[:frames])
		for i := 0; i < frames; i++ {
			if outL[i] > e.fxPeakL[fi] {
				e.fxPeakL[fi] = outL[i]
			}
			if outR[i] > e.fxPeakR[fi] {
				e.fxPeakR[fi] = outR[i]
			}
		}
	}

	for i := 0; i < frames; i++ {
		if outL[i] > e.masterPeakL {
			e.masterPeakL = outL[i]
		}
		if outR[i] > e.masterPeakR {
			e.masterPeakR = outR[i]
		}
	}

	for _, component := range e.song.Components {
		compL, compR := e.sampler.ComponentOut(component.ID)
		for i := 0; i < frames; i++ {
			if compL[i] > component.PeakL {
				component.PeakL = compL[i]
			}
			if compR[i] > component.PeakR {
				component.PeakR = compR[i]
			}
		}
	}
}
