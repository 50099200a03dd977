package driver

// Process return codes, part of the audio backend contract.
const (
	ProcessOK        = 0 // buffer rendered (possibly silence)
	ProcessTerminate = 1 // playback finished, stop pulling
	ProcessRetry     = 2 // engine lock missed, render the same buffer again
)

// ProcessCallback is invoked by an audio backend once per buffer. The
// engine fills the driver's output buffers before returning.
type ProcessCallback func(frames int) int

// AudioOutput is the pull-style audio backend consumed by the engine.
// OutL/OutR expose the master buffers the engine renders into.
type AudioOutput interface {
	Init(bufferSize int) error
	Connect() error
	Disconnect()
	SampleRate() int
	BufferSize() int
	OutL() []float32
	OutR() []float32
}

// MidiOutput receives engine-generated MIDI, in particular the
// all-notes-off flush on end of song.
type MidiOutput interface {
	Open() error
	Close() error
	Active() bool
	AllNotesOff()
}
