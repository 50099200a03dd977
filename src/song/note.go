package song

import "sync/atomic"

// ----- Note ----- //

// Note is one percussion hit. The engine queues copies of pattern
// notes; NoteStart and HumanizeDelay are only meaningful on copies.
type Note struct {
	Instrument  *Instrument
	Position    int64 // tick
	Velocity    float64
	Pan         float64
	Length      int64
	Pitch       float64
	LeadLag     float64 // -1..1, scaled by the engine's lead-lag window
	Probability float64
	NoteOff     bool

	// HumanizeDelay is the accumulated swing/humanize/lead-lag offset
	// in frames; NoteStart the absolute start frame. Both are assigned
	// by the engine when the note is enqueued.
	HumanizeDelay int64
	NoteStart     int64

	JustRecorded bool
}

func NewNote(instr *Instrument, position int64, velocity, pan, pitch float64) *Note {
	return &Note{
		Instrument:  instr,
		Position:    position,
		Velocity:    velocity,
		Pan:         pan,
		Pitch:       pitch,
		Probability: 1.0,
	}
}

// Copy returns an independent copy of the note.
func (n *Note) Copy() *Note {
	c := *n
	return &c
}

// ----- Instrument ----- //

// Instrument is a single drumkit voice. The queued counter tracks how
// many copies of its notes currently sit in the engine's queues.
type Instrument struct {
	ID                int
	Name              string
	Volume            float64
	PitchOffset       float64
	RandomPitchFactor float64
	StopNotes         bool
	IsMetronome       bool
	ComponentID       int

	Sample *Sample

	queued int32
}

func NewInstrument(id int, name string) *Instrument {
	return &Instrument{ID: id, Name: name, Volume: 1.0}
}

func (in *Instrument) Enqueue() {
	atomic.AddInt32(&in.queued, 1)
}

func (in *Instrument) Dequeue() {
	atomic.AddInt32(&in.queued, -1)
}

func (in *Instrument) Queued() int {
	return int(atomic.LoadInt32(&in.queued))
}

// ----- InstrumentList ----- //

type InstrumentList struct {
	instruments []*Instrument
}

func NewInstrumentList(instruments ...*Instrument) *InstrumentList {
	return &InstrumentList{instruments: instruments}
}

func (il *InstrumentList) Size() int {
	return len(il.instruments)
}

func (il *InstrumentList) Get(i int) *Instrument {
	if i < 0 || i >= len(il.instruments) {
		return nil
	}
	return il.instruments[i]
}

func (il *InstrumentList) Add(in *Instrument) {
	il.instruments = append(il.instruments, in)
}

// Index returns the position of the instrument or -1.
func (il *InstrumentList) Index(in *Instrument) int {
	for i, ii := range il.instruments {
		if ii == in {
			return i
		}
	}
	return -1
}

// ----- Sample ----- //

// Sample is decoded audio data; Rate is the source file's sample rate
// and no conversion to the engine's rate takes place. Mono samples
// carry identical L and R slices.
type Sample struct {
	DataL []float32
	DataR []float32
	Rate  int
}

func (s *Sample) Frames() int {
	return len(s.DataL)
}
