package sampler

import (
	"math"

	"github.com/soundbench/drum-machine/src/song"
)

const maxVoices = 128

// voice plays one instrument sample from its note-on until the sample
// runs out or the voice is stolen.
type voice struct {
	instrument *song.Instrument
	sample     *song.Sample
	pos        float64
	step       float64
	gainL      float32
	gainR      float32
	active     bool
}

// Sampler renders queued drum hits into its main output pair. The
// engine hands over note copies in noteOn; ownership ends at that call
// boundary, the voice keeps only what it needs.
type Sampler struct {
	sampleRate int
	mainOutL   []float32
	mainOutR   []float32

	componentOutL map[int][]float32
	componentOutR map[int][]float32

	voices [maxVoices]voice
}

func New(sampleRate int) *Sampler {
	return &Sampler{
		sampleRate:    sampleRate,
		componentOutL: make(map[int][]float32),
		componentOutR: make(map[int][]float32),
	}
}

func (s *Sampler) SetBufferSize(bufferSize int) {
	s.mainOutL = make([]float32, bufferSize)
	s.mainOutR = make([]float32, bufferSize)
	s.componentOutL = make(map[int][]float32)
	s.componentOutR = make(map[int][]float32)
}

func (s *Sampler) MainOutL() []float32 { return s.mainOutL }
func (s *Sampler) MainOutR() []float32 { return s.mainOutR }

// ComponentOut returns the per-component buffers, allocating on first
// use.
func (s *Sampler) ComponentOut(id int) ([]float32, []float32) {
	l, ok := s.componentOutL[id]
	if !ok {
		l = make([]float32, len(s.mainOutL))
		s.componentOutL[id] = l
		s.componentOutR[id] = make([]float32, len(s.mainOutR))
	}
	return l, s.componentOutR[id]
}

// NoteOn starts a voice for the note. A note-off releases all voices
// of the note's instrument instead.
func (s *Sampler) NoteOn(n *song.Note) {
	if n.Instrument == nil {
		return
	}
	if n.NoteOff {
		s.releaseInstrument(n.Instrument)
		return
	}
	if n.Instrument.Sample == nil {
		return
	}
	v := s.allocVoice()
	if v == nil {
		return
	}
	pitch := n.Pitch + n.Instrument.PitchOffset
	gain := float32(n.Velocity * n.Instrument.Volume)
	panL, panR := panGains(n.Pan)
	*v = voice{
		instrument: n.Instrument,
		sample:     n.Instrument.Sample,
		pos:        0,
		step:       math.Pow(2, pitch/12.0),
		gainL:      gain * panL,
		gainR:      gain * panR,
		active:     true,
	}
}

func (s *Sampler) allocVoice() *voice {
	for i := range s.voices {
		if !s.voices[i].active {
			return &s.voices[i]
		}
	}
	// Steal the voice furthest into its sample.
	best := 0
	for i := range s.voices {
		if s.voices[i].pos > s.voices[best].pos {
			best = i
		}
	}
	return &s.voices[best]
}

func (s *Sampler) releaseInstrument(instr *song.Instrument) {
	for i := range s.voices {
		if s.voices[i].active && s.voices[i].instrument == instr {
			s.voices[i].active = false
		}
	}
}

// Process renders all active voices into the main and component
// buffers. Buffers are cleared first; the engine sums them afterwards.
func (s *Sampler) Process(frames int, sng *song.Song) {
	if frames > len(s.mainOutL) {
		frames = len(s.mainOutL)
	}
	for i := 0; i < frames; i++ {
		s.mainOutL[i] = 0
		s.mainOutR[i] = 0
	}
	for id := range s.componentOutL {
		l, r := s.componentOutL[id], s.componentOutR[id]
		for i := 0; i < frames; i++ {
			l[i] = 0
			r[i] = 0
		}
	}
	for vi := range s.voices {
		v := &s.voices[vi]
		if !v.active {
			continue
		}
		compL, compR := s.ComponentOut(v.instrument.ComponentID)
		for i := 0; i < frames; i++ {
			idx := int(v.pos)
			if idx >= v.sample.Frames() {
				v.active = false
				break
			}
			l := v.sample.DataL[idx] * v.gainL
			r := v.sample.DataR[idx] * v.gainR
			s.mainOutL[i] += l
			s.mainOutR[i] += r
			compL[i] += l
			compR[i] += r
			v.pos += v.step
		}
	}
}

// StopPlayingNotes silences every voice immediately.
func (s *Sampler) StopPlayingNotes() {
	for i := range s.voices {
		s.voices[i].active = false
	}
}

// HandleTimelineOrTempoChange is part of the engine contract. Voices
// already sounding are frame-based and unaffected by tick-size
// changes.
func (s *Sampler) HandleTimelineOrTempoChange() {}

// HandleSongSizeChange is part of the engine contract; sounding voices
// do not depend on tick positions anymore.
func (s *Sampler) HandleSongSizeChange() {}

func panGains(pan float64) (float32, float32) {
	if pan < -1 {
		pan = -1
	}
	if pan > 1 {
		pan = 1
	}
	// Constant-power panning.
	angle := (pan + 1) * math.Pi / 4
	return float32(math.Cos(angle)), float32(math.Sin(angle))
}
