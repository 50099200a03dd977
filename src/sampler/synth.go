package sampler

import "math"

// Synth is a minimal additive synthesizer rendered next to the
// sampler. Voices decay on their own; it mostly serves auditioning.
type Synth struct {
	sampleRate int
	outL       []float32
	outR       []float32
	voices     []synthVoice
}

type synthVoice struct {
	freq   float64
	phase  float64
	amp    float64
	active bool
}

func NewSynth(sampleRate int) *Synth {
	return &Synth{sampleRate: sampleRate}
}

func (sy *Synth) SetBufferSize(bufferSize int) {
	sy.outL = make([]float32, bufferSize)
	sy.outR = make([]float32, bufferSize)
}

func (sy *Synth) OutL() []float32 { return sy.outL }
func (sy *Synth) OutR() []float32 { return sy.outR }

// NoteOn starts a decaying sine voice at the MIDI note number.
func (sy *Synth) NoteOn(note int, velocity float64) {
	freq := 440.0 * math.Pow(2, float64(note-69)/12)
	sy.voices = append(sy.voices, synthVoice{freq: freq, amp: velocity * 0.2, active: true})
}

func (sy *Synth) Process(frames int) {
	if frames > len(sy.outL) {
		frames = len(sy.outL)
	}
	for i := 0; i < frames; i++ {
		sy.outL[i] = 0
		sy.outR[i] = 0
	}
	decay := math.Exp(-8.0 / float64(sy.sampleRate))
	alive := sy.voices[:0]
	for vi := range sy.voices {
		v := &sy.voices[vi]
		if !v.active {
			continue
		}
		for i := 0; i < frames; i++ {
			s := float32(math.Sin(v.phase) * v.amp)
			sy.outL[i] += s
			sy.outR[i] += s
			v.phase += 2 * math.Pi * v.freq / float64(sy.sampleRate)
			v.amp *= decay
		}
		if v.amp < 1e-4 {
			v.active = false
		} else {
			alive = append(alive, *v)
		}
	}
	sy.voices = alive
}
