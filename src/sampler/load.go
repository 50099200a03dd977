package sampler

import (
	"math"
	"os"

	"github.com/gopxl/beep/wav"

	"github.com/soundbench/drum-machine/src/song"
)

// LoadSample decodes a WAV file into memory. Stereo files keep both
// channels; mono files duplicate the single channel.
func LoadSample(path string) (*song.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	streamer, format, err := wav.Decode(f)
	if err != nil {
		return nil, err
	}
	defer streamer.Close()

	sample := &song.Sample{Rate: int(format.SampleRate)}
	buf := make([][2]float64, 1024)
	for {
		n, ok := streamer.Stream(buf)
		for i := 0; i < n; i++ {
			sample.DataL = append(sample.DataL, float32(buf[i][0]))
			sample.DataR = append(sample.DataR, float32(buf[i][1]))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, err
	}
	return sample, nil
}

// ClickSample synthesizes a short metronome click: an exponentially
// decaying sine burst. Used when no click file is available.
func ClickSample(sampleRate int) *song.Sample {
	frames := sampleRate / 50
	data := make([]float32, frames)
	freq := 1760.0
	for i := 0; i < frames; i++ {
		t := float64(i) / float64(sampleRate)
		env := math.Exp(-t * 180)
		data[i] = float32(math.Sin(2*math.Pi*freq*t) * env)
	}
	return &song.Sample{DataL: data, DataR: data, Rate: sampleRate}
}
