package driver

import (
	"fmt"
	"log"
	"os"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// DiskWriterDriver renders a song offline: it pulls process cycles in
// a tight loop and encodes the result as a 16 bit WAV file. A retry
// code repeats the cycle instead of dropping a buffer.
type DiskWriterDriver struct {
	sampleRate int
	callback   ProcessCallback
	path       string
	outL       []float32
	outR       []float32
	recorded   [][2]float64
}

func NewDiskWriterDriver(sampleRate int, path string, callback ProcessCallback) *DiskWriterDriver {
	return &DiskWriterDriver{sampleRate: sampleRate, path: path, callback: callback}
}

func (d *DiskWriterDriver) Init(bufferSize int) error {
	d.outL = make([]float32, bufferSize)
	d.outR = make([]float32, bufferSize)
	return nil
}

func (d *DiskWriterDriver) Connect() error { return nil }
func (d *DiskWriterDriver) Disconnect()     {}
func (d *DiskWriterDriver) SampleRate() int { return d.sampleRate }
func (d *DiskWriterDriver) BufferSize() int { return len(d.outL) }
func (d *DiskWriterDriver) OutL() []float32 { return d.outL }
func (d *DiskWriterDriver) OutR() []float32 { return d.outR }

// Run pulls process cycles until the engine signals termination, then
// writes the WAV file.
func (d *DiskWriterDriver) Run() error {
	frames := len(d.outL)
	if frames == 0 {
		return fmt.Errorf("disk writer not initialized")
	}
	for {
		code := d.callback(frames)
		if code == ProcessRetry {
			continue
		}
		for i := 0; i < frames; i++ {
			d.recorded = append(d.recorded, [2]float64{float64(d.outL[i]), float64(d.outR[i])})
		}
		if code == ProcessTerminate {
			break
		}
	}
	return d.flush()
}

func (d *DiskWriterDriver) flush() error {
	f, err := os.Create(d.path)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("error while closing %s: %v", d.path, err)
		}
	}()
	format := beep.Format{
		SampleRate:  beep.SampleRate(d.sampleRate),
		NumChannels: 2,
		Precision:   2,
	}
	return wav.Encode(f, &bufferStreamer{samples: d.recorded}, format)
}

// bufferStreamer replays recorded samples as a beep.Streamer.
type bufferStreamer struct {
	samples [][2]float64
	pos     int
}

func (b *bufferStreamer) Stream(samples [][2]float64) (int, bool) {
	if b.pos >= len(b.samples) {
		return 0, false
	}
	n := copy(samples, b.samples[b.pos:])
	b.pos += n
	return n, true
}

func (b *bufferStreamer) Err() error { return nil }
