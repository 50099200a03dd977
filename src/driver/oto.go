package driver

import (
	"context"
	"io"
	"log"

	"github.com/hajimehoshi/oto"
)

const (
	channelNum      = 2
	bitDepthInBytes = 2
)
const bytesPerSample = bitDepthInBytes * channelNum

// OtoDriver pulls buffers from the engine through the oto player. The
// player reads PCM bytes; every Read runs one process cycle and
// converts the engine's float master buffers to int16.
type OtoDriver struct {
	sampleRate int
	callback   ProcessCallback
	otoContext *oto.Context
	ctx        context.Context
	outL       []float32
	outR       []float32
}

var _ io.Reader = (*OtoDriver)(nil)

func NewOtoDriver(sampleRate int, callback ProcessCallback) *OtoDriver {
	return &OtoDriver{
		sampleRate: sampleRate,
		callback:   callback,
		ctx:        context.Background(),
	}
}

func (d *OtoDriver) Init(bufferSize int) error {
	otoContext, err := oto.NewContext(d.sampleRate, channelNum, bitDepthInBytes, bufferSize*bytesPerSample)
	if err != nil {
		return err
	}
	d.otoContext = otoContext
	d.outL = make([]float32, bufferSize)
	d.outR = make([]float32, bufferSize)
	return nil
}

func (d *OtoDriver) Connect() error { return nil }

func (d *OtoDriver) Disconnect() {
	if d.otoContext != nil {
		if err := d.otoContext.Close(); err != nil {
			log.Printf("error while closing oto context: %v", err)
		}
		d.otoContext = nil
	}
}

func (d *OtoDriver) SampleRate() int { return d.sampleRate }
func (d *OtoDriver) BufferSize() int { return len(d.outL) }
func (d *OtoDriver) OutL() []float32 { return d.outL }
func (d *OtoDriver) OutR() []float32 { return d.outR }

func (d *OtoDriver) Read(buf []byte) (int, error) {
	select {
	case <-d.ctx.Done():
		log.Println("Read() interrupted.")
		return 0, io.EOF
	default:
		frames := len(buf) / bytesPerSample
		if frames > len(d.outL) {
			frames = len(d.outL)
		}
		for {
			code := d.callback(frames)
			if code == ProcessRetry {
				continue
			}
			if code == ProcessTerminate {
				return 0, io.EOF
			}
			break
		}
		writeBuffer(d.outL, buf, frames, 0)
		writeBuffer(d.outR, buf, frames, 1)
		return frames * bytesPerSample, nil
	}
}

func writeBuffer(out []float32, buf []byte, frames int, ch int) {
	const max = 32767
	for i := 0; i < frames; i++ {
		v := out[i]
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		b := int16(v * max)
		buf[bytesPerSample*i+2*ch] = byte(b)
		buf[bytesPerSample*i+2*ch+1] = byte(b >> 8)
	}
}

// Start blocks, feeding the oto player until the context is canceled.
func (d *OtoDriver) Start(ctx context.Context) error {
	p := d.otoContext.NewPlayer()
	defer func() {
		if err := p.Close(); err != nil {
			log.Printf("error: %v", err)
		}
	}()
	d.ctx = ctx

	if _, err := io.CopyBuffer(p, d, make([]byte, len(d.outL)*bytesPerSample)); err != nil {
		return err
	}
	log.Println("Start() ended.")
	return nil
}
