package driver

// NullDriver satisfies AudioOutput without producing sound. It is the
// fallback when no real backend can be started.
type NullDriver struct {
	sampleRate int
	outL       []float32
	outR       []float32
}

func NewNullDriver(sampleRate int) *NullDriver {
	return &NullDriver{sampleRate: sampleRate}
}

func (d *NullDriver) Init(bufferSize int) error {
	d.outL = make([]float32, bufferSize)
	d.outR = make([]float32, bufferSize)
	return nil
}

func (d *NullDriver) Connect() error { return nil }
func (d *NullDriver) Disconnect()       {}
func (d *NullDriver) SampleRate() int { return d.sampleRate }
func (d *NullDriver) BufferSize() int { return len(d.outL) }
func (d *NullDriver) OutL() []float32 { return d.outL }
func (d *NullDriver) OutR() []float32 { return d.outR }
