package driver

// FakeDriver is a test backend: buffers are pulled by calling Process
// manually instead of from an audio thread.
type FakeDriver struct {
	sampleRate int
	callback   ProcessCallback
	outL       []float32
	outR       []float32
}

func NewFakeDriver(sampleRate int, callback ProcessCallback) *FakeDriver {
	return &FakeDriver{sampleRate: sampleRate, callback: callback}
}

func (d *FakeDriver) Init(bufferSize int) error {
	d.outL = make([]float32, bufferSize)
	d.outR = make([]float32, bufferSize)
	return nil
}

func (d *FakeDriver) Connect() error { return nil }
func (d *FakeDriver) Disconnect()       {}
func (d *FakeDriver) SampleRate() int { return d.sampleRate }
func (d *FakeDriver) BufferSize() int { return len(d.outL) }
func (d *FakeDriver) OutL() []float32 { return d.outL }
func (d *FakeDriver) OutR() []float32 { return d.outR }

// Process runs one callback cycle of the given length and returns the
// engine's status code.
func (d *FakeDriver) Process(frames int) int {
	if frames > len(d.outL) {
		frames = len(d.outL)
	}
	return d.callback(frames)
}
