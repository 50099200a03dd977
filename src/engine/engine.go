package engine

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/soundbench/drum-machine/src/driver"
	"github.com/soundbench/drum-machine/src/sampler"
	"github.com/soundbench/drum-machine/src/song"
)

// ----- Constants ----- //

const (
	// maxTimeHumanize bounds every per-note timing offset, in frames.
	maxTimeHumanize = 2000

	// metronomeDivisor is the tick period of the metronome click.
	metronomeDivisor = 48

	metronomeInstrumentID = -2
)

// Error codes carried by Error events.
const (
	ErrorUnknownDriver = iota
	ErrorStartingDriver
	ErrorTickSizeZero
)

// ----- State ----- //

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StatePrepared
	StateReady
	StatePlaying
	// StateTesting lets the queuing pipeline run without the playback
	// state machine; no code path in this repository enters it.
	StateTesting
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitialized:
		return "Initialized"
	case StatePrepared:
		return "Prepared"
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	case StateTesting:
		return "Testing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ----- Engine ----- //

// Engine is the audio engine core: it owns the transport, queues notes
// ahead of the playhead and dispatches them to the sampler from the
// realtime process callback.
//
// All mutable state is guarded by the engine lock. Exported mutators
// acquire it, while the plain accessors read without locking.
// Lower-case helpers assume it is held, except createAudioDriver and
// addRealtimeNote, which take it themselves.
type Engine struct {
	lock            *engineLock
	outputPointerMu sync.Mutex

	state     State
	nextState State

	song    *song.Song
	sampler *sampler.Sampler
	synth   *sampler.Synth

	audioDriver driver.AudioOutput
	midiOut     driver.MidiOutput

	events *EventQueue

	transportPos *TransportPosition
	queuingPos   *TransportPosition

	songSizeInTicks float64
	realtimeFrame   int64
	nextBpm         float64

	timebaseSlave bool
	masterBpm     float64

	selectedPatternNumber int
	patternEditorLocked   bool

	songNoteQueue noteHeap
	noteSeq       int64
	midiNoteQueue []*song.Note

	lastTickEnd      float64
	lookaheadApplied bool

	processTime    float64 // ms
	maxProcessTime float64 // ms

	masterPeakL float32
	masterPeakR float32

	fx      [maxFX]Effect
	fxPeakL [maxFX]float32
	fxPeakR [maxFX]float32

	metronome       *song.Instrument
	useMetronome    bool
	metronomeVolume float64

	bufferSize int

	rng *rand.Rand
}

// New creates an engine in Initialized state with no drivers attached.
func New(events *EventQueue) *Engine {
	if events == nil {
		events = NewEventQueue(1024)
	}
	metronome := song.NewInstrument(metronomeInstrumentID, "metronome")
	metronome.IsMetronome = true

	e := &Engine{
		lock:            newEngineLock(),
		state:           StateInitialized,
		nextState:       StateReady,
		events:          events,
		transportPos:    newTransportPosition("Transport"),
		queuingPos:      newTransportPosition("Queuing"),
		nextBpm:         120,
		masterBpm:       math.NaN(),
		metronome:       metronome,
		useMetronome:    true,
		metronomeVolume: 0.5,
		bufferSize:      1024,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	return e
}

// ----- Lock ----- //

func (e *Engine) Lock() {
	e.lock.lock()
}

// TryLockFor attempts the engine lock for at most the given duration.
func (e *Engine) TryLockFor(d time.Duration) bool {
	return e.lock.tryLockFor(d)
}

func (e *Engine) Unlock() {
	e.lock.unlock()
}

// ----- Accessors ----- //

func (e *Engine) Sampler() *sampler.Sampler { return e.sampler }
func (e *Engine) Synth() *sampler.Synth { return e.synth }
func (e *Engine) Events() *EventQueue { return e.events }

func (e *Engine) State() State { return e.state }
func (e *Engine) NextState() State { return e.nextState }
func (e *Engine) Transport() *TransportPosition { return e.transportPos }
func (e *Engine) QueuingPos() *TransportPosition { return e.queuingPos }
func (e *Engine) Song() *song.Song { return e.song }
func (e *Engine) AudioDriver() driver.AudioOutput { return e.audioDriver }
func (e *Engine) NextBpm() float64 { return e.nextBpm }
func (e *Engine) RealtimeFrame() int64 { return e.realtimeFrame }
func (e *Engine) MasterPeaks() (float32, float32) { return e.masterPeakL, e.masterPeakR }
func (e *Engine) SongSizeInTicks() float64 { return e.songSizeInTicks }

func (e *Engine) sampleRate() int {
	if e.audioDriver == nil {
		return 0
	}
	return e.audioDriver.SampleRate()
}

// ElapsedTime is the playback time in seconds, compensated for tempo
// induced frame shifts.
func (e *Engine) ElapsedTime() float64 {
	if e.audioDriver == nil || e.audioDriver.SampleRate() == 0 {
		return 0
	}
	return float64(e.transportPos.frame-e.transportPos.frameOffsetTempo) /
		float64(e.audioDriver.SampleRate())
}

// setState transitions the state machine and publishes the change.
// Lock held.
func (e *Engine) setState(s State) {
	e.state = s
	e.events.Push(EventStateChanged, int(s))
}

func (e *Engine) raiseError(code int) {
	e.events.Push(EventError, code)
}

// ----- Playback ----- //

// startPlayback flips Ready to Playing. Lock held.
func (e *Engine) startPlayback() {
	if e.state != StateReady {
		log.Printf("audio engine is not in Ready state but [%s]\n", e.state)
		return
	}
	e.setState(StatePlaying)
	e.handleSelectedPattern()
}

// stopPlayback flips Playing back to Ready. Lock held.
func (e *Engine) stopPlayback() {
	if e.state != StatePlaying {
		log.Printf("audio engine is not in Playing state but [%s]\n", e.state)
		return
	}
	e.setState(StateReady)
}

// Play requests playback to start at the next process cycle. With a
// transport-master driver attached the request is delegated.
func (e *Engine) Play() {
	e.Lock()
	defer e.Unlock()
	if master, ok := e.audioDriver.(TransportStarter); ok {
		master.StartTransport()
		return
	}
	e.nextState = StatePlaying
}

// Stop requests playback to stop at the next process cycle.
func (e *Engine) Stop() {
	e.Lock()
	defer e.Unlock()
	if master, ok := e.audioDriver.(TransportStarter); ok {
		master.StopTransport()
		return
	}
	e.stopTransport()
}

// stopTransport requests a stop without locking; used from the
// process callback.
func (e *Engine) stopTransport() {
	e.nextState = StateReady
}

// TransportStarter is implemented by transport-master drivers that
// start and stop all clients together.
type TransportStarter interface {
	StartTransport()
	StopTransport()
}

// SetNextBpm sets the tempo to apply on the next cycle, clamped into
// the valid range.
func (e *Engine) SetNextBpm(bpm float64) {
	e.Lock()
	defer e.Unlock()
	e.setNextBpm(bpm)
}

func (e *Engine) setNextBpm(bpm float64) {
	if bpm > song.MaxBpm {
		log.Printf("provided bpm %f is too high, assigning upper bound %f instead\n", bpm, float64(song.MaxBpm))
		bpm = song.MaxBpm
	} else if bpm < song.MinBpm {
		log.Printf("provided bpm %f is too low, assigning lower bound %f instead\n", bpm, float64(song.MinBpm))
		bpm = song.MinBpm
	}
	e.nextBpm = bpm
}

// SetTimebaseSlave marks the engine as following an external tempo
// master.
func (e *Engine) SetTimebaseSlave(slave bool) {
	e.Lock()
	defer e.Unlock()
	e.timebaseSlave = slave
}

// SetMasterBpm feeds the tempo broadcast by an external master.
func (e *Engine) SetMasterBpm(bpm float64) {
	e.Lock()
	defer e.Unlock()
	e.masterBpm = bpm
}

// SetMetronome configures the click.
func (e *Engine) SetMetronome(enabled bool, volume float64) {
	e.Lock()
	defer e.Unlock()
	e.useMetronome = enabled
	e.metronomeVolume = volume
}

// SetPatternEditorLocked makes the selected pattern follow transport.
func (e *Engine) SetPatternEditorLocked(locked bool) {
	e.Lock()
	defer e.Unlock()
	e.patternEditorLocked = locked
}

// SetSelectedPatternNumber selects the pattern played in
// selected-pattern mode.
func (e *Engine) SetSelectedPatternNumber(n int) {
	e.Lock()
	defer e.Unlock()
	if e.selectedPatternNumber == n {
		return
	}
	e.selectedPatternNumber = n
	if e.song != nil && e.song.Mode == song.ModePattern &&
		e.song.PatternMode == song.PatternModeSelected {
		e.updatePlayingPatterns()
	}
	e.events.Push(EventSelectedPatternChanged, n)
}

// ----- Song lifecycle ----- //

// SetSong installs the song and readies the transport at tick 0.
func (e *Engine) SetSong(s *song.Song) {
	e.Lock()
	defer e.Unlock()

	log.Printf("set song: %s\n", s.Name)

	if e.state != StatePrepared {
		log.Printf("audio engine is not in Prepared state but [%s]\n", e.state)
	}

	e.song = s
	e.songSizeInTicks = float64(s.LengthInTicks())

	// Resets the transport position; the locate below restores the
	// playing patterns.
	e.setState(StateReady)
	e.reset()

	e.setNextBpm(s.Bpm)
	// Also adapts the engine to the new song's tempo.
	e.locate(0)
}

// RemoveSong stops playback and drops the song.
func (e *Engine) RemoveSong() {
	e.Lock()
	defer e.Unlock()

	if e.state == StatePlaying {
		e.stopTransport()
		e.stopPlayback()
	}

	if e.state != StateReady {
		log.Printf("audio engine is not in Ready state but [%s]\n", e.state)
		return
	}

	e.sampler.StopPlayingNotes()
	e.song = nil
	e.songSizeInTicks = 0
	e.reset()

	e.setState(StatePrepared)
}

// ----- Realtime input ----- //

// NoteOn appends an externally generated note (MIDI in, virtual
// keyboard) to the realtime queue.
func (e *Engine) NoteOn(n *song.Note) {
	e.Lock()
	defer e.Unlock()

	if !(e.state == StatePlaying || e.state == StateReady || e.state == StateTesting) {
		log.Printf("audio engine is not in Ready, Playing or Testing state but [%s]\n", e.state)
		return
	}
	e.midiNoteQueue = append(e.midiNoteQueue, n)
}

// HandleMidiMessage turns a raw MIDI message into realtime input.
// Note numbers map onto the instrument list starting at 36 (GM kick).
func (e *Engine) HandleMidiMessage(data []byte) {
	if len(data) < 3 {
		return
	}
	status := data[0] >> 4
	note := int(data[1])
	velocity := int(data[2])

	switch {
	case status == 9 && velocity > 0:
		e.addRealtimeNote(note, float64(velocity)/127.0, false)
	case status == 8 || (status == 9 && velocity == 0):
		e.addRealtimeNote(note, 0, true)
	}
}

func (e *Engine) addRealtimeNote(midiNote int, velocity float64, noteOff bool) {
	e.Lock()

	if e.song == nil {
		e.Unlock()
		return
	}
	instr := e.song.Instruments.Get(midiNote - 36)
	if instr == nil {
		e.Unlock()
		return
	}

	var position int64
	if e.state == StatePlaying || e.state == StateTesting {
		position = int64(coarseGrainTick(e.transportPos.tick))
	} else {
		position = int64(coarseGrainTick(e.tickFromFrame(e.realtimeFrame)))
	}

	n := song.NewNote(instr, position, velocity, 0, 0)
	n.NoteOff = noteOff
	n.JustRecorded = true

	if !(e.state == StatePlaying || e.state == StateReady || e.state == StateTesting) {
		e.Unlock()
		return
	}
	e.midiNoteQueue = append(e.midiNoteQueue, n)
	e.Unlock()
}

// ----- Drivers ----- //

// DriverFactory builds a named audio backend bound to the process
// callback.
type DriverFactory func(name string, callback driver.ProcessCallback) (driver.AudioOutput, error)

// defaultDriverFactory knows the built-in backends.
func defaultDriverFactory(name string, callback driver.ProcessCallback) (driver.AudioOutput, error) {
	switch name {
	case "oto":
		return driver.NewOtoDriver(48000, callback), nil
	case "null":
		return driver.NewNullDriver(48000), nil
	case "fake":
		return driver.NewFakeDriver(48000, callback), nil
	default:
		return nil, fmt.Errorf("unknown driver [%s]", name)
	}
}

// createAudioDriver builds, initializes and connects one backend.
func (e *Engine) createAudioDriver(name string, factory DriverFactory) (driver.AudioOutput, error) {
	log.Printf("creating driver [%s]\n", name)

	audioDriver, err := factory(name, e.Process)
	if err != nil {
		e.raiseError(ErrorUnknownDriver)
		return nil, err
	}

	if err := audioDriver.Init(e.bufferSize); err != nil {
		return nil, fmt.Errorf("initializing audio driver [%s]: %w", name, err)
	}

	e.Lock()
	e.outputPointerMu.Lock()

	// Some backends require the driver to be registered in the engine
	// while being connected.
	e.audioDriver = audioDriver
	e.sampler.SetBufferSize(e.bufferSize)
	e.synth.SetBufferSize(e.bufferSize)

	if e.song != nil {
		e.setState(StateReady)
	} else {
		e.setState(StatePrepared)
	}

	// Unlocking earlier might run the process callback before the
	// engine is fully initialized.
	e.outputPointerMu.Unlock()
	e.Unlock()

	if err := audioDriver.Connect(); err != nil {
		e.raiseError(ErrorStartingDriver)

		e.Lock()
		e.outputPointerMu.Lock()
		e.audioDriver = nil
		e.outputPointerMu.Unlock()
		e.Unlock()

		return nil, fmt.Errorf("connecting audio driver [%s]: %w", name, err)
	}

	if e.song != nil {
		e.Lock()
		e.handleTimelineChange()
		e.Unlock()
	}

	e.events.Push(EventDriverChanged, 0)

	return audioDriver, nil
}

// StartAudioDrivers acquires the audio and MIDI backends, falling back
// to the null driver when none of the preferred ones start.
func (e *Engine) StartAudioDrivers(preferred []string, factory DriverFactory, midiOut driver.MidiOutput) error {
	if factory == nil {
		factory = defaultDriverFactory
	}

	if e.state != StateInitialized {
		return fmt.Errorf("audio engine is not in Initialized state but [%s]", e.state)
	}
	if e.audioDriver != nil {
		log.Println("the audio driver is still alive")
	}
	if e.midiOut != nil {
		log.Println("the MIDI driver is still active")
	}

	sampleRate := 48000
	e.sampler = sampler.New(sampleRate)
	e.synth = sampler.NewSynth(sampleRate)
	if e.metronome.Sample == nil {
		e.metronome.Sample = sampler.ClickSample(sampleRate)
	}

	for _, name := range preferred {
		d, err := e.createAudioDriver(name, factory)
		if err != nil {
			log.Printf("error while starting driver [%s]: %v\n", name, err)
			continue
		}
		if d != nil {
			break
		}
	}
	if e.audioDriver == nil {
		log.Printf("couldn't start any of %v, falling back to null driver\n", preferred)
		if _, err := e.createAudioDriver("null", factory); err != nil {
			return err
		}
	}

	if midiOut != nil {
		if err := midiOut.Open(); err != nil {
			log.Printf("failed to open MIDI OUT: %v\n", err)
		} else {
			e.Lock()
			e.midiOut = midiOut
			e.Unlock()
		}
	}
	return nil
}

// StopAudioDrivers releases both backends and returns the engine to
// Initialized.
func (e *Engine) StopAudioDrivers() {
	if e.state == StatePlaying {
		e.Lock()
		e.stopTransport()
		e.stopPlayback()
		e.Unlock()
	}

	if e.state != StatePrepared && e.state != StateReady {
		log.Printf("audio engine is not in Prepared or Ready state but [%s]\n", e.state)
		return
	}

	e.Lock()

	e.setState(StateInitialized)

	if e.midiOut != nil {
		if err := e.midiOut.Close(); err != nil {
			log.Printf("failed to close MIDI OUT: %v\n", err)
		}
		e.midiOut = nil
	}

	if e.audioDriver != nil {
		e.audioDriver.Disconnect()
		e.outputPointerMu.Lock()
		e.audioDriver = nil
		e.outputPointerMu.Unlock()
	}

	e.Unlock()
}

// RestartAudioDrivers cycles the backends keeping the current song.
func (e *Engine) RestartAudioDrivers(preferred []string, factory DriverFactory, midiOut driver.MidiOutput) error {
	if e.audioDriver != nil {
		e.StopAudioDrivers()
	}
	return e.StartAudioDrivers(preferred, factory, midiOut)
}
