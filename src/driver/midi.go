package driver

import (
	"context"
	"log"

	"gitlab.com/gomidi/midi"
	"gitlab.com/gomidi/rtmididrv"
)

// ListenToMidiIn opens the first MIDI input and forwards raw messages
// until the context is canceled.
func ListenToMidiIn(ctx context.Context) <-chan []byte {
	ch := make(chan []byte, 65536)
	go func() {
		drv, err := rtmididrv.New()
		if err != nil {
			log.Printf("failed to initialize MIDI driver: %v\n", err)
			return
		}
		defer func() {
			err := drv.Close()
			if err != nil {
				log.Printf("failed to close MIDI driver: %v\n", err)
			}
		}()
		ins, err := drv.Ins()
		if err != nil {
			log.Printf("failed to get MIDI IN: %v\n", err)
			return
		}
		log.Printf("MIDI IN: %v\n", ins)

		if len(ins) == 0 {
			log.Println("WARN: MIDI IN not found")
			return
		}
		in := ins[0]
		if err := in.Open(); err != nil {
			log.Printf("failed to open MIDI IN: %v\n", err)
			return
		}
		log.Println("opened " + in.String())
		defer func() {
			err := in.Close()
			if err != nil {
				log.Printf("failed to close MIDI IN: %v\n", err)
			}
		}()
		log.Println("start listening MIDI IN...")
		if err := in.SetListener(func(data []byte, deltaMicroseconds int64) {
			ch <- data
		}); err != nil {
			log.Println("failed to set listener: " + err.Error())
		}
		defer func() {
			log.Println("stop listening MIDI IN...")
			err := in.StopListening()
			if err != nil {
				log.Printf("failed to stop listening: %v\n", err)
			}
		}()
		defer close(ch)
		<-ctx.Done()
	}()
	return ch
}

// RtMidiOutput sends engine MIDI to the first available output port.
type RtMidiOutput struct {
	drv    midi.Driver
	out    midi.Out
	active bool
}

func NewRtMidiOutput() *RtMidiOutput {
	return &RtMidiOutput{}
}

func (m *RtMidiOutput) Open() error {
	drv, err := rtmididrv.New()
	if err != nil {
		return err
	}
	outs, err := drv.Outs()
	if err != nil {
		drv.Close()
		return err
	}
	if len(outs) == 0 {
		log.Println("WARN: MIDI OUT not found")
		drv.Close()
		return nil
	}
	out := outs[0]
	if err := out.Open(); err != nil {
		drv.Close()
		return err
	}
	log.Println("opened " + out.String())
	m.drv = drv
	m.out = out
	m.active = true
	return nil
}

func (m *RtMidiOutput) Close() error {
	m.active = false
	if m.out != nil {
		if err := m.out.Close(); err != nil {
			log.Printf("failed to close MIDI OUT: %v\n", err)
		}
		m.out = nil
	}
	if m.drv != nil {
		err := m.drv.Close()
		m.drv = nil
		return err
	}
	return nil
}

func (m *RtMidiOutput) Active() bool {
	return m.active
}

// AllNotesOff sends CC 123 on every channel.
func (m *RtMidiOutput) AllNotesOff() {
	if !m.active || m.out == nil {
		return
	}
	for ch := byte(0); ch < 16; ch++ {
		if err := m.out.Send([]byte{0xB0 | ch, 123, 0}); err != nil {
			log.Printf("failed to send all-notes-off: %v\n", err)
			return
		}
	}
}
