package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundbench/drum-machine/src/driver"
	"github.com/soundbench/drum-machine/src/engine"
	"github.com/soundbench/drum-machine/src/sampler"
	"github.com/soundbench/drum-machine/src/song"
)

const sockFileName = "/tmp/drum-machine.sock"

var (
	driverName = flag.String("driver", "oto", "audio driver (oto, null)")
	kitDir     = flag.String("kit", "", "directory of drumkit WAV samples")
	renderPath = flag.String("render", "", "render the song offline to a WAV file and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Lshortfile)
	log.Printf("NumCPU: %v\n", runtime.NumCPU())

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if *renderPath != "" {
		if err := renderOffline(*renderPath, *kitDir); err != nil {
			log.Fatalf("error: %v\n", err)
		}
		return
	}

	eng := engine.New(nil)
	if err := eng.StartAudioDrivers([]string{*driverName}, nil, driver.NewRtMidiOutput()); err != nil {
		log.Fatalf("error: %v\n", err)
	}
	defer eng.StopAudioDrivers()

	eng.SetSong(demoSong(*kitDir))

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(signalCh)
		cancel()
	}()
	go func() {
		sig := <-signalCh
		log.Printf("Caught signal %s: shutting down...\n", sig)
		cancel()
	}()
	err := withIPCConnection(ctx, func(conn net.Conn) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return startAudio(ctx, eng)
		})
		g.Go(func() error {
			return receiveCommands(ctx, conn, eng)
		})
		g.Go(func() error {
			return sendReports(ctx, conn, eng)
		})
		g.Go(func() error {
			pumpMidiIn(ctx, eng)
			return nil
		})
		return g.Wait()
	})
	if err != nil {
		log.Fatalf("error: %v\n", err)
	}
	log.Println("main() ended.")
}

// renderOffline pulls the whole song through the disk writer; the end
// of the song terminates the pull loop.
func renderOffline(path, kitDir string) error {
	eng := engine.New(nil)
	var disk *driver.DiskWriterDriver
	factory := func(name string, callback driver.ProcessCallback) (driver.AudioOutput, error) {
		disk = driver.NewDiskWriterDriver(48000, path, callback)
		return disk, nil
	}
	if err := eng.StartAudioDrivers([]string{"disk"}, factory, nil); err != nil {
		return err
	}
	defer eng.StopAudioDrivers()

	eng.SetSong(demoSong(kitDir))
	eng.Play()
	log.Printf("rendering to %s...\n", path)
	return disk.Run()
}

func startAudio(ctx context.Context, eng *engine.Engine) error {
	if oto, ok := eng.AudioDriver().(*driver.OtoDriver); ok {
		return oto.Start(ctx)
	}
	<-ctx.Done()
	return nil
}

func pumpMidiIn(ctx context.Context, eng *engine.Engine) {
	for data := range driver.ListenToMidiIn(ctx) {
		eng.HandleMidiMessage(data)
	}
}

func withIPCConnection(ctx context.Context, f func(net.Conn) error) error {
	os.Remove(sockFileName)
	listener, err := new(net.ListenConfig).Listen(ctx, "unix", sockFileName)
	if err != nil {
		return err
	}
	defer func() {
		log.Println("Closing IPC...")
		err := listener.Close()
		if err != nil {
			log.Printf("error while closing listener: %v", err)
		}
		os.Remove(sockFileName)
	}()
	log.Printf("start listening...\n")
	conn, err := listener.Accept()
	if err != nil {
		return err
	}
	defer func() {
		err := conn.Close()
		if err != nil {
			log.Printf("error while closing connection: %v", err)
		}
	}()
	return f(conn)
}

func receiveCommands(ctx context.Context, conn net.Conn, eng *engine.Engine) error {
	reader := bufio.NewReader(conn)
	var line []byte
loop:
	for {
		select {
		case <-ctx.Done():
			log.Println("Connection interrupted")
			break loop
		default:
		}
		next, isPrefix, err := reader.ReadLine()
		if err == io.EOF {
			break loop
		}
		if err != nil {
			return err
		}
		line = append(line, next...)
		if isPrefix {
			continue
		}
		command, err := parseCommand(string(line))
		if err != nil {
			return err
		}
		if err := handleCommand(eng, command); err != nil {
			log.Printf("command failed: %v\n", err)
		}
		log.Printf("received: %s\n", string(line))
		line = []byte{}
	}
	log.Println("receiveCommands() ended.")
	return nil
}

func parseCommand(line string) ([]string, error) {
	lineStr := strings.Split(line, " ")
	for i, item := range lineStr {
		escaped, err := url.QueryUnescape(item)
		if err != nil {
			return nil, err
		}
		lineStr[i] = escaped
	}
	return lineStr, nil
}

func handleCommand(eng *engine.Engine, command []string) error {
	if len(command) == 0 {
		return nil
	}
	switch command[0] {
	case "play":
		eng.Play()
	case "stop":
		eng.Stop()
	case "bpm":
		if len(command) < 2 {
			return fmt.Errorf("bpm requires a value")
		}
		value, err := strconv.ParseFloat(command[1], 64)
		if err != nil {
			return err
		}
		eng.SetNextBpm(value)
	case "locate":
		if len(command) < 2 {
			return fmt.Errorf("locate requires a tick")
		}
		value, err := strconv.ParseFloat(command[1], 64)
		if err != nil {
			return err
		}
		eng.Locate(value)
	case "mode":
		if len(command) < 2 {
			return fmt.Errorf("mode requires song|pattern")
		}
		eng.Lock()
		s := eng.Song()
		if s != nil {
			if command[1] == "pattern" {
				s.Mode = song.ModePattern
			} else {
				s.Mode = song.ModeSong
			}
		}
		eng.Unlock()
	case "select":
		if len(command) < 2 {
			return fmt.Errorf("select requires a pattern number")
		}
		value, err := strconv.ParseInt(command[1], 10, 32)
		if err != nil {
			return err
		}
		eng.SetSelectedPatternNumber(int(value))
	case "toggle":
		if len(command) < 2 {
			return fmt.Errorf("toggle requires a pattern number")
		}
		value, err := strconv.ParseInt(command[1], 10, 32)
		if err != nil {
			return err
		}
		eng.ToggleNextPattern(int(value))
	case "metronome":
		if len(command) < 2 {
			return fmt.Errorf("metronome requires on|off")
		}
		eng.SetMetronome(command[1] == "on", 0.5)
	case "note_on":
		if len(command) < 2 {
			return fmt.Errorf("note_on requires a note number")
		}
		note, err := strconv.ParseInt(command[1], 10, 32)
		if err != nil {
			return err
		}
		eng.HandleMidiMessage([]byte{0x90, byte(note), 100})
	case "note_off":
		if len(command) < 2 {
			return fmt.Errorf("note_off requires a note number")
		}
		note, err := strconv.ParseInt(command[1], 10, 32)
		if err != nil {
			return err
		}
		eng.HandleMidiMessage([]byte{0x80, byte(note), 0})
	default:
		return fmt.Errorf("unknown command %v", command[0])
	}
	return nil
}

func sendReports(ctx context.Context, conn net.Conn, eng *engine.Engine) error {
	t := time.NewTicker(time.Second / 30)
	defer t.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			log.Println("sendReports() interrupted")
			break loop
		case ev := <-eng.Events().Channel():
			conn.Write([]byte(fmt.Sprintf("event %d %d\n", int(ev.Kind), ev.Value)))
		case <-t.C:
			eng.Lock()
			pos := eng.Transport()
			s := fmt.Sprintf("transport %d %s %d %d %.2f",
				int(eng.State()), strconv.FormatFloat(pos.Tick(), 'f', 2, 64),
				pos.Column(), pos.PatternTickPosition(), pos.Bpm())
			eng.Unlock()
			select {
			case <-ctx.Done():
				log.Println("sendReports() interrupted")
				break loop
			default:
				conn.Write([]byte(s + "\n"))
			}
		}
	}
	log.Println("sendReports() ended.")
	return nil
}

// demoSong builds a four-on-the-floor starter song, loading samples
// from the kit directory when given and synthesized clicks otherwise.
func demoSong(kitDir string) *song.Song {
	s := song.New("demo", 120)

	kick := song.NewInstrument(0, "kick")
	snare := song.NewInstrument(1, "snare")
	hihat := song.NewInstrument(2, "hihat")
	for _, in := range []*song.Instrument{kick, snare, hihat} {
		if kitDir != "" {
			sample, err := sampler.LoadSample(kitDir + "/" + in.Name + ".wav")
			if err != nil {
				log.Printf("failed to load sample for %s: %v\n", in.Name, err)
			} else {
				in.Sample = sample
			}
		}
		if in.Sample == nil {
			in.Sample = sampler.ClickSample(48000)
		}
		s.Instruments.Add(in)
	}

	p := song.NewPattern("intro", song.MaxNotes)
	for tick := int64(0); tick < song.MaxNotes; tick += 48 {
		p.AddNote(song.NewNote(kick, tick, 0.9, 0, 0))
	}
	p.AddNote(song.NewNote(snare, 48, 0.8, 0, 0))
	p.AddNote(song.NewNote(snare, 144, 0.8, 0, 0))
	for tick := int64(24); tick < song.MaxNotes; tick += 24 {
		p.AddNote(song.NewNote(hihat, tick, 0.5, 0.2, 0))
	}
	s.PatternList.Add(p)
	s.PatternGroupVector = append(s.PatternGroupVector, song.NewPatternList(p))

	return s
}
