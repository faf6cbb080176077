package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"digi-sequence/clock"
	"digi-sequence/midi"
	"digi-sequence/pattern"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	defer gomidi.CloseDriver()

	var err error
	switch os.Args[1] {
	case "list":
		listPorts()
	case "poll":
		pollDevices()
	case "clock":
		err = needArgs(3, func() error { return watchClock(os.Args[2]) })
	case "send":
		err = needArgs(5, func() error { return sendPattern(os.Args[2], os.Args[3], os.Args[4]) })
	case "decode":
		err = needArgs(3, func() error { return decode(os.Args[2]) })
	case "encode":
		err = needArgs(3, func() error { return encode(os.Args[2]) })
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func needArgs(n int, fn func() error) error {
	if len(os.Args) < n {
		usage()
		return nil
	}
	return fn()
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list                          - List all MIDI ports")
	fmt.Println("  poll                          - Watch for device changes")
	fmt.Println("  clock <port>                  - Print the tempo of a port's MIDI clock")
	fmt.Println("  send <port> <channel> <pat>   - Send pattern (e.g. B4) as a program change")
	fmt.Println("  decode <program>              - Program number to pattern name")
	fmt.Println("  encode <pattern>              - Pattern name to program number")
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	type result struct {
		ins  []drivers.In
		outs []drivers.Out
	}
	ch := make(chan result, 1)
	go func() {
		ins := gomidi.GetInPorts()
		outs := gomidi.GetOutPorts()
		ch <- result{ins: ins, outs: outs}
	}()

	select {
	case r := <-ch:
		for i, p := range r.ins {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
		fmt.Println("\n=== MIDI Output Ports ===")
		for i, p := range r.outs {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
	case <-time.After(3 * time.Second):
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
	}
}

func pollDevices() {
	fmt.Println("Watching for device changes. Ctrl+C to exit.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dm := midi.NewDeviceManager()
	go dm.Run(ctx)

	for ev := range dm.Events() {
		kind, state := "output", "connected"
		if ev.Input {
			kind = "input"
		}
		if ev.Type == midi.DeviceDisconnected {
			state = "disconnected"
		}
		fmt.Printf("[%s] %s %s: %s\n", time.Now().Format("15:04:05"), kind, state, ev.ID)
	}
}

func watchClock(port string) error {
	dm := midi.NewDeviceManager()
	dm.Scan()
	in, ok := dm.Input(port)
	if !ok {
		return fmt.Errorf("no input port %q (try: miditest list)", port)
	}

	pulses := make(chan midi.Event, 256)
	sub, err := in.Subscribe(midi.TopicTransport, 1, func(ev midi.Event) {
		select {
		case pulses <- ev:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fmt.Printf("Listening for clock on %s. Ctrl+C to exit.\n", port)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	est := clock.New()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-pulses:
			if ev.Kind != midi.Clock {
				if ev.Kind == midi.Reconnect {
					est.Reset()
				}
				fmt.Printf("  %s\n", ev.Kind)
				continue
			}
			n++
			bpm, ok := est.Ingest(ev.Timestamp)
			if ok && n%clock.PPQ == 0 {
				warm := ""
				if !est.Warm() {
					warm = " (warming up)"
				}
				fmt.Printf("  %6.1f bpm%s\n", bpm, warm)
			}
		}
	}
}

func sendPattern(port, channelArg, name string) error {
	channel, err := strconv.Atoi(channelArg)
	if err != nil {
		return fmt.Errorf("bad channel %q", channelArg)
	}
	p, err := pattern.Parse(name)
	if err != nil {
		return err
	}
	program, err := p.Program()
	if err != nil {
		return err
	}

	dm := midi.NewDeviceManager()
	dm.Scan()
	out, ok := dm.Output(port)
	if !ok {
		return fmt.Errorf("no output port %q (try: miditest list)", port)
	}
	if err := out.SendProgramChange(channel, program); err != nil {
		return err
	}
	fmt.Printf("Sent %s (program %d) to %s on channel %d\n", p, program, port, channel)
	return nil
}

func decode(arg string) error {
	program, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("bad program %q", arg)
	}
	p, err := pattern.Decode(program)
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}

func encode(arg string) error {
	p, err := pattern.Parse(arg)
	if err != nil {
		return err
	}
	program, err := p.Program()
	if err != nil {
		return err
	}
	fmt.Println(program)
	return nil
}
