// Command midi-daw-ports inspects the MIDI ports and controllers midi-daw
// can see.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register MIDI driver
	"go.uber.org/zap"

	"midi-daw/debug"
	"midi-daw/midi"
	"midi-daw/theme"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	// MIDI_DAW_DEBUG=1 mirrors events into ~/.config/midi-daw/debug.log.
	if os.Getenv("MIDI_DAW_DEBUG") != "" {
		if err := debug.Enable(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		defer debug.Disable()
	}
	log := debug.Named("ports")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "list":
		err = listPorts()
	case "watch":
		watch(ctx, log)
	case "leds":
		err = sweep(ctx, log)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: midi-daw-ports <command>")
	fmt.Println()
	fmt.Println("  list    list MIDI input and output ports")
	fmt.Println("  watch   print controller hot-plug, pad and note events")
	fmt.Println("  leds    sweep the palette across a Launchpad")
}

// listPorts gives up after 3s; a wedged CoreMIDI never returns.
func listPorts() error {
	type result struct {
		ins  []drivers.In
		outs []drivers.Out
	}
	ch := make(chan result, 1)
	go func() {
		ch <- result{gomidi.GetInPorts(), gomidi.GetOutPorts()}
	}()

	select {
	case r := <-ch:
		fmt.Println("inputs:")
		for i, p := range r.ins {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
		fmt.Println("outputs:")
		for i, p := range r.outs {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
		return nil
	case <-time.After(3 * time.Second):
		return fmt.Errorf("port scan timed out (try: sudo killall coreaudiod midiserver)")
	}
}

func watch(ctx context.Context, log *zap.Logger) {
	dm := midi.NewDeviceManager(midi.WithManagerLogger(log), midi.WithPollRate(500*time.Millisecond))
	go dm.Run(ctx)

	fmt.Println("watching controllers, ctrl+c to exit")
	for ev := range dm.Events() {
		switch ev.Type {
		case midi.DeviceConnected:
			fmt.Printf("[%s] + %s (%s)\n", time.Now().Format("15:04:05"), ev.ID, ev.Controller.Type())
			go echo(ev.Controller)
		case midi.DeviceDisconnected:
			fmt.Printf("[%s] - %s\n", time.Now().Format("15:04:05"), ev.ID)
		}
	}
}

func echo(c midi.Controller) {
	pads, notes := c.PadEvents(), c.NoteEvents()
	for pads != nil || notes != nil {
		select {
		case p, ok := <-pads:
			if !ok {
				pads = nil
				continue
			}
			fmt.Printf("  %s pad row=%d col=%d vel=%d\n", c.ID(), p.Row, p.Col, p.Velocity)
			debug.Log("pads", "%s %d,%d vel=%d", c.ID(), p.Row, p.Col, p.Velocity)
		case n, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			fmt.Printf("  %s note %d vel=%d ch=%d\n", c.ID(), n.Note, n.Velocity, n.Channel)
		}
	}
}

// sweep waits for a Launchpad and lights it with the plasma palette, one
// diagonal band at a time.
func sweep(ctx context.Context, log *zap.Logger) error {
	dm := midi.NewDeviceManager(midi.WithManagerLogger(log))
	go dm.Run(ctx)

	var lp midi.Controller
	for lp == nil {
		select {
		case ev, ok := <-dm.Events():
			if !ok {
				return ctx.Err()
			}
			if ev.Type == midi.DeviceConnected && ev.Controller.Type() == midi.ControllerLaunchpad {
				lp = ev.Controller
			}
		case <-time.After(5 * time.Second):
			return fmt.Errorf("no Launchpad found")
		}
	}

	palette := theme.Plasma()
	for shift := 0; ctx.Err() == nil; shift++ {
		var updates []midi.LEDUpdate
		for row := 0; row < 8; row++ {
			for col := 0; col < 8; col++ {
				c := palette.Index((row + col + shift) % len(palette.Colors))
				updates = append(updates, midi.LEDUpdate{Row: row, Col: col, Color: c})
			}
		}
		if err := lp.SetLEDBatch(updates); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(120 * time.Millisecond):
		}
	}

	var off []midi.LEDUpdate
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			off = append(off, midi.LEDUpdate{Row: row, Col: col})
		}
	}
	return lp.SetLEDBatch(off)
}
