// Command midi-daw-play is an example performance: a drum loop that
// starts at once and a lead that waits for the sequencer's downbeat, with
// its velocity shaped by an LFO. It needs a running midi-daw-server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"midi-daw/automation"
	"midi-daw/config"
	"midi-daw/daw"
	"midi-daw/debug"
	"midi-daw/midi"
	"midi-daw/musictime"
	"midi-daw/note"
	"midi-daw/voice"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "midi-daw-play: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := debug.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	engine := daw.New(append(daw.FromConfig(cfg), daw.WithLogger(log))...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	drumDev := "drums"
	leadDev := cfg.DefaultTarget.Device
	if len(os.Args) > 2 {
		drumDev, leadDev = os.Args[1], os.Args[2]
	}

	drums, err := engine.PlayOn(ctx, midi.Target{Device: drumDev, Channel: midi.ChannelFromInt(10)}, func(p *voice.Performer) {
		for i := 0; i < 4; i++ {
			p.Note(note.P(36), musictime.En(), 110, false)
			p.Note(note.P(42), musictime.En(), 70, true)
			p.Note(note.P(42), musictime.En(), 70, false)
			if i%2 == 1 {
				p.Note(note.P(38), musictime.En(), 100, false)
			}
			p.Rest(musictime.En())
		}
	}, voice.LoopForever(), voice.Named("drums"))
	if err != nil {
		return err
	}

	lfo, err := engine.Automation(automation.Config{LFO: &automation.LFOConfig{Kind: automation.Sin, Freq: 0.25}})
	if err != nil {
		return err
	}
	riff := note.Notes("C4", "D#4", "G4", "A#4")
	lead, err := engine.PlayOnAutomated(ctx, midi.Target{Device: leadDev, Channel: cfg.DefaultTarget.Channel}, lfo,
		func(p *voice.Performer, v float64) {
			vel := 60 + int(v*60)
			for _, n := range riff {
				if err := p.Note(n, musictime.Sn(), vel, true); err != nil {
					p.Log().Warn("note", zap.Error(err))
					return
				}
			}
			p.Rest(musictime.Qn())
		},
		voice.LoopForever(),
		voice.Named("lead"),
		voice.Setup(func(p *voice.Performer) { p.WaitFor("1") }),
	)
	if err != nil {
		return err
	}

	// a slow filter sweep on the lead, independent of its loop
	sweep, err := engine.Automation(automation.Config{LFO: &automation.LFOConfig{Kind: automation.Triangle, Freq: 0.1}})
	if err != nil {
		return err
	}
	target := lead.Voice().Target()
	cutoff := automation.Start(ctx, sweep, func(v float64) {
		engine.Dispatcher().Send(ctx, target, midi.CC{Controller: 74, Value: v}, false)
	})
	defer cutoff.Stop()

	log.Info("playing", zap.Strings("voices", engine.Running()))
	<-ctx.Done()

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	drums.Stop()
	lead.Stop()
	return engine.Close(closeCtx)
}
