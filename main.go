package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register MIDI driver
	"go.uber.org/zap"

	"midi-daw/backend"
	"midi-daw/config"
	"midi-daw/daw"
	"midi-daw/debug"
	"midi-daw/eventbus"
	"midi-daw/midi"
	"midi-daw/sequencer"
	"midi-daw/theme"
	"midi-daw/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// The grid owns the terminal, so logs always go to a file.
	logCfg := cfg.Log
	if logCfg.File == "" {
		logCfg.File = debug.DefaultFile()
	}
	if err := debug.EnableWith(logCfg); err != nil {
		return err
	}
	defer debug.Disable()
	log := debug.Logger()

	opts := append(daw.FromConfig(cfg), daw.WithLogger(log))
	if cfg.UI.LastTempo > 0 {
		opts = append(opts, daw.WithTempo(float64(cfg.UI.LastTempo)))
	}
	if cfg.Backend.Local {
		local := backend.NewLocal(backend.WithLocalLogger(log.Named("local")))
		opts = append(opts, daw.WithTransport(local), daw.WithBus(eventbus.NewLocal()))
	}
	engine := daw.New(opts...)

	dir, err := cfg.SequenceDir()
	if err != nil {
		log.Warn("no sequence directory", zap.Error(err))
	}
	seq := sequencer.NewManager(engine.Dispatcher(),
		sequencer.WithResolver(engine.Resolver()),
		sequencer.WithBus(engine.Bus()),
		sequencer.WithTempo(engine.Tempo),
		sequencer.WithSteps(cfg.Sequencer.Steps),
		sequencer.WithDir(dir),
		sequencer.WithLogger(debug.Named("sequencer")),
	)

	mgrOpts := []midi.ManagerOption{midi.WithManagerLogger(debug.Named("devices"))}
	for _, c := range cfg.AutoConnectControllers() {
		if c.Type == config.ControllerKeyboard {
			mgrOpts = append(mgrOpts, midi.WithKeyboard(c.PortName, c.InputChannel))
		}
	}
	deviceMgr := midi.NewDeviceManager(mgrOpts...)

	palette, err := theme.Load(cfg.UI.Palette)
	if err != nil {
		log.Warn("palette", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go deviceMgr.Run(ctx)
	go seq.Run(ctx)
	go seq.RunLEDs(ctx)

	m := tui.NewModel(seq, engine, deviceMgr, theme.New(palette))
	m.Target = engine.DefaultTarget()
	m.Log = debug.Named("tui")
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = p.Run()

	cancel()
	closeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if cerr := engine.Close(closeCtx); cerr != nil {
		log.Warn("engine close", zap.Error(cerr))
	}

	cfg.UI.LastTempo = int(engine.Tempo())
	if serr := cfg.Save(); serr != nil {
		log.Warn("saving config", zap.Error(serr))
	}
	return err
}
