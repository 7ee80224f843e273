// Command midi-daw-server owns the MIDI ports. Performance programs and
// the grid talk to it over a Unix socket: /midi, /tempo, /new-dev, /rest
// and the /message-bus websocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register MIDI driver
	"go.uber.org/zap"

	"midi-daw/backend"
	"midi-daw/config"
	"midi-daw/debug"
	"midi-daw/eventbus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "midi-daw-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	socket := cfg.Backend.Socket
	if len(os.Args) > 1 {
		socket = os.Args[1]
	}

	log, err := debug.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	local := backend.NewLocal(backend.WithLocalLogger(log.Named("local")))
	defer local.Close()
	if err := local.SetTempo(ctx, cfg.Tempo); err != nil {
		return err
	}

	hub := eventbus.NewHub(log.Named("bus"))
	srv := backend.NewServer(local,
		backend.WithServerLogger(log.Named("server")),
		backend.WithBus(hub))

	devs, err := local.Devices(ctx)
	if err != nil {
		log.Warn("listing devices", zap.Error(err))
	}
	log.Info("listening", zap.String("socket", socket), zap.Strings("devices", devs))

	if err := srv.ListenAndServe(ctx, socket); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("shut down", zap.Int("bus_clients", hub.Connections()))
	return nil
}
