// Command detents turns a motor into a knob with virtual detents and relays
// its state to websocket clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/w1xm/detent_knob/actuator"
	"github.com/w1xm/detent_knob/detent"
	"github.com/w1xm/detent_knob/internal/config"
	"github.com/w1xm/detent_knob/internal/modbus"
	"github.com/w1xm/detent_knob/modbusdrive"
	"github.com/w1xm/detent_knob/moteus"
	"github.com/w1xm/detent_knob/moteus/simulator"
	"github.com/w1xm/detent_knob/relay"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

const shutdownTimeout = 2 * time.Second

func main() {
	var flags config.Flags
	flags.Bind(flag.CommandLine)
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := flags.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Log.File != "" {
		logFile := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
		defer logFile.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, logFile))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

type backend struct {
	actuator.Actuator
	io.Closer
	sim *simulator.Simulator
}

func open(cfg config.ActuatorConfig) (*backend, error) {
	switch cfg.Kind {
	case config.KindFdcanusb:
		c, err := moteus.Connect(cfg.Port, cfg.Baud, cfg.ID)
		if err != nil {
			return nil, err
		}
		return &backend{Actuator: c, Closer: c}, nil
	case config.KindModbus:
		c := &modbus.Client{
			Port:     cfg.Port,
			BaudRate: cfg.Baud,
			SlaveId:  cfg.SlaveID,
			Address:  cfg.Address,
			URL:      cfg.URL,
		}
		if err := c.Connect(); err != nil {
			return nil, err
		}
		return &backend{Actuator: modbusdrive.New(c), Closer: c}, nil
	case config.KindSim:
		sim, conn := simulator.New(cfg.ID)
		c := moteus.New(conn, cfg.ID)
		return &backend{Actuator: c, Closer: c, sim: sim}, nil
	}
	return nil, fmt.Errorf("unknown actuator kind %q", cfg.Kind)
}

func run(ctx context.Context, cfg *config.Config) error {
	b, err := open(cfg.Actuator)
	if err != nil {
		return err
	}
	defer b.Close()

	if b.sim != nil {
		// The simulator outlives the loop so the final stop reaches it.
		simCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := b.sim.Run(simCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("simulator: %v", err)
			}
		}()
	}

	settings := relay.NewQueue[detent.Message]()
	states := relay.NewQueue[detent.Snapshot]()
	registry := relay.NewRegistry()
	broadcaster := relay.NewBroadcaster(states, registry)
	server := relay.NewServer(settings, registry, broadcaster)
	loop := detent.NewLoop(b, cfg.Control, settings, states)
	// Publish the full state as soon as the loop is anchored.
	settings.Put(detent.GetState())

	srv := &http.Server{
		Handler:           server.Router(),
		Addr:              cfg.Listen,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(ctx)
	})
	g.Go(func() error {
		return broadcaster.Run(ctx)
	})
	g.Go(func() error {
		log.Printf("listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		registry.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
