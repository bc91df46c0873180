package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abelbrown/citysense/internal/logging"
	"github.com/abelbrown/citysense/internal/otel"
)

func runRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	interval := fs.Duration("interval", 0, "Tick interval override (e.g. 5s)")
	seed := fs.Int64("seed", 0, "Simulator seed override")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(os.Args[1:])

	cfg := loadConfig()
	if *interval > 0 {
		cfg.Tick.IntervalSec = int(*interval / time.Second)
		if cfg.Tick.IntervalSec < 1 {
			cfg.Tick.IntervalSec = 1
		}
	}
	if *seed != 0 {
		cfg.Simulator.Seed = *seed
	}

	if err := logging.Init(*debug); err != nil {
		log.Fatalf("failed to init logging: %v", err)
	}
	defer logging.Close()

	st := openStore()
	defer st.Close()

	evFile, err := os.OpenFile(eventLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("failed to open event log: %v", err)
	}
	defer evFile.Close()
	events := otel.NewLogger(evFile)
	defer events.Close()
	events.Info(otel.KindStartup, "main", "citysense starting")

	coordinator, closeSinks := buildPipeline(cfg, st, events)
	defer closeSinks()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("citysense running: interval=%s deadline=%s seed=%d\n",
		cfg.Tick.Interval(), cfg.Tick.ObserverDeadline(), cfg.Simulator.Seed)
	fmt.Println("press Ctrl-C to stop")

	coordinator.Start(ctx)
	<-ctx.Done()
	coordinator.Wait()

	events.Info(otel.KindShutdown, "main", "citysense stopping")
	fmt.Printf("\nstopped after %d ticks\n", coordinator.Ticks())
}
