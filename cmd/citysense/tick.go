package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/abelbrown/citysense/internal/coord"
	"github.com/abelbrown/citysense/internal/otel"
)

func runTick() {
	fs := flag.NewFlagSet("tick", flag.ExitOnError)
	n := fs.Int("n", 1, "Number of ticks to run")
	seed := fs.Int64("seed", 0, "Simulator seed override")
	showEvents := fs.Bool("events", false, "Print captured events after the run")
	fs.Parse(os.Args[1:])

	cfg := loadConfig()
	if *seed != 0 {
		cfg.Simulator.Seed = *seed
	}

	st := openStore()
	defer st.Close()

	// Capture events in memory rather than appending to the log file;
	// a debugging tick should leave no trace on disk beyond the store.
	ring := otel.NewRingBuffer(otel.DefaultRingSize)
	events := otel.NewNullLogger()
	events.SetRingBuffer(ring)

	coordinator, closeSinks := buildPipeline(cfg, st, events)
	defer closeSinks()

	ctx := context.Background()
	for i := 0; i < *n; i++ {
		printSummary(coordinator.RunTick(ctx))
	}

	// Flush the async drain before reading the ring.
	events.Close()

	if *showEvents {
		fmt.Println()
		for _, ev := range ring.Snapshot() {
			line := fmt.Sprintf("%s %-5s [%-7s] %s",
				ev.Time.Format("15:04:05.000"), strings.ToUpper(string(ev.Level)), ev.Comp, ev.Kind)
			if ev.Domain != "" {
				line += " domain=" + ev.Domain
			}
			if ev.Msg != "" {
				line += " " + ev.Msg
			}
			fmt.Println(line)
		}
	}

	stats := ring.Stats()
	kinds := make([]string, 0, len(stats))
	for k := range stats {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	fmt.Println()
	for _, k := range kinds {
		fmt.Printf("  %-20s %d\n", k, stats[otel.EventKind(k)])
	}
}

func printSummary(sum coord.TickSummary) {
	if sum.Cancelled {
		fmt.Printf("tick %d cancelled after %s\n", sum.Tick, sum.Duration)
		return
	}
	fmt.Printf("tick %d: %d records -> %d facts (%d dup), alerts %d raised / %d refreshed, %d skipped, %d decisions (%s)\n",
		sum.Tick, sum.Records, sum.FactsAppended, sum.DuplicateKeys,
		sum.AlertsRaised, sum.AlertsRefreshed, sum.Skipped, sum.Decisions, sum.Duration)
	if len(sum.TimedOut) > 0 {
		fmt.Printf("  timed out: %s\n", strings.Join(sum.TimedOut, ", "))
	}
	if sum.SinkFailed {
		fmt.Println("  sink failed; see log")
	}
}
