package main

import (
	"log"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/abelbrown/citysense/internal/config"
	"github.com/abelbrown/citysense/internal/coord"
	"github.com/abelbrown/citysense/internal/correlate"
	"github.com/abelbrown/citysense/internal/fact"
	"github.com/abelbrown/citysense/internal/observe"
	"github.com/abelbrown/citysense/internal/otel"
	"github.com/abelbrown/citysense/internal/simulate"
	"github.com/abelbrown/citysense/internal/sink"
)

// dataDir returns ~/.citysense/, creating it if needed.
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("failed to get home directory: %v", err)
	}
	dir := filepath.Join(home, ".citysense")
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}
	return dir
}

// dbPath returns the path to citysense.db.
func dbPath() string {
	return filepath.Join(dataDir(), "citysense.db")
}

// eventLogPath returns the path to citysense.events.jsonl.
func eventLogPath() string {
	return filepath.Join(dataDir(), "citysense.events.jsonl")
}

// decisionLogPath returns the default path for the decision JSONL sink.
func decisionLogPath() string {
	return filepath.Join(dataDir(), "citysense.decisions.jsonl")
}

// openStore opens the fact store or fatals.
func openStore() *fact.Store {
	st, err := fact.Open(dbPath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	return st
}

// loadConfig loads and validates the configuration or fatals.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return cfg
}

// parseDomain maps a flag value onto a known domain or fatals.
func parseDomain(s string) fact.Domain {
	for _, d := range fact.Domains() {
		if string(d) == s {
			return d
		}
	}
	log.Fatalf("unknown domain %q (want one of %v)", s, fact.Domains())
	return ""
}

// loadRules returns the configured rule set, falling back to the
// built-in defaults when no rules file is set.
func loadRules(cfg *config.Config) []correlate.Rule {
	rules, err := cfg.LoadRules()
	if err != nil {
		log.Fatalf("failed to load rules: %v", err)
	}
	if rules == nil {
		rules = correlate.DefaultRules()
	}
	return rules
}

// buildPipeline wires the simulator, observers, engine, sinks and
// coordinator from the configuration. The returned closer flushes the
// JSONL decision sink; call it after the coordinator stops.
func buildPipeline(cfg *config.Config, st *fact.Store, events *otel.Logger) (*coord.Coordinator, func()) {
	gen := simulate.New(simulate.Config{
		Seed:          cfg.Simulator.Seed,
		MalformedRate: cfg.Simulator.MalformedRate,
		Pace:          rate.Limit(cfg.Simulator.PacePerSec),
		Vehicles:      cfg.Simulator.Vehicles,
	})

	engine, err := correlate.New(st, loadRules(cfg),
		correlate.WithWindow(cfg.Correlate.Window()),
		correlate.WithNeighborhood(simulate.Neighborhood()),
		correlate.WithAlertTTL(cfg.Tick.AlertTTL()),
	)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	var sinks sink.Multi
	closer := func() {}
	if cfg.Sinks.Log {
		sinks = append(sinks, sink.LogSink{})
	}
	if cfg.Sinks.JSONL {
		path := cfg.Sinks.JSONLPath
		if path == "" {
			path = decisionLogPath()
		}
		js, err := sink.NewJSONL(path)
		if err != nil {
			log.Fatalf("failed to open decision sink: %v", err)
		}
		sinks = append(sinks, js)
		closer = func() { js.Close() }
	}

	c := coord.New(st, gen, observe.All(), engine, sinks,
		coord.WithInterval(cfg.Tick.Interval()),
		coord.WithObserverDeadline(cfg.Tick.ObserverDeadline()),
		coord.WithAlertTTL(cfg.Tick.AlertTTL()),
		coord.WithEvents(events),
	)
	return c, closer
}

// truncate shortens a string to max runes, appending "..." if truncated.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
