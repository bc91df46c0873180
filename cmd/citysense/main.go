// Command citysense runs the city observation pipeline and its
// debugging tools.
//
// Usage:
//
//	citysense                  Show help
//	citysense run              Run the pipeline (simulated feeds, periodic ticks)
//	citysense tick             Execute single ticks and print summaries
//	citysense facts            Query the fact store
//	citysense alerts           List active alerts
//	citysense stats            Store statistics
//	citysense export           Dump a snapshot of the store as JSON
//	citysense rules            Show the correlation rule set
//	citysense config           Show or write the configuration
//	citysense events           JSONL event log viewer
package main

import (
	"fmt"
	"os"
)

const usage = `citysense — cross-domain city observation pipeline

Usage:
  citysense <command> [flags]

Commands:
  run         Run the pipeline: simulated feeds, periodic ticks
  tick        Execute one or more ticks immediately and print summaries
  facts       Query the fact store (latest view or recency window)
  alerts      List active alerts
  stats       Fact and alert statistics by domain
  export      Dump a full snapshot of the store as JSON
  rules       Show the correlation rule set in effect
  config      Show the effective configuration, or write it to disk
  events      JSONL event log viewer

Environment:
  CITYSENSE_TRACE   Set to 1/true for per-observer trace events

Run 'citysense <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	cmd := os.Args[1]
	// Strip the program name + subcommand so flag sets see only their flags
	os.Args = os.Args[1:]

	switch cmd {
	case "run":
		runRun()
	case "tick":
		runTick()
	case "facts":
		runFacts()
	case "alerts":
		runAlerts()
	case "stats":
		runStats()
	case "export":
		runExport()
	case "rules":
		runRules()
	case "config":
		runConfig()
	case "events":
		runEvents()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "citysense: unknown command %q\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
}
