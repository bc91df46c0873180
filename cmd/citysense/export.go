package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abelbrown/citysense/internal/fact"
)

// dump is the export wire format: the full append-only fact history
// plus whatever alerts are active at export time.
type dump struct {
	ExportedAt time.Time    `json:"exported_at"`
	Facts      []fact.Fact  `json:"facts"`
	Alerts     []fact.Alert `json:"alerts,omitempty"`
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "", "Output file (default stdout)")
	pretty := fs.Bool("pretty", false, "Indent the JSON")
	fs.Parse(os.Args[1:])

	st := openStore()
	defer st.Close()

	facts, err := st.Snapshot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	now := time.Now()
	alerts, err := st.ActiveAlerts("", now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	d := dump{
		ExportedAt: now,
		Facts:      facts,
		Alerts:     alerts,
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(d); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *out != "" {
		fmt.Fprintf(os.Stderr, "wrote %d facts, %d alerts to %s\n", len(d.Facts), len(d.Alerts), *out)
	}
}
