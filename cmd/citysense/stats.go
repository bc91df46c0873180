package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abelbrown/citysense/internal/fact"
)

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	window := fs.Duration("window", 5*time.Minute, "Recency window for the activity section")
	fs.Parse(os.Args[1:])

	st := openStore()
	defer st.Close()

	facts, entities, err := st.Counts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Facts:     %d\n", facts)
	fmt.Printf("Entities:  %d\n", entities)

	byDomain, err := st.CountByDomain()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nBy domain:")
	for _, d := range fact.Domains() {
		fmt.Printf("  %-16s %d\n", d, byDomain[d])
	}

	now := time.Now()
	fmt.Printf("\nLast %s:\n", *window)
	for _, d := range fact.Domains() {
		recent, err := st.Window(d, now.Add(-*window), now)
		if err != nil {
			continue
		}
		subjects, _ := st.SubjectsInWindow(d, now.Add(-*window), now)
		fmt.Printf("  %-16s %d facts, %d entities\n", d, len(recent), len(subjects))
	}

	fmt.Println("\nActive alerts:")
	total := 0
	for _, d := range fact.Domains() {
		active, err := st.ActiveAlerts(d, now)
		if err != nil {
			continue
		}
		total += len(active)
		fmt.Printf("  %-16s %d\n", d, len(active))
	}
	fmt.Printf("  %-16s %d\n", "total", total)
}
