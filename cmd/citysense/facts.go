package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

func runFacts() {
	fs := flag.NewFlagSet("facts", flag.ExitOnError)
	entity := fs.String("entity", "", "Entity ID (with -predicate: show the latest fact)")
	predicate := fs.String("predicate", "", "Predicate name")
	domain := fs.String("domain", "", "List facts for one domain")
	window := fs.Duration("window", 5*time.Minute, "Recency window for -domain listings")
	fs.Parse(os.Args[1:])

	st := openStore()
	defer st.Close()

	switch {
	case *entity != "" && *predicate != "":
		f, err := st.Latest(*entity, *predicate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if f == nil {
			fmt.Printf("no fact for (%s, %s)\n", *entity, *predicate)
			return
		}
		fmt.Printf("%s  %s %s = %s  [%s via %s]\n",
			f.Timestamp.Format(time.RFC3339), f.Subject.ID, f.Predicate,
			f.Object.String(), f.Domain, f.Source)

	case *domain != "":
		now := time.Now()
		facts, err := st.Window(parseDomain(*domain), now.Add(-*window), now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		for _, f := range facts {
			fmt.Printf("%s  %-8s %-22s %s\n",
				f.Timestamp.Format("15:04:05"), f.Subject.ID, f.Predicate,
				truncate(f.Object.String(), 40))
		}
		fmt.Printf("\n%d facts in the last %s\n", len(facts), *window)

	default:
		fmt.Fprintln(os.Stderr, "usage: citysense facts -entity HWY1 -predicate congestionLevel")
		fmt.Fprintln(os.Stderr, "       citysense facts -domain traffic [-window 10m]")
		os.Exit(2)
	}
}
