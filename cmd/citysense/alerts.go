package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/abelbrown/citysense/internal/fact"
)

func runAlerts() {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	domain := fs.String("domain", "", "Filter by domain")
	fs.Parse(os.Args[1:])

	st := openStore()
	defer st.Close()

	var filter fact.Domain
	if *domain != "" {
		filter = parseDomain(*domain)
	}

	now := time.Now()
	alerts, err := st.ActiveAlerts(filter, now)
	if err != nil {
		log.Fatalf("failed to read alerts: %v", err)
	}
	if len(alerts) == 0 {
		fmt.Println("no active alerts")
		return
	}

	for _, a := range alerts {
		fmt.Printf("%-8s %-15s %-8s %-28s expires in %s\n",
			a.Severity, a.Domain, a.Entity.ID, a.Code,
			a.ExpiresAt.Sub(now).Round(time.Second))
		if a.Message != "" {
			fmt.Printf("         %s\n", truncate(a.Message, 70))
		}
	}
	fmt.Printf("\n%d active\n", len(alerts))
}
