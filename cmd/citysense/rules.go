package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
)

func runRules() {
	fs := flag.NewFlagSet("rules", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Output the rule set as JSON")
	fs.Parse(os.Args[1:])

	cfg := loadConfig()
	rules := loadRules(cfg)

	if *asJSON {
		b, err := json.MarshalIndent(rules, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(b))
		return
	}

	source := "built-in defaults"
	if cfg.Correlate.RulesFile != "" {
		source = cfg.Correlate.RulesFile
	}
	fmt.Printf("%d rules (%s), window %s\n\n", len(rules), source, cfg.Correlate.Window())

	for _, r := range rules {
		domains := make([]string, len(r.RequiredDomains))
		for i, d := range r.RequiredDomains {
			domains[i] = string(d)
		}
		fmt.Printf("%-22s weight %d  -> %s\n", r.Name, r.Weight, r.Action)
		fmt.Printf("  requires %s", strings.Join(domains, "+"))
		if r.TargetDomain != "" {
			fmt.Printf(", targets %s", r.TargetDomain)
		}
		fmt.Println()
		for _, c := range r.Conditions {
			fmt.Printf("  when %s %s %s\n", c.Predicate, c.Op, c.Value.String())
		}
		fmt.Printf("  %s\n\n", truncate(r.Rationale, 70))
	}
}
