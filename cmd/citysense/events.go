package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// eventRecord mirrors otel.Event for JSON decoding. Decoding from JSONL
// instead of importing otel keeps this subcommand usable across event
// schema revisions.
type eventRecord struct {
	Time      time.Time      `json:"t"`
	Level     string         `json:"level"`
	Kind      string         `json:"kind"`
	Comp      string         `json:"comp"`
	SessionID string         `json:"session_id"`
	Tick      int64          `json:"tick"`
	Domain    string         `json:"domain"`
	Phase     string         `json:"phase"`
	Entity    string         `json:"entity"`
	DurMs     float64        `json:"dur_ms"`
	Count     int            `json:"count"`
	Err       string         `json:"err"`
	Msg       string         `json:"msg"`
	Extra     map[string]any `json:"extra"`
}

// levelOrder ranks severities for min-level filtering. Unknown levels
// rank lowest so they are never filtered out by accident.
var levelOrder = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// eventFilter holds the parsed filter flags. The zero value keeps
// everything.
type eventFilter struct {
	kindPrefix string
	minLevel   string
	comp       string
	tick       int64
	domain     string
}

func (f eventFilter) keep(ev eventRecord) bool {
	if f.kindPrefix != "" && !strings.HasPrefix(ev.Kind, f.kindPrefix) {
		return false
	}
	if f.minLevel != "" && levelOrder[ev.Level] < levelOrder[f.minLevel] {
		return false
	}
	if f.comp != "" && ev.Comp != f.comp {
		return false
	}
	if f.tick != 0 && ev.Tick != f.tick {
		return false
	}
	if f.domain != "" && ev.Domain != f.domain {
		return false
	}
	return true
}

func runEvents() {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	tail := fs.Int("tail", 50, "Number of recent lines to show")
	follow := fs.Bool("f", false, "Follow mode (like tail -f)")
	kind := fs.String("kind", "", "Filter by event kind prefix (e.g. 'tick')")
	level := fs.String("level", "", "Minimum level: debug, info, warn, error")
	comp := fs.String("comp", "", "Filter by component name")
	tick := fs.Int64("tick", 0, "Filter by tick number")
	domain := fs.String("domain", "", "Filter by domain")
	rawJSON := fs.Bool("json", false, "Output raw JSON lines")
	fs.Parse(os.Args[1:])

	logPath := eventLogPath()
	f, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		fmt.Fprintf(os.Stderr, "  Event log not found at %s\n", logPath)
		fmt.Fprintf(os.Stderr, "  Run 'citysense run' first to generate events.\n")
		os.Exit(1)
	}
	defer f.Close()

	filt := eventFilter{
		kindPrefix: *kind,
		minLevel:   *level,
		comp:       *comp,
		tick:       *tick,
		domain:     *domain,
	}

	show := func(ev eventRecord, raw []byte) {
		if *rawJSON {
			fmt.Println(string(raw))
			return
		}
		fmt.Println(formatEvent(ev))
	}

	for _, l := range tailMatches(f, *tail, filt) {
		show(l.ev, l.raw)
	}
	if *follow {
		followEvents(f, filt, show)
	}
}

// formatEvent renders one event as a human-readable line. Optional
// fields append in a fixed order so related events line up.
func formatEvent(ev eventRecord) string {
	lvl := strings.ToUpper(ev.Level)
	if lvl == "" {
		lvl = "?"
	}
	parts := []string{fmt.Sprintf("%s %-5s [%-7s] %-18s",
		ev.Time.Format("15:04:05.000"), lvl, ev.Comp, ev.Kind)}

	if ev.Tick > 0 {
		parts = append(parts, fmt.Sprintf("tick=%d", ev.Tick))
	}
	if ev.Msg != "" {
		parts = append(parts, ev.Msg)
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.Domain != "" {
		parts = append(parts, "domain="+ev.Domain)
	}
	if ev.Phase != "" {
		parts = append(parts, "phase="+ev.Phase)
	}
	if ev.Entity != "" {
		parts = append(parts, "entity="+ev.Entity)
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}
	return strings.Join(parts, " ")
}

// durPrecision picks decimal places so short phases keep sub-ms detail
// without cluttering long ones.
func durPrecision(ms float64) int {
	switch {
	case ms >= 100:
		return 0
	case ms >= 1:
		return 1
	default:
		return 2
	}
}

type taggedLine struct {
	ev  eventRecord
	raw []byte
}

// tailMatches scans r and keeps the newest n lines that decode and pass
// the filter. A modular ring avoids shifting on every append when the
// log is much longer than n.
func tailMatches(r io.Reader, n int, filt eventFilter) []taggedLine {
	if n < 1 {
		return nil
	}
	sc := bufio.NewScanner(r)
	// Events with large Extra maps can exceed the default token size.
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)

	ring := make([]taggedLine, n)
	seen := 0
	for sc.Scan() {
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(raw, &ev) != nil {
			continue
		}
		if !filt.keep(ev) {
			continue
		}
		// The scanner reuses its buffer, so the kept line is copied.
		kept := make([]byte, len(raw))
		copy(kept, raw)
		ring[seen%n] = taggedLine{ev: ev, raw: kept}
		seen++
	}
	if seen <= n {
		return ring[:seen]
	}
	out := make([]taggedLine, 0, n)
	out = append(out, ring[seen%n:]...)
	out = append(out, ring[:seen%n]...)
	return out
}

// followEvents polls f for appended lines, printing matches until the
// process is interrupted. Assumes f is positioned at the end of the
// already-printed tail.
func followEvents(f *os.File, filt eventFilter, show func(eventRecord, []byte)) {
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return
		}
		for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		if filt.keep(ev) {
			show(ev, line)
		}
	}
}
