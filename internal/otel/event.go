// Package otel is the structured event layer for citysense. Pipeline
// components describe what happened as typed Events; a Logger writes
// them to a JSONL file through a non-blocking queue, and an optional
// RingBuffer keeps the newest ones in memory for live inspection.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an observability event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Tick lifecycle
	KindTickStart     EventKind = "tick.start"
	KindTickComplete  EventKind = "tick.complete"
	KindTickCancelled EventKind = "tick.cancelled"

	// Observation
	KindObserveComplete EventKind = "observe.complete"
	KindObserveTimeout  EventKind = "observe.timeout"
	KindRecordSkipped   EventKind = "observe.skipped"

	// Pipeline phases
	KindMergeComplete     EventKind = "merge.complete"
	KindCorrelateComplete EventKind = "correlate.complete"
	KindPublishComplete   EventKind = "publish.complete"
	KindPublishError      EventKind = "publish.error"

	// Store
	KindStoreError EventKind = "store.error"

	// Process lifecycle
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is one observability record, serialized as a single JSONL line.
// Kind is the only field every event sets; the rest are filled as they
// apply. Dur is carried in native form and surfaces as dur_ms in the
// JSON output.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"`       // emitting component: "coord", "observe", "sink", "main"
	SessionID string         `json:"session_id,omitempty"` // random hex, constant for a run
	Tick      int64          `json:"tick,omitempty"`
	Domain    string         `json:"domain,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Entity    string         `json:"entity,omitempty"`
	Dur       time.Duration  `json:"-"`
	DurMs     float64        `json:"dur_ms,omitempty"`
	Count     int            `json:"count,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"` // escape hatch for one-off fields
}

// MarshalJSON converts Dur into the dur_ms field.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Dur > 0 {
		e.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	// The alias type drops this method, so the copy marshals plainly.
	type plain Event
	return json.Marshal(plain(e))
}
